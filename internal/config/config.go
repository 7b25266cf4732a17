package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. WATCHER_RPC.
const EnvPrefix = "WATCHER"

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Network string
	RPCURL  string
	APIKey  string
	ChainID uint64

	Contracts string
	Contract  string
	// Address bypasses the contracts file and uses the built-in ABI of Contract.
	Address   string
	Event     string
	FromBlock uint64
	// ToBlock is nil for "latest".
	ToBlock *uint64
	Filters []string

	Block       bool
	Transaction bool
	Receipt     bool

	Enabled  bool
	Watch    bool
	Interval time.Duration

	BatchSize    uint64
	Concurrency  int
	MaxRetries   int
	RetryBackoff time.Duration

	Name        string
	Out         string
	PGDSN       string
	RedisAddr   string
	Checkpoint  string
	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("network", "localhost")
	v.SetDefault("contracts", "./deployments.json")
	v.SetDefault("contract", "Vendor")
	v.SetDefault("event", "BuyTokens")
	v.SetDefault("to", "latest")
	v.SetDefault("enabled", true)
	v.SetDefault("interval", 30*time.Second)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("concurrency", 8)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("watcher")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	toBlock, err := parseBlock(v.GetString("to"))
	if err != nil {
		return Config{}, fmt.Errorf("to: %w", err)
	}

	cfg := Config{
		Network:      v.GetString("network"),
		RPCURL:       v.GetString("rpc"),
		APIKey:       v.GetString("api-key"),
		ChainID:      v.GetUint64("chain-id"),
		Contracts:    v.GetString("contracts"),
		Contract:     v.GetString("contract"),
		Address:      v.GetString("address"),
		Event:        v.GetString("event"),
		FromBlock:    v.GetUint64("from"),
		ToBlock:      toBlock,
		Filters:      getStringSlice(v, "filter"),
		Block:        v.GetBool("block"),
		Transaction:  v.GetBool("transaction"),
		Receipt:      v.GetBool("receipt"),
		Enabled:      v.GetBool("enabled"),
		Watch:        v.GetBool("watch"),
		Interval:     v.GetDuration("interval"),
		BatchSize:    v.GetUint64("batch-size"),
		Concurrency:  v.GetInt("concurrency"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		Name:         v.GetString("name"),
		Out:          v.GetString("out"),
		PGDSN:        v.GetString("pg-dsn"),
		RedisAddr:    v.GetString("redis-addr"),
		Checkpoint:   v.GetString("checkpoint"),
		MetricsAddr:  v.GetString("metrics-addr"),
		LogLevel:     v.GetString("log-level"),
	}

	if cfg.Interval <= 0 {
		return Config{}, fmt.Errorf("interval must be positive")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Contract + "." + cfg.Event
	}
	return cfg, nil
}

// parseBlock reads a block number; "latest" and "" mean no bound.
func parseBlock(raw string) (*uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "latest") {
		return nil, nil
	}
	n, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid block %q", raw)
	}
	return &n, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
