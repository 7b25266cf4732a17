package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/params"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"contractWatch/internal/chain"
	"contractWatch/internal/devchain"
	"contractWatch/internal/events"
	"contractWatch/internal/exchange"
	"contractWatch/internal/model"
	"contractWatch/internal/poll"
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var enrich events.Enrichment
	enrich.Block, _ = cmd.Flags().GetBool("block")
	enrich.Transaction, _ = cmd.Flags().GetBool("transaction")
	enrich.Receipt, _ = cmd.Flags().GetBool("receipt")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev := devchain.New(chain.LocalChainID)
	vendor, err := runScenario(dev, logger)
	if err != nil {
		return err
	}

	vendorABI, err := exchange.VendorABI()
	if err != nil {
		return err
	}
	fetchCfg := events.DefaultConfig()
	fetchCfg.ChainID = chain.LocalChainID
	fetcher := events.NewFetcher(dev, fetchCfg, logger)

	var records []model.LogRecord
	for _, name := range []string{"BuyTokens", "SellTokens"} {
		result, err := fetcher.Fetch(ctx, events.Query{
			Address:   vendor.Address,
			ABI:       vendorABI,
			EventName: name,
			Enrich:    enrich,
		})
		if err != nil {
			return fmt.Errorf("fetch %s: %w", name, err)
		}
		records = append(records, result.Records...)
	}
	records = poll.SortNewestFirst(records)

	logger.Info("simulation complete", zap.Int("records", len(records)))
	return printRecords(cmd.OutOrStdout(), records)
}

// runScenario deploys a token and vendor, then trades through every vendor
// operation including a rejected withdrawal.
func runScenario(dev *devchain.Chain, logger *zap.Logger) (*exchange.Vendor, error) {
	owner, err := dev.NewAccount(ether(100))
	if err != nil {
		return nil, err
	}
	alice, err := dev.NewAccount(ether(100))
	if err != nil {
		return nil, err
	}

	token, err := dev.DeployToken(owner, "Gold", "GLD", ether(1000))
	if err != nil {
		return nil, err
	}
	vendor, err := dev.DeployVendor(owner, token)
	if err != nil {
		return nil, err
	}
	if _, err := dev.TransferToken(token, owner, vendor.Address, ether(1000)); err != nil {
		return nil, fmt.Errorf("fund vendor: %w", err)
	}
	logger.Info("vendor deployed",
		zap.String("token", token.Address.Hex()),
		zap.String("vendor", vendor.Address.Hex()),
		zap.String("owner", owner.Hex()),
	)

	for _, wei := range []*big.Int{ether(1), ether(2)} {
		if _, err := dev.BuyTokens(vendor, alice, wei); err != nil {
			return nil, fmt.Errorf("buy: %w", err)
		}
	}
	if _, err := dev.Approve(token, alice, vendor.Address, ether(200)); err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}
	if _, err := dev.SellTokens(vendor, alice, ether(200)); err != nil {
		return nil, fmt.Errorf("sell: %w", err)
	}
	logger.Info("trades done",
		zap.String("alice_tokens", dev.TokenBalance(token, alice).String()),
		zap.String("alice_wei", dev.BalanceAt(alice).String()),
		zap.String("vendor_wei", dev.BalanceAt(vendor.Address).String()),
	)

	receipt, err := dev.Withdraw(vendor, alice)
	if err == nil {
		return nil, fmt.Errorf("withdraw by non-owner succeeded")
	}
	if receipt == nil {
		return nil, err
	}
	logger.Info("non-owner withdraw reverted",
		zap.Error(err),
		zap.Uint64("status", receipt.Status),
		zap.String("vendor_wei", dev.BalanceAt(vendor.Address).String()),
	)

	if _, err := dev.Withdraw(vendor, owner); err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	logger.Info("owner withdrew",
		zap.String("owner_wei", dev.BalanceAt(owner).String()),
		zap.String("vendor_wei", dev.BalanceAt(vendor.Address).String()),
	)
	return vendor, nil
}
