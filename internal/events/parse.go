package events

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseFilters converts "name=value" pairs into typed filter values for the
// event's indexed inputs. Repeated names are OR'ed.
func ParseFilters(event abi.Event, pairs []string) (map[string][]interface{}, error) {
	filters := make(map[string][]interface{})
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: expected name=value, got %q", ErrInvalidFilter, pair)
		}
		name = strings.TrimSpace(name)

		arg, found := findArgument(event.Inputs, name)
		if !found {
			return nil, fmt.Errorf("%w: %s has no input %s", ErrInvalidFilter, event.Name, name)
		}
		value, err := parseFilterValue(arg, strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, name, err)
		}
		filters[name] = append(filters[name], value)
	}
	return filters, nil
}

func findArgument(args abi.Arguments, name string) (abi.Argument, bool) {
	for _, arg := range args {
		if arg.Name == name {
			return arg, true
		}
	}
	return abi.Argument{}, false
}

func parseFilterValue(arg abi.Argument, raw string) (interface{}, error) {
	switch arg.Type.T {
	case abi.AddressTy:
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid address: %s", raw)
		}
		return common.HexToAddress(raw), nil
	case abi.IntTy, abi.UintTy:
		value, ok := new(big.Int).SetString(raw, 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer: %s", raw)
		}
		return value, nil
	case abi.BoolTy:
		return strconv.ParseBool(raw)
	case abi.FixedBytesTy:
		data, err := hexutil.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bytes: %s", raw)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("bytes length %d", len(data))
		}
		return common.BytesToHash(common.RightPadBytes(data, common.HashLength)), nil
	case abi.StringTy:
		return raw, nil
	case abi.BytesTy:
		data, err := hexutil.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bytes: %s", raw)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported filter type %s", arg.Type.String())
	}
}
