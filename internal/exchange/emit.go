package exchange

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// emitEvent encodes an event log the way the EVM would: topic 0 is the event
// ID, each indexed value takes one topic, the rest is ABI-packed into data.
func emitEvent(contract abi.ABI, address common.Address, name string, indexed []interface{}, values ...interface{}) (*types.Log, error) {
	event, ok := contract.Events[name]
	if !ok {
		return nil, errors.Errorf("unknown event %s", name)
	}

	query := make([][]interface{}, len(indexed))
	for i, value := range indexed {
		query[i] = []interface{}{value}
	}
	rules, err := abi.MakeTopics(query...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s topics", name)
	}

	topics := make([]common.Hash, 0, len(indexed)+1)
	topics = append(topics, event.ID)
	for _, rule := range rules {
		topics = append(topics, rule[0])
	}

	data, err := event.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s data", name)
	}

	return &types.Log{Address: address, Topics: topics, Data: data}, nil
}
