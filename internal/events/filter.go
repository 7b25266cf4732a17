package events

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrEventNotFound is returned when the event name does not exist in the ABI.
	ErrEventNotFound = errors.New("event not found")
	// ErrInvalidFilter is returned when a filter names a non-indexed or unknown input.
	ErrInvalidFilter = errors.New("invalid event filter")
)

// LookupEvent returns the ABI event with the given name.
func LookupEvent(contractABI abi.ABI, name string) (abi.Event, error) {
	event, ok := contractABI.Events[name]
	if !ok {
		return abi.Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, name)
	}
	return event, nil
}

// BuildTopics resolves the topic filter for an event. Topic 0 is the event ID;
// each following slot matches one indexed input, with multiple values OR'ed and
// missing values acting as wildcards.
func BuildTopics(event abi.Event, filters map[string][]interface{}) ([][]common.Hash, error) {
	indexed := indexedArguments(event.Inputs)

	for name := range filters {
		if !hasArgument(indexed, name) {
			if hasArgument(event.Inputs, name) {
				return nil, fmt.Errorf("%w: %s.%s is not indexed", ErrInvalidFilter, event.Name, name)
			}
			return nil, fmt.Errorf("%w: %s has no input %s", ErrInvalidFilter, event.Name, name)
		}
	}

	query := make([][]interface{}, len(indexed))
	last := -1
	for i, arg := range indexed {
		if values := filters[arg.Name]; len(values) > 0 {
			query[i] = values
			last = i
		}
	}

	topics := [][]common.Hash{{event.ID}}
	if last < 0 {
		return topics, nil
	}

	rest, err := abi.MakeTopics(query[:last+1]...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return append(topics, rest...), nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func hasArgument(args abi.Arguments, name string) bool {
	for _, arg := range args {
		if arg.Name == name {
			return true
		}
	}
	return false
}
