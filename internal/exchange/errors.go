package exchange

import "github.com/pkg/errors"

// Revert reasons. Returned errors wrap one of these so errors.Is matches.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotOwner              = errors.New("caller is not the owner")
	ErrZeroAmount            = errors.New("amount must be greater than zero")
	ErrInvalidAmount         = errors.New("amount must be a non-negative integer")
)
