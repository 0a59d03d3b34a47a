package airdrop

import "errors"

var (
	// ErrNotFound is returned when the referenced airdrop does not exist in
	// the open working set, or when a leave references a non-entrant. A record
	// that has begun resolving is no longer open and reports ErrNotFound too.
	ErrNotFound = errors.New("airdrop not found")

	// ErrDuplicate is returned when creating an airdrop whose id already
	// exists. Ids come from chat message identity, so this indicates a caller
	// bug rather than a race.
	ErrDuplicate = errors.New("airdrop already exists")

	// ErrAddressNotRegistered is returned when a user without a registered
	// wallet address tries to join, and by address lookups for such users.
	ErrAddressNotRegistered = errors.New("no wallet address registered")

	// ErrInsufficientFunds is returned by ledger transfers when the spending
	// wallet cannot cover the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotSponsor is returned when someone other than the sponsor tries to
	// cancel an airdrop.
	ErrNotSponsor = errors.New("only the sponsor can cancel")

	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrInvalidDuration = errors.New("duration out of range")
)
