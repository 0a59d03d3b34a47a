package airdrop

import "context"

// Store is the durable home of airdrop records and the user address index.
// Entrant updates are atomic set operations against the record, not full
// rewrites, so concurrent joins cannot clobber each other.
type Store interface {
	ListAirdrops(ctx context.Context) ([]*Airdrop, error)
	// InsertAirdrop fails with ErrDuplicate if the id already exists.
	InsertAirdrop(ctx context.Context, a *Airdrop) error
	// DeleteAirdrop is a no-op if the record is already gone.
	DeleteAirdrop(ctx context.Context, id string) error
	AddEntrant(ctx context.Context, id, userID string) error
	RemoveEntrant(ctx context.Context, id, userID string) error
	// MarkEntrantPaid records the payout signature for an entrant so a
	// retried resolution skips them.
	MarkEntrantPaid(ctx context.Context, id, userID, txSig string) error
	// GetUserAddress fails with ErrAddressNotRegistered when the user has
	// never registered a wallet.
	GetUserAddress(ctx context.Context, userID string) (string, error)
	RegisterUser(ctx context.Context, userID, address string) error
}

// Ledger moves funds on the external chain. Amounts are denominated in whole
// tokens (SOL); the implementation owns the conversion to native units.
type Ledger interface {
	// Transfer sends amount to address and returns the transaction signature.
	// Fails with ErrInsufficientFunds when the spending wallet is short.
	Transfer(ctx context.Context, address string, amount float64) (string, error)
	Balance(ctx context.Context, address string) (float64, error)
	ExplorerLink(ref string) string
}

// Notifier is the chat surface the manager reports outcomes to. Calls are
// fire-and-forget: a delivery failure never rolls back or retries the
// underlying transfer.
type Notifier interface {
	EntrantPaid(ctx context.Context, a *Airdrop, res PayoutResult) error
	AirdropResolved(ctx context.Context, a *Airdrop, results []PayoutResult) error
	AirdropCancelled(ctx context.Context, a *Airdrop) error
}

// PayoutStatus classifies the outcome of one entrant's payout attempt.
type PayoutStatus string

const (
	PayoutPaid        PayoutStatus = "paid"
	PayoutFailed      PayoutStatus = "failed"
	PayoutSkipped     PayoutStatus = "skipped"      // no registered address, share forfeited
	PayoutAlreadyPaid PayoutStatus = "already_paid" // settled by an earlier resolution attempt
)

// PayoutResult is one entrant's line in a resolution report.
type PayoutResult struct {
	Ref     string // unique reference for log correlation
	UserID  string
	Address string
	Amount  float64
	TxSig   string
	Status  PayoutStatus
	Err     error
}
