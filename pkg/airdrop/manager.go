package airdrop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dropzone-labs/dropzone/pkg/metrics"
)

const (
	DefaultTickInterval    = 10 * time.Second
	DefaultPayoutPacing    = 300 * time.Millisecond
	DefaultTransferTimeout = 30 * time.Second

	MinDuration = 15 * time.Second
	MaxDuration = 7 * 24 * time.Hour
)

type ManagerConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Store    Store
	Ledger   Ledger
	Notifier Notifier

	// TickInterval is how often the frame loop runs once started.
	TickInterval time.Duration
	// PayoutPacing is the delay between entrant payouts during resolution,
	// to stay under downstream delivery rate limits. Negative disables it.
	PayoutPacing time.Duration
	// TransferTimeout bounds each individual ledger transfer.
	TransferTimeout time.Duration
}

func (cfg *ManagerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Notifier == nil {
		return errors.New("notifier is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.PayoutPacing == 0 {
		cfg.PayoutPacing = DefaultPayoutPacing
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = DefaultTransferTimeout
	}
	return nil
}

// Manager owns the working set of open airdrops and drives their lifecycle:
// OPEN while accepting entrants, RESOLVING once expiry is observed, removed
// from store and memory when resolution or cancellation completes.
//
// The store is written before memory on every mutation, so a crash between
// the two leaves at most a store record the next reconcile will pick up,
// never a memory-only ghost.
type Manager struct {
	log *slog.Logger
	cfg ManagerConfig

	mu        sync.Mutex
	state     map[string]*Airdrop
	resolving map[string]bool
	// removedAt tombstones ids removed while a store scan may be in flight,
	// so a stale scan result cannot resurrect a cancelled or resolved record.
	removedAt map[string]time.Time

	// frameMu serializes frame ticks; an overlapping tick is skipped rather
	// than queued.
	frameMu sync.Mutex

	readyOnce sync.Once
	readyCh   chan struct{}
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		log:       cfg.Logger,
		cfg:       cfg,
		state:     make(map[string]*Airdrop),
		resolving: make(map[string]bool),
		removedAt: make(map[string]time.Time),
		readyCh:   make(chan struct{}),
	}, nil
}

// Ready reports whether the first reconcile has completed.
func (m *Manager) Ready() bool {
	select {
	case <-m.readyCh:
		return true
	default:
		return false
	}
}

func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for airdrop manager: %w", ctx.Err())
	}
}

// Start runs the frame loop until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		m.log.Info("airdrop: starting frame loop", "interval", m.cfg.TickInterval)

		m.safeFrame(ctx)

		ticker := m.cfg.Clock.NewTicker(m.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				m.safeFrame(ctx)
			}
		}
	}()
}

func (m *Manager) safeFrame(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("airdrop: frame panicked", "panic", r)
			metrics.FrameTotal.WithLabelValues("panic").Inc()
		}
	}()

	if err := m.Frame(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		m.log.Error("airdrop: frame failed", "error", err)
	}
}

// Create validates and persists a new airdrop, then inserts it into the
// working set. Duration limits are enforced here even though the command
// layer validates too.
func (m *Manager) Create(ctx context.Context, origin Origin, sponsor string, amount float64, duration time.Duration) (*Airdrop, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if duration < MinDuration || duration > MaxDuration {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidDuration, duration, MinDuration, MaxDuration)
	}
	if origin.ChannelID == "" || origin.MessageTS == "" {
		return nil, errors.New("origin channel and message are required")
	}
	if sponsor == "" {
		return nil, errors.New("sponsor is required")
	}

	a := New(origin, sponsor, amount, m.cfg.Clock.Now().Add(duration))

	m.mu.Lock()
	if _, exists := m.state[a.ID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, a.ID)
	}
	m.mu.Unlock()

	if err := m.cfg.Store.InsertAirdrop(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to persist airdrop %s: %w", a.ID, err)
	}

	m.mu.Lock()
	m.state[a.ID] = a
	m.mu.Unlock()

	m.log.Info("airdrop: created", "id", a.ID, "amount", amount, "ends_at", a.EndTime)
	metrics.ActiveAirdrops.Inc()
	return a.Clone(), nil
}

// Cancel removes an open airdrop from store then memory. Only the sponsor
// may cancel; entrant notification is the caller's business.
func (m *Manager) Cancel(ctx context.Context, id, requestedBy string) (*Airdrop, error) {
	a, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if requestedBy != a.Sponsor {
		return nil, fmt.Errorf("%w: %s", ErrNotSponsor, id)
	}

	if err := m.cfg.Store.DeleteAirdrop(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to delete airdrop %s: %w", id, err)
	}

	m.mu.Lock()
	delete(m.state, id)
	m.removedAt[id] = m.cfg.Clock.Now()
	m.mu.Unlock()

	m.log.Info("airdrop: cancelled", "id", id)
	metrics.ActiveAirdrops.Dec()
	return a, nil
}

// Join adds a user to an open airdrop. Users without a registered wallet
// address are rejected; repeated joins report alreadyJoined without error.
func (m *Manager) Join(ctx context.Context, id, userID string) (alreadyJoined bool, err error) {
	m.mu.Lock()
	a, ok := m.state[id]
	if !ok || m.resolving[id] {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if a.HasEntrant(userID) {
		m.mu.Unlock()
		return true, nil
	}
	m.mu.Unlock()

	if _, err := m.cfg.Store.GetUserAddress(ctx, userID); err != nil {
		if errors.Is(err, ErrAddressNotRegistered) {
			return false, err
		}
		return false, fmt.Errorf("failed to look up address for %s: %w", userID, err)
	}

	if err := m.cfg.Store.AddEntrant(ctx, id, userID); err != nil {
		return false, fmt.Errorf("failed to persist entrant %s: %w", userID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok = m.state[id]
	if !ok || m.resolving[id] {
		// Resolved or cancelled while we were talking to the store; the
		// store row is gone with it.
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	a.Entrants[userID] = Entrant{UserID: userID}
	m.log.Info("airdrop: entrant joined", "id", id, "user", userID, "entrants", len(a.Entrants))
	return false, nil
}

// Leave removes a user from an open airdrop.
func (m *Manager) Leave(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	a, ok := m.state[id]
	if !ok || m.resolving[id] || !a.HasEntrant(userID) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is not an entrant of %s", ErrNotFound, userID, id)
	}
	m.mu.Unlock()

	if err := m.cfg.Store.RemoveEntrant(ctx, id, userID); err != nil {
		return fmt.Errorf("failed to remove entrant %s: %w", userID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.state[id]; ok {
		delete(a.Entrants, userID)
	}
	return nil
}

// Get returns a copy of an open airdrop from the working set. The store is
// never consulted on this path.
func (m *Manager) Get(id string) (*Airdrop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state[id]
	if !ok || m.resolving[id] {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a.Clone(), nil
}

// List returns copies of all open airdrops.
func (m *Manager) List() []*Airdrop {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Airdrop, 0, len(m.state))
	for id, a := range m.state {
		if m.resolving[id] {
			continue
		}
		out = append(out, a.Clone())
	}
	return out
}

// Reconcile merges the store's records into the working set, insert-or-
// replace by id. It never deletes memory entries: a record momentarily
// missing from a store scan stays until cancellation or resolution removes
// it explicitly. Records removed while the scan was in flight are tombstoned
// by that removal and skipped here, so a stale scan result cannot bring a
// cancelled or resolved airdrop back to life.
func (m *Manager) Reconcile(ctx context.Context) error {
	scanStart := m.cfg.Clock.Now()

	fetched, err := m.cfg.Store.ListAirdrops(ctx)
	if err != nil {
		return fmt.Errorf("failed to list airdrops: %w", err)
	}

	m.mu.Lock()
	// Tombstones from before this scan began are stale: the store delete
	// happened before them, so no later scan can return those rows.
	for id, t := range m.removedAt {
		if t.Before(scanStart) {
			delete(m.removedAt, id)
		}
	}
	for _, a := range fetched {
		if m.resolving[a.ID] {
			continue
		}
		if _, removed := m.removedAt[a.ID]; removed {
			continue
		}
		m.state[a.ID] = a
	}
	metrics.ActiveAirdrops.Set(float64(len(m.state)))
	m.mu.Unlock()

	m.readyOnce.Do(func() {
		close(m.readyCh)
		m.log.Info("airdrop: manager is now ready", "airdrops", len(fetched))
	})
	return nil
}

// Frame is one tick of the lifecycle: reconcile with the store, then resolve
// every expired airdrop in sequence. A tick that overlaps a still-running one
// is skipped. One airdrop's failure never stops the rest of the scan.
func (m *Manager) Frame(ctx context.Context) error {
	if !m.frameMu.TryLock() {
		m.log.Warn("airdrop: frame still in progress, skipping tick")
		metrics.FrameTotal.WithLabelValues("overlap").Inc()
		return nil
	}
	defer m.frameMu.Unlock()

	frameStart := time.Now()
	defer func() {
		metrics.FrameDuration.Observe(time.Since(frameStart).Seconds())
	}()

	if err := m.Reconcile(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		// Keep scanning what we already have in memory.
		m.log.Error("airdrop: reconcile failed", "error", err)
	}

	now := m.cfg.Clock.Now()
	m.mu.Lock()
	var expired []string
	for id, a := range m.state {
		if !m.resolving[id] && a.Ended(now) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range expired {
		m.log.Info("airdrop: dispatching resolve", "id", id)
		if err := m.Resolve(ctx, id); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			m.log.Error("airdrop: resolve failed", "id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		metrics.FrameTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("frame completed with resolution errors: %w", firstErr)
	}
	metrics.FrameTotal.WithLabelValues("success").Inc()
	return nil
}

// Resolve pays out one airdrop and removes it. The record leaves the open set
// the moment resolution begins: joins and leaves against it fail with
// ErrNotFound from here on, and a second Resolve call does too.
//
// Payouts are attempted sequentially per entrant (the spending wallet's
// nonce ordering makes concurrent submission unsafe) and one entrant's
// failure never aborts the others. Each successful transfer is marked in the
// store before the next begins, so a resolution retried after a crash or a
// store failure skips the entrants already paid.
func (m *Manager) Resolve(ctx context.Context, id string) error {
	m.mu.Lock()
	a, ok := m.state[id]
	if !ok || m.resolving[id] {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.resolving[id] = true
	snapshot := a.Clone()
	m.mu.Unlock()

	split := snapshot.Split()
	results := make([]PayoutResult, 0, len(snapshot.Entrants))

	for _, userID := range snapshot.EntrantIDs() {
		res := m.payEntrant(ctx, snapshot, userID, split)
		results = append(results, res)
		metrics.PayoutTotal.WithLabelValues(string(res.Status)).Inc()

		if res.Status == PayoutPaid {
			if err := m.pause(ctx); err != nil {
				break
			}
		}
	}

	if err := ctx.Err(); err != nil {
		// Shutdown mid-resolution: keep the record so the next process run
		// picks it up; entrants paid so far carry their markers.
		m.mu.Lock()
		delete(m.resolving, id)
		m.mu.Unlock()
		return fmt.Errorf("resolution of %s interrupted: %w", id, err)
	}

	if err := m.cfg.Notifier.AirdropResolved(ctx, snapshot, results); err != nil {
		m.log.Warn("airdrop: resolution notification failed", "id", id, "error", err)
	}

	if err := m.cfg.Store.DeleteAirdrop(ctx, id); err != nil {
		// Leave the record open so a later tick retries; paid markers keep
		// the retry from double-paying.
		m.mu.Lock()
		delete(m.resolving, id)
		m.mu.Unlock()
		return fmt.Errorf("failed to delete resolved airdrop %s: %w", id, err)
	}

	m.mu.Lock()
	delete(m.state, id)
	delete(m.resolving, id)
	m.removedAt[id] = m.cfg.Clock.Now()
	m.mu.Unlock()

	m.log.Info("airdrop: resolved", "id", id, "amount", snapshot.Amount, "entrants", len(snapshot.Entrants), "split", split)
	metrics.AirdropsResolvedTotal.Inc()
	metrics.ActiveAirdrops.Dec()
	return nil
}

func (m *Manager) payEntrant(ctx context.Context, a *Airdrop, userID string, split float64) PayoutResult {
	res := PayoutResult{
		Ref:    uuid.NewString(),
		UserID: userID,
		Amount: split,
	}

	if e := a.Entrants[userID]; e.TxSig != "" {
		res.Status = PayoutAlreadyPaid
		res.TxSig = e.TxSig
		m.log.Info("airdrop: entrant already paid, skipping", "id", a.ID, "user", userID, "tx", e.TxSig)
		return res
	}

	address, err := m.cfg.Store.GetUserAddress(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrAddressNotRegistered) {
			// Registered, joined, then deregistered: the share is forfeited
			// rather than blocking everyone else.
			res.Status = PayoutSkipped
			m.log.Debug("airdrop: entrant has no address, forfeiting share", "id", a.ID, "user", userID)
			return res
		}
		res.Status = PayoutFailed
		res.Err = err
		return res
	}
	res.Address = address

	m.log.Info("airdrop: sending payout", "id", a.ID, "user", userID, "address", address, "amount", split, "ref", res.Ref)

	transferCtx, cancel := context.WithTimeout(ctx, m.cfg.TransferTimeout)
	sig, err := m.cfg.Ledger.Transfer(transferCtx, address, split)
	cancel()
	if err != nil {
		res.Status = PayoutFailed
		res.Err = err
		m.log.Error("airdrop: payout failed", "id", a.ID, "user", userID, "ref", res.Ref, "error", err)
		return res
	}
	res.Status = PayoutPaid
	res.TxSig = sig

	// Mirror the marker into the live record so a same-process retry is
	// covered even if the next reconcile fails.
	m.mu.Lock()
	if live, ok := m.state[a.ID]; ok {
		if e, ok := live.Entrants[userID]; ok {
			e.TxSig = sig
			live.Entrants[userID] = e
		}
	}
	m.mu.Unlock()

	if err := m.cfg.Store.MarkEntrantPaid(ctx, a.ID, userID, sig); err != nil {
		// The transfer already went through; log and keep going.
		m.log.Warn("airdrop: failed to mark entrant paid", "id", a.ID, "user", userID, "tx", sig, "error", err)
	}
	if err := m.cfg.Notifier.EntrantPaid(ctx, a, res); err != nil {
		m.log.Warn("airdrop: entrant notification failed", "id", a.ID, "user", userID, "error", err)
	}
	return res
}

func (m *Manager) pause(ctx context.Context) error {
	if m.cfg.PayoutPacing <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.cfg.Clock.After(m.cfg.PayoutPacing):
		return nil
	}
}
