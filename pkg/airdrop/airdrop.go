package airdrop

import (
	"fmt"
	"sort"
	"time"
)

// NearEndWindow is how long before expiry an airdrop is considered "ending
// soon" for presentation purposes. It has no effect on resolution timing.
const NearEndWindow = 3 * time.Hour

// Origin identifies where an airdrop was announced. The root message is the
// airdrop's identity; the channel and team are informational.
type Origin struct {
	TeamID    string
	ChannelID string
	MessageTS string
}

// RecordID derives the airdrop's primary key from the announcement message.
// Slack message timestamps are only unique within a channel, so the channel
// is part of the key.
func (o Origin) RecordID() string {
	return o.ChannelID + ":" + o.MessageTS
}

// Entrant is a user who opted into an airdrop. TxSig is set once that user's
// share has been transferred, so a retried resolution never pays them twice.
type Entrant struct {
	UserID string
	TxSig  string
}

// Airdrop is the durable record of one time-boxed group payout. Sponsor,
// Amount and EndTime are fixed at creation; only the entrant set changes
// while open.
type Airdrop struct {
	ID       string
	Origin   Origin
	Sponsor  string
	Amount   float64
	EndTime  time.Time
	Entrants map[string]Entrant
}

func New(origin Origin, sponsor string, amount float64, endTime time.Time) *Airdrop {
	return &Airdrop{
		ID:       origin.RecordID(),
		Origin:   origin,
		Sponsor:  sponsor,
		Amount:   amount,
		EndTime:  endTime,
		Entrants: make(map[string]Entrant),
	}
}

// EndsIn returns the time remaining until expiry. Negative once expired.
func (a *Airdrop) EndsIn(now time.Time) time.Duration {
	return a.EndTime.Sub(now)
}

// Ended reports whether the airdrop is eligible for resolution.
func (a *Airdrop) Ended(now time.Time) bool {
	return a.EndsIn(now) <= 0
}

// NearEnd reports whether the airdrop expires within NearEndWindow.
func (a *Airdrop) NearEnd(now time.Time) bool {
	return a.EndsIn(now) <= NearEndWindow
}

// Split is each entrant's share, computed over the current entrant set.
// Zero when nobody has joined.
func (a *Airdrop) Split() float64 {
	if len(a.Entrants) == 0 {
		return 0
	}
	return a.Amount / float64(len(a.Entrants))
}

func (a *Airdrop) HasEntrant(userID string) bool {
	_, ok := a.Entrants[userID]
	return ok
}

// EntrantIDs returns the entrant user ids in a stable order so payout
// attempts and retries walk the set deterministically.
func (a *Airdrop) EntrantIDs() []string {
	ids := make([]string, 0, len(a.Entrants))
	for id := range a.Entrants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy. The manager hands out clones so callers never
// share the live entrant map with the frame loop.
func (a *Airdrop) Clone() *Airdrop {
	entrants := make(map[string]Entrant, len(a.Entrants))
	for id, e := range a.Entrants {
		entrants[id] = e
	}
	out := *a
	out.Entrants = entrants
	return &out
}

// Permalink is a human-readable locator for the announcement message.
func (a *Airdrop) Permalink() string {
	return fmt.Sprintf("https://slack.com/archives/%s/p%s", a.Origin.ChannelID, a.Origin.MessageTS)
}
