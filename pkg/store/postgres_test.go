package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropzone-labs/dropzone/pkg/airdrop"
	"github.com/dropzone-labs/dropzone/pkg/store"
	"github.com/dropzone-labs/dropzone/pkg/testutil"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	log := testutil.NewLogger()

	db, err := testutil.StartPostgres(ctx, log)
	require.NoError(t, err)
	t.Cleanup(db.Terminate)

	require.NoError(t, store.RunMigrations(log, db.ConnStr()))

	pool, err := store.NewPool(ctx, db.ConnStr())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s, err := store.New(store.Config{Logger: log, Pool: pool})
	require.NoError(t, err)
	return s
}

func testAirdrop(channelID, messageTS string) *airdrop.Airdrop {
	return airdrop.New(
		airdrop.Origin{TeamID: "T1", ChannelID: channelID, MessageTS: messageTS},
		"USPONSOR",
		100,
		time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond),
	)
}

func TestDropzone_Store_Postgres(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	t.Run("insert list delete", func(t *testing.T) {
		a := testAirdrop("C1", "1.0")
		a.Entrants["U1"] = airdrop.Entrant{UserID: "U1"}
		require.NoError(t, s.InsertAirdrop(ctx, a))

		listed, err := s.ListAirdrops(ctx)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		got := listed[0]
		require.Equal(t, a.ID, got.ID)
		require.Equal(t, a.Origin, got.Origin)
		require.Equal(t, a.Sponsor, got.Sponsor)
		require.Equal(t, a.Amount, got.Amount)
		require.WithinDuration(t, a.EndTime, got.EndTime, time.Millisecond)
		require.True(t, got.HasEntrant("U1"))

		require.NoError(t, s.DeleteAirdrop(ctx, a.ID))
		listed, err = s.ListAirdrops(ctx)
		require.NoError(t, err)
		require.Empty(t, listed)
	})

	t.Run("duplicate insert is rejected", func(t *testing.T) {
		a := testAirdrop("C2", "2.0")
		require.NoError(t, s.InsertAirdrop(ctx, a))
		require.ErrorIs(t, s.InsertAirdrop(ctx, testAirdrop("C2", "2.0")), airdrop.ErrDuplicate)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, s.DeleteAirdrop(ctx, "C9:never-existed"))
	})

	t.Run("entrants are set operations", func(t *testing.T) {
		a := testAirdrop("C3", "3.0")
		require.NoError(t, s.InsertAirdrop(ctx, a))

		require.NoError(t, s.AddEntrant(ctx, a.ID, "U1"))
		// Re-adding is a no-op, not a conflict.
		require.NoError(t, s.AddEntrant(ctx, a.ID, "U1"))
		require.NoError(t, s.AddEntrant(ctx, a.ID, "U2"))

		listed, err := s.ListAirdrops(ctx)
		require.NoError(t, err)
		var got *airdrop.Airdrop
		for _, l := range listed {
			if l.ID == a.ID {
				got = l
			}
		}
		require.NotNil(t, got)
		require.Len(t, got.Entrants, 2)

		require.NoError(t, s.RemoveEntrant(ctx, a.ID, "U1"))
		require.NoError(t, s.RemoveEntrant(ctx, a.ID, "U1"))
	})

	t.Run("entrant of unknown airdrop", func(t *testing.T) {
		require.ErrorIs(t, s.AddEntrant(ctx, "C9:never-existed", "U1"), airdrop.ErrNotFound)
	})

	t.Run("deleting an airdrop removes its entrants", func(t *testing.T) {
		a := testAirdrop("C4", "4.0")
		require.NoError(t, s.InsertAirdrop(ctx, a))
		require.NoError(t, s.AddEntrant(ctx, a.ID, "U1"))
		require.NoError(t, s.DeleteAirdrop(ctx, a.ID))

		// The entrant row is gone with the record; a fresh airdrop at the
		// same origin starts empty.
		require.NoError(t, s.InsertAirdrop(ctx, testAirdrop("C4", "4.0")))
		listed, err := s.ListAirdrops(ctx)
		require.NoError(t, err)
		for _, l := range listed {
			if l.ID == a.ID {
				require.Empty(t, l.Entrants)
			}
		}
	})

	t.Run("paid markers round trip", func(t *testing.T) {
		a := testAirdrop("C5", "5.0")
		require.NoError(t, s.InsertAirdrop(ctx, a))
		require.NoError(t, s.AddEntrant(ctx, a.ID, "U1"))

		require.NoError(t, s.MarkEntrantPaid(ctx, a.ID, "U1", "sig-abc"))
		require.ErrorIs(t, s.MarkEntrantPaid(ctx, a.ID, "U9", "sig-abc"), airdrop.ErrNotFound)

		listed, err := s.ListAirdrops(ctx)
		require.NoError(t, err)
		for _, l := range listed {
			if l.ID == a.ID {
				require.Equal(t, "sig-abc", l.Entrants["U1"].TxSig)
			}
		}
	})

	t.Run("user registration", func(t *testing.T) {
		_, err := s.GetUserAddress(ctx, "U1")
		require.ErrorIs(t, err, airdrop.ErrAddressNotRegistered)

		require.NoError(t, s.RegisterUser(ctx, "U1", "addr-one"))
		address, err := s.GetUserAddress(ctx, "U1")
		require.NoError(t, err)
		require.Equal(t, "addr-one", address)

		// Re-registering replaces the address.
		require.NoError(t, s.RegisterUser(ctx, "U1", "addr-two"))
		address, err = s.GetUserAddress(ctx, "U1")
		require.NoError(t, err)
		require.Equal(t, "addr-two", address)
	})
}
