package slackbot

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropzone-labs/dropzone/pkg/airdrop"
)

func TestDropzone_Slackbot_ParseAirdropArgs(t *testing.T) {
	t.Parallel()

	t.Run("amount and go duration", func(t *testing.T) {
		t.Parallel()
		amount, duration, err := parseAirdropArgs("100 24h")
		require.NoError(t, err)
		require.Equal(t, 100.0, amount)
		require.Equal(t, 24*time.Hour, duration)
	})

	t.Run("fractional amount", func(t *testing.T) {
		t.Parallel()
		amount, _, err := parseAirdropArgs("0.5 90s")
		require.NoError(t, err)
		require.Equal(t, 0.5, amount)
	})

	t.Run("bare seconds", func(t *testing.T) {
		t.Parallel()
		_, duration, err := parseAirdropArgs("100 300")
		require.NoError(t, err)
		require.Equal(t, 5*time.Minute, duration)
	})

	t.Run("wrong arity", func(t *testing.T) {
		t.Parallel()
		_, _, err := parseAirdropArgs("")
		require.Error(t, err)
		_, _, err = parseAirdropArgs("100")
		require.Error(t, err)
		_, _, err = parseAirdropArgs("100 24h extra")
		require.Error(t, err)
	})

	t.Run("bad amount", func(t *testing.T) {
		t.Parallel()
		_, _, err := parseAirdropArgs("lots 24h")
		require.ErrorIs(t, err, airdrop.ErrInvalidAmount)
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Parallel()
		_, _, err := parseAirdropArgs("100 tomorrow")
		require.ErrorIs(t, err, airdrop.ErrInvalidDuration)
	})
}

func TestDropzone_Slackbot_UserFacingError(t *testing.T) {
	t.Parallel()

	require.Contains(t, userFacingError(airdrop.ErrInvalidAmount), "greater than zero")
	require.Contains(t, userFacingError(airdrop.ErrInvalidDuration), airdrop.MinDuration.String())
	require.Equal(t, NotRegisteredText(), userFacingError(airdrop.ErrAddressNotRegistered))
	require.Contains(t, userFacingError(airdrop.ErrNotSponsor), "Only the sponsor")
	require.Contains(t, userFacingError(airdrop.ErrNotFound), "Couldn't find")
	require.Contains(t, userFacingError(airdrop.ErrDuplicate), "already an airdrop")
	require.Contains(t, userFacingError(airdrop.ErrInsufficientFunds), "spending wallet")

	// Usage errors pass through; anything else is hidden.
	require.Equal(t, "usage: /register <address>", userFacingError(errors.New("usage: /register <address>")))
	require.NotContains(t, userFacingError(errors.New("pq: connection refused")), "pq:")
}
