package slackbot

import (
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/require"

	"github.com/dropzone-labs/dropzone/pkg/airdrop"
)

func TestDropzone_Slackbot_FormatAmount(t *testing.T) {
	t.Parallel()

	require.Equal(t, "100", FormatAmount(100))
	require.Equal(t, "0.5", FormatAmount(0.5))
	require.Equal(t, "33.333333333", FormatAmount(100.0/3))
	require.Equal(t, "0.000000001", FormatAmount(0.000000001))
	require.Equal(t, "0", FormatAmount(0))
}

func TestDropzone_Slackbot_ShortenAddress(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", ShortenAddress("short"))
	require.Equal(t, "9WzDXw…AWWM", ShortenAddress("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"))
}

func TestDropzone_Slackbot_Blocks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := airdrop.New(airdrop.Origin{TeamID: "T1", ChannelID: "C1", MessageTS: "1700000000.000100"}, "USPONSOR", 100, now.Add(time.Hour))
	a.Entrants["U1"] = airdrop.Entrant{UserID: "U1"}
	a.Entrants["U2"] = airdrop.Entrant{UserID: "U2"}

	t.Run("announcement carries the join button with the record id", func(t *testing.T) {
		t.Parallel()
		blocks := AnnouncementBlocks(a, now)
		require.Len(t, blocks, 4)

		actions, ok := blocks[3].(*slack.ActionBlock)
		require.True(t, ok)
		require.Len(t, actions.Elements.ElementSet, 1)

		button, ok := actions.Elements.ElementSet[0].(*slack.ButtonBlockElement)
		require.True(t, ok)
		require.Equal(t, joinActionID, button.ActionID)
		require.Equal(t, a.ID, button.Value)

		section, ok := blocks[1].(*slack.SectionBlock)
		require.True(t, ok)
		require.Contains(t, section.Text.Text, "<@USPONSOR>")
	})

	t.Run("announcement flags a near-end airdrop", func(t *testing.T) {
		t.Parallel()
		blocks := AnnouncementBlocks(a, now)
		ctxBlock, ok := blocks[2].(*slack.ContextBlock)
		require.True(t, ok)
		text, ok := ctxBlock.ContextElements.Elements[0].(*slack.TextBlockObject)
		require.True(t, ok)
		require.Contains(t, text.Text, "ending soon")
	})

	t.Run("resolved summary counts outcomes", func(t *testing.T) {
		t.Parallel()
		results := []airdrop.PayoutResult{
			{UserID: "U1", Status: airdrop.PayoutPaid},
			{UserID: "U2", Status: airdrop.PayoutFailed},
			{UserID: "U3", Status: airdrop.PayoutSkipped},
			{UserID: "U4", Status: airdrop.PayoutAlreadyPaid},
		}
		blocks := ResolvedBlocks(a, results)
		require.Len(t, blocks, 3)

		ctxBlock, ok := blocks[2].(*slack.ContextBlock)
		require.True(t, ok)
		text, ok := ctxBlock.ContextElements.Elements[0].(*slack.TextBlockObject)
		require.True(t, ok)
		require.Equal(t, "2 paid · 1 failed · 1 forfeited", text.Text)
	})

	t.Run("resolved summary omits zero counts", func(t *testing.T) {
		t.Parallel()
		blocks := ResolvedBlocks(a, []airdrop.PayoutResult{{UserID: "U1", Status: airdrop.PayoutPaid}})
		ctxBlock, ok := blocks[2].(*slack.ContextBlock)
		require.True(t, ok)
		text, ok := ctxBlock.ContextElements.Elements[0].(*slack.TextBlockObject)
		require.True(t, ok)
		require.Equal(t, "1 paid", text.Text)
	})

	t.Run("entrant payout dm includes the signature and explorer link", func(t *testing.T) {
		t.Parallel()
		res := airdrop.PayoutResult{UserID: "U1", Amount: 50, TxSig: "sig-abc", Status: airdrop.PayoutPaid}
		blocks := EntrantPaidBlocks(a, res, "https://explorer.solana.com/tx/sig-abc")
		require.Len(t, blocks, 4)

		section, ok := blocks[1].(*slack.SectionBlock)
		require.True(t, ok)
		require.Contains(t, section.Text.Text, "50 SOL")
		require.Contains(t, section.Text.Text, "https://explorer.solana.com/tx/sig-abc")

		sigSection, ok := blocks[2].(*slack.SectionBlock)
		require.True(t, ok)
		require.Contains(t, sigSection.Text.Text, "sig-abc")
	})

	t.Run("cancelled message names the amount", func(t *testing.T) {
		t.Parallel()
		blocks := CancelledBlocks(a)
		require.Len(t, blocks, 2)
		section, ok := blocks[1].(*slack.SectionBlock)
		require.True(t, ok)
		require.Contains(t, section.Text.Text, "100 SOL")
	})
}
