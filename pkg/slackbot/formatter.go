package slackbot

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/dropzone-labs/dropzone/pkg/airdrop"
)

const joinActionID = "airdrop_join"

// AnnouncementBlocks renders the root message for an open airdrop, including
// the join button carrying the record id.
func AnnouncementBlocks(a *airdrop.Airdrop, now time.Time) []slack.Block {
	header := slack.NewHeaderBlock(
		slack.NewTextBlockObject(slack.PlainTextType, ":airplane: An airdrop appears!", true, false))

	body := fmt.Sprintf("<@%s> left an airdrop of `%s SOL`!\nThe reward will be split evenly between all entrants.",
		a.Sponsor, FormatAmount(a.Amount))
	ending := fmt.Sprintf("Ends %s", slackDate(a.EndTime))
	if a.NearEnd(now) {
		ending += " · ending soon!"
	}

	button := slack.NewButtonBlockElement(joinActionID, a.ID,
		slack.NewTextBlockObject(slack.PlainTextType, ":money_with_wings: Join this airdrop", true, false))

	return []slack.Block{
		header,
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil),
		slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, ending, false, false)),
		slack.NewActionBlock("", button),
	}
}

// ResolvedBlocks replaces the root message once the airdrop has paid out.
func ResolvedBlocks(a *airdrop.Airdrop, results []airdrop.PayoutResult) []slack.Block {
	var paid, failed, skipped int
	for _, r := range results {
		switch r.Status {
		case airdrop.PayoutPaid, airdrop.PayoutAlreadyPaid:
			paid++
		case airdrop.PayoutFailed:
			failed++
		case airdrop.PayoutSkipped:
			skipped++
		}
	}

	summary := fmt.Sprintf("The airdrop has ended and the reward has been distributed!\n```Total SOL: %s\nSplit (%d): %s```",
		FormatAmount(a.Amount), len(a.Entrants), FormatAmount(a.Split()))

	var footer strings.Builder
	fmt.Fprintf(&footer, "%d paid", paid)
	if failed > 0 {
		fmt.Fprintf(&footer, " · %d failed", failed)
	}
	if skipped > 0 {
		fmt.Fprintf(&footer, " · %d forfeited", skipped)
	}

	return []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, ":tada: Airdrop finished!", true, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, summary, false, false), nil, nil),
		slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, footer.String(), false, false)),
	}
}

// CancelledBlocks replaces the root message of a cancelled airdrop.
func CancelledBlocks(a *airdrop.Airdrop) []slack.Block {
	text := fmt.Sprintf("This airdrop of `%s SOL` was cancelled by its sponsor. Nothing was paid out.",
		FormatAmount(a.Amount))
	return []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, ":no_entry_sign: Airdrop cancelled", true, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
	}
}

// EntrantPaidBlocks is the DM an entrant receives with their share.
func EntrantPaidBlocks(a *airdrop.Airdrop, res airdrop.PayoutResult, explorerLink string) []slack.Block {
	body := fmt.Sprintf("You received your share of `%s SOL` from an <%s|airdrop>!\nView the transaction <%s|on the explorer>.",
		FormatAmount(res.Amount), a.Permalink(), explorerLink)
	return []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, ":tada: Airdrop finished!", true, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Transaction signature*\n```%s```", res.TxSig), false, false), nil, nil),
		slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, "Thanks for participating!", false, false)),
	}
}

// WelcomeText is the ephemeral reply to a successful join.
func WelcomeText() string {
	return ":rocket: *Welcome aboard!* You have joined the airdrop.\n" +
		"The reward will be split evenly between all entrants. " +
		"When this airdrop ends I'll DM you your share."
}

// AlreadyJoinedText is the ephemeral reply to a repeated join.
func AlreadyJoinedText() string {
	return ":point_up: *You're already in!* Just wait for the airdrop to end."
}

// NotRegisteredText is the ephemeral reply when a user without a wallet
// address tries to join.
func NotRegisteredText() string {
	return "*You don't have a wallet address associated!* Use `/register <address>` first."
}

// FormatAmount renders a SOL amount without scientific notation or trailing
// zeros.
func FormatAmount(amount float64) string {
	s := fmt.Sprintf("%.9f", amount)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// ShortenAddress abbreviates a base58 address for display.
func ShortenAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}

// slackDate renders t with Slack's date formatting so each reader sees their
// own timezone.
func slackDate(t time.Time) string {
	return fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s>", t.Unix(), t.UTC().Format(time.RFC1123))
}
