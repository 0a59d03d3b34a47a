package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/dropzone-labs/dropzone/pkg/airdrop"
	"github.com/dropzone-labs/dropzone/pkg/ledger"
)

type Config struct {
	Logger *slog.Logger
	// API must be constructed with an app-level token for socket mode.
	API      *slack.Client
	Manager  *airdrop.Manager
	Store    airdrop.Store
	Ledger   airdrop.Ledger
	Notifier *Notifier
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.API == nil {
		return errors.New("slack api client is required")
	}
	if cfg.Manager == nil {
		return errors.New("manager is required")
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
	return nil
}

// Bot is the chat surface: slash commands and the join button, running over
// Slack socket mode. All domain state goes through the airdrop manager; the
// bot holds none of its own.
type Bot struct {
	log *slog.Logger
	cfg Config
	api *slack.Client
	sm  *socketmode.Client

	botUserID string
}

func New(cfg Config) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Bot{
		log: cfg.Logger,
		cfg: cfg,
		api: cfg.API,
		sm:  socketmode.New(cfg.API),
	}, nil
}

// Run connects to Slack and processes events until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	authTest, err := b.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test failed: %w", err)
	}
	b.botUserID = authTest.UserID
	b.log.Info("slackbot: authenticated", "user_id", authTest.UserID, "team", authTest.Team)

	go b.handleEvents(ctx)
	return b.sm.RunContext(ctx)
}

func (b *Bot) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.sm.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				b.log.Info("slackbot: connected to slack")
			case socketmode.EventTypeConnectionError:
				b.log.Warn("slackbot: connection error, will retry", "error", evt.Data)
			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				b.sm.Ack(*evt.Request)
				go b.handleSlashCommand(ctx, cmd)
			case socketmode.EventTypeInteractive:
				callback, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				b.sm.Ack(*evt.Request)
				go b.handleInteraction(ctx, callback)
			}
		}
	}
}

func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	b.log.Info("slackbot: slash command", "command", cmd.Command, "user", cmd.UserID, "channel", cmd.ChannelID)

	var err error
	switch cmd.Command {
	case "/airdrop":
		err = b.createAirdrop(ctx, cmd)
	case "/airdrop-cancel":
		err = b.cancelAirdrop(ctx, cmd)
	case "/airdrop-leave":
		err = b.leaveAirdrop(ctx, cmd)
	case "/register":
		err = b.registerUser(ctx, cmd)
	case "/balance":
		err = b.showBalance(ctx, cmd)
	default:
		err = fmt.Errorf("unknown command %s", cmd.Command)
	}
	if err != nil {
		b.log.Error("slackbot: command failed", "command", cmd.Command, "user", cmd.UserID, "error", err)
		b.ephemeral(ctx, cmd.ChannelID, cmd.UserID, userFacingError(err))
	}
}

func (b *Bot) handleInteraction(ctx context.Context, callback slack.InteractionCallback) {
	if callback.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, action := range callback.ActionCallback.BlockActions {
		if action.ActionID != joinActionID {
			continue
		}
		b.joinAirdrop(ctx, callback, action.Value)
	}
}

func (b *Bot) joinAirdrop(ctx context.Context, callback slack.InteractionCallback, airdropID string) {
	channelID := callback.Channel.ID
	userID := callback.User.ID

	already, err := b.cfg.Manager.Join(ctx, airdropID, userID)
	switch {
	case errors.Is(err, airdrop.ErrAddressNotRegistered):
		b.ephemeral(ctx, channelID, userID, NotRegisteredText())
	case errors.Is(err, airdrop.ErrNotFound):
		b.ephemeral(ctx, channelID, userID, "*That airdrop is no longer open.*")
	case err != nil:
		b.log.Error("slackbot: join failed", "airdrop", airdropID, "user", userID, "error", err)
		b.ephemeral(ctx, channelID, userID, userFacingError(err))
	case already:
		b.ephemeral(ctx, channelID, userID, AlreadyJoinedText())
	default:
		b.ephemeral(ctx, channelID, userID, WelcomeText())
	}
}

// createAirdrop posts the announcement first so its message identity can key
// the record, then backfills the join button once the record exists.
func (b *Bot) createAirdrop(ctx context.Context, cmd slack.SlashCommand) error {
	amount, duration, err := parseAirdropArgs(cmd.Text)
	if err != nil {
		return err
	}

	channelID, ts, err := b.api.PostMessageContext(ctx, cmd.ChannelID,
		slack.MsgOptionText(":airplane: An airdrop appears!", false))
	if err != nil {
		return fmt.Errorf("failed to post announcement: %w", err)
	}

	origin := airdrop.Origin{TeamID: cmd.TeamID, ChannelID: channelID, MessageTS: ts}
	a, err := b.cfg.Manager.Create(ctx, origin, cmd.UserID, amount, duration)
	if err != nil {
		// Leave no dangling announcement for a record that never existed.
		if _, _, deleteErr := b.api.DeleteMessageContext(ctx, channelID, ts); deleteErr != nil {
			b.log.Warn("slackbot: failed to delete orphaned announcement", "channel", channelID, "ts", ts, "error", deleteErr)
		}
		return err
	}

	if _, _, _, err := b.api.UpdateMessageContext(ctx, channelID, ts,
		slack.MsgOptionBlocks(AnnouncementBlocks(a, time.Now())...),
		slack.MsgOptionText(":airplane: An airdrop appears!", false)); err != nil {
		b.log.Warn("slackbot: failed to attach join button", "airdrop", a.ID, "error", err)
	}
	return nil
}

// cancelAirdrop cancels the most recent open airdrop in the command's
// channel. The manager rejects anyone but the sponsor.
func (b *Bot) cancelAirdrop(ctx context.Context, cmd slack.SlashCommand) error {
	target := b.latestInChannel(cmd.ChannelID)
	if target == nil {
		return fmt.Errorf("%w: no open airdrop in this channel", airdrop.ErrNotFound)
	}

	cancelled, err := b.cfg.Manager.Cancel(ctx, target.ID, cmd.UserID)
	if err != nil {
		return err
	}
	if err := b.cfg.Notifier.AirdropCancelled(ctx, cancelled); err != nil {
		b.log.Warn("slackbot: cancellation notice failed", "airdrop", cancelled.ID, "error", err)
	}
	b.ephemeral(ctx, cmd.ChannelID, cmd.UserID, "*Airdrop cancelled.* Nothing was paid out.")
	return nil
}

func (b *Bot) leaveAirdrop(ctx context.Context, cmd slack.SlashCommand) error {
	target := b.latestInChannel(cmd.ChannelID)
	if target == nil {
		return fmt.Errorf("%w: no open airdrop in this channel", airdrop.ErrNotFound)
	}
	if err := b.cfg.Manager.Leave(ctx, target.ID, cmd.UserID); err != nil {
		return err
	}
	b.ephemeral(ctx, cmd.ChannelID, cmd.UserID, "*You left the airdrop.*")
	return nil
}

func (b *Bot) registerUser(ctx context.Context, cmd slack.SlashCommand) error {
	address := strings.TrimSpace(cmd.Text)
	if address == "" {
		return errors.New("usage: /register <address>")
	}
	if err := ledger.ValidateAddress(address); err != nil {
		return err
	}
	if err := b.cfg.Store.RegisterUser(ctx, cmd.UserID, address); err != nil {
		return err
	}
	b.ephemeral(ctx, cmd.ChannelID, cmd.UserID,
		fmt.Sprintf(":white_check_mark: *Success!* Your account is now associated with `%s`.\nNow just wait for the airdrops to come in!", address))
	return nil
}

func (b *Bot) showBalance(ctx context.Context, cmd slack.SlashCommand) error {
	address := strings.TrimSpace(cmd.Text)
	if address == "" {
		var err error
		address, err = b.cfg.Store.GetUserAddress(ctx, cmd.UserID)
		if err != nil {
			return err
		}
	} else if err := ledger.ValidateAddress(address); err != nil {
		return err
	}

	balanceCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	balance, err := b.cfg.Ledger.Balance(balanceCtx, address)
	if err != nil {
		return err
	}

	b.ephemeral(ctx, cmd.ChannelID, cmd.UserID,
		fmt.Sprintf(":money_with_wings: Balance of <%s|`%s`>:\n```%s SOL```",
			b.cfg.Ledger.ExplorerLink(address), ShortenAddress(address), FormatAmount(balance)))
	return nil
}

func (b *Bot) latestInChannel(channelID string) *airdrop.Airdrop {
	var latest *airdrop.Airdrop
	for _, a := range b.cfg.Manager.List() {
		if a.Origin.ChannelID != channelID {
			continue
		}
		if latest == nil || a.EndTime.After(latest.EndTime) {
			latest = a
		}
	}
	return latest
}

func (b *Bot) ephemeral(ctx context.Context, channelID, userID, text string) {
	if _, err := b.api.PostEphemeralContext(ctx, channelID, userID,
		slack.MsgOptionText(text, false)); err != nil {
		b.log.Warn("slackbot: failed to post ephemeral reply", "channel", channelID, "user", userID, "error", err)
	}
}

// parseAirdropArgs parses "/airdrop <amount> <duration>"; the duration takes
// Go syntax ("90s", "24h") or a bare number of seconds.
func parseAirdropArgs(text string) (float64, time.Duration, error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return 0, 0, errors.New("usage: /airdrop <amount> <duration>, e.g. /airdrop 100 24h")
	}
	amount, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", airdrop.ErrInvalidAmount, fields[0])
	}
	duration, err := time.ParseDuration(fields[1])
	if err != nil {
		seconds, secErr := strconv.Atoi(fields[1])
		if secErr != nil {
			return 0, 0, fmt.Errorf("%w: %q", airdrop.ErrInvalidDuration, fields[1])
		}
		duration = time.Duration(seconds) * time.Second
	}
	return amount, duration, nil
}

// userFacingError maps domain errors to a chat-friendly message, hiding raw
// transport errors.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, airdrop.ErrInvalidAmount):
		return "*That amount doesn't work.* The airdrop amount must be greater than zero."
	case errors.Is(err, airdrop.ErrInvalidDuration):
		return fmt.Sprintf("*That duration doesn't work.* Airdrops run between %s and %s.",
			airdrop.MinDuration, airdrop.MaxDuration)
	case errors.Is(err, airdrop.ErrAddressNotRegistered):
		return NotRegisteredText()
	case errors.Is(err, airdrop.ErrNotSponsor):
		return "*Only the sponsor can cancel this airdrop.*"
	case errors.Is(err, airdrop.ErrNotFound):
		return "*Couldn't find that airdrop.* It may have ended or been cancelled."
	case errors.Is(err, airdrop.ErrDuplicate):
		return "*There's already an airdrop for that message.*"
	case errors.Is(err, airdrop.ErrInsufficientFunds):
		return "*The spending wallet can't cover that right now.* Try again later or lower the amount."
	case strings.Contains(err.Error(), "usage:"):
		return err.Error()
	default:
		return "Sorry, something went wrong handling that. Please try again."
	}
}
