package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/dropzone-labs/dropzone/pkg/airdrop"
	"github.com/dropzone-labs/dropzone/pkg/metrics"
	"github.com/dropzone-labs/dropzone/pkg/retry"
)

// NotifierConfig configures the Slack-backed notification sink.
type NotifierConfig struct {
	Logger *slog.Logger
	API    *slack.Client
	Ledger airdrop.Ledger
	// MessageRate bounds outbound chat messages; Slack tolerates roughly one
	// message per second per channel.
	MessageRate rate.Limit
	Burst       int
}

func (cfg *NotifierConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.API == nil {
		return errors.New("slack api client is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.MessageRate == 0 {
		cfg.MessageRate = rate.Every(time.Second)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	return nil
}

// Notifier implements airdrop.Notifier on the Slack API: DMs for entrant
// payouts, root-message edits for resolution and cancellation. Delivery is
// best-effort; the manager never retries money because a message failed.
type Notifier struct {
	log     *slog.Logger
	cfg     NotifierConfig
	limiter *rate.Limiter
}

func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Notifier{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.MessageRate, cfg.Burst),
	}, nil
}

func (n *Notifier) EntrantPaid(ctx context.Context, a *airdrop.Airdrop, res airdrop.PayoutResult) error {
	channelID, err := n.openDM(ctx, res.UserID)
	if err != nil {
		metrics.NotificationTotal.WithLabelValues("entrant_paid", "error").Inc()
		return err
	}

	blocks := EntrantPaidBlocks(a, res, n.cfg.Ledger.ExplorerLink(res.TxSig))
	if err := n.post(ctx, func() error {
		_, _, err := n.cfg.API.PostMessageContext(ctx, channelID,
			slack.MsgOptionBlocks(blocks...),
			slack.MsgOptionText(fmt.Sprintf("You received %s SOL from an airdrop!", FormatAmount(res.Amount)), false))
		return err
	}); err != nil {
		metrics.NotificationTotal.WithLabelValues("entrant_paid", "error").Inc()
		return fmt.Errorf("failed to DM entrant %s: %w", res.UserID, err)
	}

	metrics.NotificationTotal.WithLabelValues("entrant_paid", "success").Inc()
	return nil
}

func (n *Notifier) AirdropResolved(ctx context.Context, a *airdrop.Airdrop, results []airdrop.PayoutResult) error {
	if err := n.post(ctx, func() error {
		_, _, _, err := n.cfg.API.UpdateMessageContext(ctx, a.Origin.ChannelID, a.Origin.MessageTS,
			slack.MsgOptionBlocks(ResolvedBlocks(a, results)...),
			slack.MsgOptionText("The airdrop has ended and the reward has been distributed!", false))
		return err
	}); err != nil {
		metrics.NotificationTotal.WithLabelValues("airdrop_resolved", "error").Inc()
		return fmt.Errorf("failed to update airdrop message %s: %w", a.ID, err)
	}

	metrics.NotificationTotal.WithLabelValues("airdrop_resolved", "success").Inc()
	return nil
}

func (n *Notifier) AirdropCancelled(ctx context.Context, a *airdrop.Airdrop) error {
	if err := n.post(ctx, func() error {
		_, _, _, err := n.cfg.API.UpdateMessageContext(ctx, a.Origin.ChannelID, a.Origin.MessageTS,
			slack.MsgOptionBlocks(CancelledBlocks(a)...),
			slack.MsgOptionText("This airdrop was cancelled.", false))
		return err
	}); err != nil {
		metrics.NotificationTotal.WithLabelValues("airdrop_cancelled", "error").Inc()
		return fmt.Errorf("failed to update cancelled airdrop message %s: %w", a.ID, err)
	}

	metrics.NotificationTotal.WithLabelValues("airdrop_cancelled", "success").Inc()
	return nil
}

func (n *Notifier) openDM(ctx context.Context, userID string) (string, error) {
	channel, _, _, err := n.cfg.API.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{userID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to open DM with %s: %w", userID, err)
	}
	return channel.ID, nil
}

// post sends one message under the outbound rate limit, retrying transient
// Slack failures.
func (n *Notifier) post(ctx context.Context, send func() error) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	return retry.Do(ctx, retry.DefaultConfig(), func() error {
		err := send()
		if err != nil && strings.Contains(err.Error(), "missing_scope") {
			n.log.Error("slackbot: bot token is missing a required scope", "error", err)
			return fmt.Errorf("missing_scope: %w", err)
		}
		return err
	})
}
