package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slack-go/slack"

	"github.com/dropzone-labs/dropzone/pkg/airdrop"
	"github.com/dropzone-labs/dropzone/pkg/ledger"
	"github.com/dropzone-labs/dropzone/pkg/logger"
	"github.com/dropzone-labs/dropzone/pkg/metrics"
	"github.com/dropzone-labs/dropzone/pkg/server"
	"github.com/dropzone-labs/dropzone/pkg/slackbot"
	"github.com/dropzone-labs/dropzone/pkg/store"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the process together: one store, one ledger, one manager, one
// bot, all constructed here and passed down explicitly.
//
// Required environment:
//   - SLACK_BOT_TOKEN, SLACK_APP_TOKEN - socket-mode bot credentials
//   - DATABASE_URL - postgres connection string
//   - SPENDING_PRIVATE_KEY - base58 key of the payout wallet
//
// Optional:
//   - SOLANA_RPC_URL (default mainnet), SOLANA_CLUSTER ("devnet"/"testnet")
//   - DATABASE_RUN_MIGRATIONS=true to apply migrations on boot
func run() error {
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Address for health/status endpoints")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	tickIntervalFlag := flag.Duration("tick-interval", airdrop.DefaultTickInterval, "How often the airdrop frame loop runs")
	payoutPacingFlag := flag.Duration("payout-pacing", airdrop.DefaultPayoutPacing, "Delay between entrant payouts")
	flag.Parse()

	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	botToken := os.Getenv("SLACK_BOT_TOKEN")
	if botToken == "" {
		return fmt.Errorf("SLACK_BOT_TOKEN is required")
	}
	appToken := os.Getenv("SLACK_APP_TOKEN")
	if appToken == "" {
		return fmt.Errorf("SLACK_APP_TOKEN is required")
	}
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	spendingKey := os.Getenv("SPENDING_PRIVATE_KEY")
	if spendingKey == "" {
		return fmt.Errorf("SPENDING_PRIVATE_KEY is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Metrics server
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to serve prometheus metrics", "error", err)
			}
		}()
	}

	// Postgres
	if os.Getenv("DATABASE_RUN_MIGRATIONS") == "true" {
		if err := store.RunMigrations(log, databaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	pool, err := store.NewPool(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	st, err := store.New(store.Config{Logger: log, Pool: pool})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	// Solana ledger
	ledgerClient, err := ledger.New(ledger.Config{
		Logger:      log,
		RPCURL:      os.Getenv("SOLANA_RPC_URL"),
		SpendingKey: spendingKey,
		Cluster:     os.Getenv("SOLANA_CLUSTER"),
	})
	if err != nil {
		return fmt.Errorf("failed to create ledger client: %w", err)
	}
	log.Info("ledger client initialized", "spending_address", ledgerClient.SpendingAddress())

	// Slack client + notification sink
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	notifier, err := slackbot.NewNotifier(slackbot.NotifierConfig{
		Logger: log,
		API:    api,
		Ledger: ledgerClient,
	})
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}

	// Lifecycle manager
	manager, err := airdrop.NewManager(airdrop.ManagerConfig{
		Logger:       log,
		Store:        st,
		Ledger:       ledgerClient,
		Notifier:     notifier,
		TickInterval: *tickIntervalFlag,
		PayoutPacing: *payoutPacingFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create airdrop manager: %w", err)
	}
	manager.Start(ctx)

	// Chat surface
	bot, err := slackbot.New(slackbot.Config{
		Logger:   log,
		API:      api,
		Manager:  manager,
		Store:    st,
		Ledger:   ledgerClient,
		Notifier: notifier,
	})
	if err != nil {
		return fmt.Errorf("failed to create slack bot: %w", err)
	}

	botErrCh := make(chan error, 1)
	go func() {
		if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
			botErrCh <- fmt.Errorf("slack bot stopped: %w", err)
		}
	}()

	// Health/status endpoints
	srv, err := server.New(server.Config{
		Logger:     log,
		Manager:    manager,
		ListenAddr: *listenAddrFlag,
		VersionInfo: server.VersionInfo{
			Version: version,
			Commit:  commit,
			Date:    date,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Run(ctx)
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Second)
	defer waitCancel()
	if err := manager.WaitReady(waitCtx); err != nil {
		log.Warn("manager not ready yet, continuing startup", "error", err)
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down", "reason", ctx.Err())
		return <-srvErrCh
	case err := <-botErrCh:
		cancel()
		<-srvErrCh
		return err
	case err := <-srvErrCh:
		cancel()
		return err
	}
}
