package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dropzone-labs/dropzone/pkg/airdrop"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger            *slog.Logger
	Clock             clockwork.Clock
	Manager           *airdrop.Manager
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Manager == nil {
		return errors.New("manager is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return nil
}

// Server exposes the bot's operational endpoints: liveness, readiness and a
// snapshot of the open airdrops.
type Server struct {
	log     *slog.Logger
	cfg     Config
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("server: failed to write healthz response", "error", err)
		}
	}))
	mux.Handle("/readyz", http.HandlerFunc(s.readyzHandler))
	mux.Handle("/status", http.HandlerFunc(s.statusHandler))
	mux.Handle("/version", http.HandlerFunc(s.versionHandler))

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Manager.Ready() {
		http.Error(w, "manager has not completed its first reconcile", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ready\n")); err != nil {
		s.log.Error("server: failed to write readyz response", "error", err)
	}
}

type airdropStatus struct {
	ID       string  `json:"id"`
	Channel  string  `json:"channel"`
	Amount   float64 `json:"amount"`
	Entrants int     `json:"entrants"`
	Split    float64 `json:"split"`
	EndsIn   string  `json:"ends_in"`
	NearEnd  bool    `json:"near_end"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	now := s.cfg.Clock.Now()
	open := s.cfg.Manager.List()

	airdrops := make([]airdropStatus, 0, len(open))
	for _, a := range open {
		airdrops = append(airdrops, airdropStatus{
			ID:       a.ID,
			Channel:  a.Origin.ChannelID,
			Amount:   a.Amount,
			Entrants: len(a.Entrants),
			Split:    a.Split(),
			EndsIn:   a.EndsIn(now).Round(time.Second).String(),
			NearEnd:  a.NearEnd(now),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"open_airdrops": len(airdrops),
		"airdrops":      airdrops,
	}); err != nil {
		s.log.Error("server: failed to write status response", "error", err)
	}
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.cfg.VersionInfo); err != nil {
		s.log.Error("server: failed to write version response", "error", err)
	}
}
