package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver with database/sql for goose
	"github.com/pressly/goose/v3"

	"github.com/dropzone-labs/dropzone/pkg/airdrop"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

// Store implements airdrop.Store on PostgreSQL. Entrants live in their own
// table so joins and leaves are single-row writes, never record rewrites.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log:  cfg.Logger,
		pool: cfg.Pool,
	}, nil
}

// NewPool connects a pgx pool and verifies connectivity.
func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(log *slog.Logger, connStr string) error {
	log.Info("store: running postgres migrations")

	goose.SetBaseFS(embedMigrations)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("store: postgres migrations completed")
	return nil
}

func (s *Store) ListAirdrops(ctx context.Context) ([]*airdrop.Airdrop, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, team_id, channel_id, message_ts, sponsor_id, amount, end_time FROM airdrops`)
	if err != nil {
		return nil, fmt.Errorf("failed to query airdrops: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*airdrop.Airdrop)
	var out []*airdrop.Airdrop
	for rows.Next() {
		a := &airdrop.Airdrop{Entrants: make(map[string]airdrop.Entrant)}
		if err := rows.Scan(&a.ID, &a.Origin.TeamID, &a.Origin.ChannelID, &a.Origin.MessageTS, &a.Sponsor, &a.Amount, &a.EndTime); err != nil {
			return nil, fmt.Errorf("failed to scan airdrop row: %w", err)
		}
		byID[a.ID] = a
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read airdrop rows: %w", err)
	}

	entrantRows, err := s.pool.Query(ctx,
		`SELECT airdrop_id, user_id, tx_sig FROM airdrop_entrants`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entrants: %w", err)
	}
	defer entrantRows.Close()

	for entrantRows.Next() {
		var airdropID string
		var e airdrop.Entrant
		if err := entrantRows.Scan(&airdropID, &e.UserID, &e.TxSig); err != nil {
			return nil, fmt.Errorf("failed to scan entrant row: %w", err)
		}
		if a, ok := byID[airdropID]; ok {
			a.Entrants[e.UserID] = e
		}
	}
	if err := entrantRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entrant rows: %w", err)
	}

	s.log.Debug("store: listed airdrops", "count", len(out))
	return out, nil
}

func (s *Store) InsertAirdrop(ctx context.Context, a *airdrop.Airdrop) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO airdrops (id, team_id, channel_id, message_ts, sponsor_id, amount, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Origin.TeamID, a.Origin.ChannelID, a.Origin.MessageTS, a.Sponsor, a.Amount, a.EndTime)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: %s", airdrop.ErrDuplicate, a.ID)
		}
		return fmt.Errorf("failed to insert airdrop: %w", err)
	}

	for _, e := range a.Entrants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO airdrop_entrants (airdrop_id, user_id, tx_sig) VALUES ($1, $2, $3)`,
			a.ID, e.UserID, e.TxSig); err != nil {
			return fmt.Errorf("failed to insert entrant %s: %w", e.UserID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// DeleteAirdrop removes a record and, via cascade, its entrants. Deleting an
// absent record is not an error.
func (s *Store) DeleteAirdrop(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM airdrops WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete airdrop %s: %w", id, err)
	}
	return nil
}

// AddEntrant is an atomic set-union: inserting an existing entrant is a
// no-op.
func (s *Store) AddEntrant(ctx context.Context, id, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO airdrop_entrants (airdrop_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (airdrop_id, user_id) DO NOTHING`,
		id, userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: %s", airdrop.ErrNotFound, id)
		}
		return fmt.Errorf("failed to add entrant %s to %s: %w", userID, id, err)
	}
	return nil
}

// RemoveEntrant is an atomic set-removal; removing an absent entrant is a
// no-op.
func (s *Store) RemoveEntrant(ctx context.Context, id, userID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM airdrop_entrants WHERE airdrop_id = $1 AND user_id = $2`,
		id, userID)
	if err != nil {
		return fmt.Errorf("failed to remove entrant %s from %s: %w", userID, id, err)
	}
	return nil
}

func (s *Store) MarkEntrantPaid(ctx context.Context, id, userID, txSig string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE airdrop_entrants SET tx_sig = $3 WHERE airdrop_id = $1 AND user_id = $2`,
		id, userID, txSig)
	if err != nil {
		return fmt.Errorf("failed to mark entrant %s paid: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entrant %s of %s", airdrop.ErrNotFound, userID, id)
	}
	return nil
}

func (s *Store) GetUserAddress(ctx context.Context, userID string) (string, error) {
	var address string
	err := s.pool.QueryRow(ctx,
		`SELECT address FROM users WHERE user_id = $1`, userID).Scan(&address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", airdrop.ErrAddressNotRegistered, userID)
		}
		return "", fmt.Errorf("failed to look up address for %s: %w", userID, err)
	}
	return address, nil
}

// RegisterUser upserts the user's payout address; re-registering replaces it.
func (s *Store) RegisterUser(ctx context.Context, userID, address string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, address) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET address = EXCLUDED.address, registered_at = now()`,
		userID, address)
	if err != nil {
		return fmt.Errorf("failed to register user %s: %w", userID, err)
	}
	return nil
}
