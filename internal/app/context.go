package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stheg/dao-market-referrals-program/internal/chain"
	"github.com/stheg/dao-market-referrals-program/internal/config"
	"github.com/stheg/dao-market-referrals-program/internal/db"
	"github.com/stheg/dao-market-referrals-program/internal/engine"
	"github.com/stheg/dao-market-referrals-program/internal/metrics"
	"github.com/stheg/dao-market-referrals-program/internal/migrate"
	"github.com/stheg/dao-market-referrals-program/internal/token"
)

// Runtime is an opened workspace: the migrated database, the loaded config
// and an engine bound to the configured token mode.
type Runtime struct {
	DB       *sql.DB
	Config   *config.Config
	Engine   engine.Engine
	Registry *prometheus.Registry
	Ledger   *token.Ledger
	// Chain is set in erc20 mode and closed with the runtime.
	Chain *chain.Client
}

// LoadEnv reads <workspace>/.env if present. Variables already set in the
// process environment win.
func LoadEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Open loads dao.yml from workspace, migrates the database and wires the
// engine. The caller must Close the runtime.
func Open(ctx context.Context, workspace string, log *slog.Logger) (*Runtime, error) {
	if err := LoadEnv(workspace); err != nil {
		return nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	rt := &Runtime{DB: conn, Config: cfg, Registry: prometheus.NewRegistry()}

	var (
		tok  engine.Token
		exec engine.Executor
	)
	switch cfg.Token.Mode {
	case config.TokenModeERC20:
		client, err := chain.Dial(ctx, cfg.Chain)
		if err != nil {
			conn.Close()
			return nil, err
		}
		rt.Chain = client
		if client.From != cfg.CustodyAddress() {
			rt.Close()
			return nil, fmt.Errorf("key in %s controls %s, config custody is %s", cfg.Chain.KeyEnv, client.From.Hex(), cfg.CustodyAddress().Hex())
		}
		tok = chain.Token{Client: client, Address: cfg.TokenAddress()}
		exec = chain.Executor{Client: client}
	case config.TokenModeLedger, "":
		ledger := token.Ledger{Address: cfg.TokenAddress()}
		rt.Ledger = &ledger
		tok = token.Session{Ledger: ledger, Custody: cfg.CustodyAddress()}
		exec = token.NewExecutor(ledger)
	default:
		rt.Close()
		return nil, fmt.Errorf("unknown token mode %q", cfg.Token.Mode)
	}

	e := engine.New(conn, cfg, tok, exec)
	if log != nil {
		e.Log = log
	}
	if e.Metrics, err = metrics.NewPrometheus(rt.Registry); err != nil {
		rt.Close()
		return nil, err
	}
	rt.Engine = e
	return rt, nil
}

// ErrNoLedger is returned for token administration in erc20 mode.
var ErrNoLedger = errors.New("token commands need token.mode ledger")

// WithLedger runs fn in a transaction on the local token ledger.
func (r *Runtime) WithLedger(ctx context.Context, fn func(*sql.Tx, token.Ledger) error) error {
	if r.Ledger == nil {
		return ErrNoLedger
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx, *r.Ledger); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	r.Chain.Close()
	if r.DB == nil {
		return nil
	}
	return r.DB.Close()
}
