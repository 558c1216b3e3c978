// Package postgres implements the interface for PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system
	"github.com/shopspring/decimal"

	"github.com/tarancss/stakewatch/lib/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS wallets (
	user_id          TEXT        NOT NULL,
	wallet_address   TEXT        NOT NULL,
	previous_balance NUMERIC     NOT NULL,
	current_balance  NUMERIC     NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, wallet_address)
)`

const walletColumns = `user_id, wallet_address, previous_balance, current_balance, updated_at`

type Postgres struct {
	db *sqlx.DB
}

// New returns a postgres client connection to the specified database in 'connection'. The wallets table is created
// if missing.
func New(connection string) (*Postgres, error) {
	db, err := sqlx.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if err = db.Ping(); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot ping DB: %w", err)
	}

	if _, err = db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot create wallets table: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

func (p *Postgres) SaveWallet(ctx context.Context, w store.Wallet) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (`+walletColumns+`) VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, wallet_address)
		DO UPDATE SET previous_balance = EXCLUDED.previous_balance, current_balance = EXCLUDED.current_balance,
			updated_at = EXCLUDED.updated_at`,
		w.UserID, w.Address, w.Previous, w.Current)
	if err != nil {
		return fmt.Errorf("could not save wallet in db: %w", err)
	}

	return nil
}

func (p *Postgres) DeleteWallet(ctx context.Context, user, address string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM wallets WHERE user_id = $1 AND wallet_address = $2`, user, address)
	if err != nil {
		return fmt.Errorf("could not delete wallet from db: %w", err)
	}

	if n, _ := res.RowsAffected(); n != 1 {
		return store.ErrWalletNotFound
	}

	return nil
}

func (p *Postgres) GetWallets(ctx context.Context, user string) ([]store.Wallet, error) {
	ws := []store.Wallet{}

	err := p.db.SelectContext(ctx, &ws,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 ORDER BY wallet_address`, user)
	if err != nil {
		return nil, fmt.Errorf("error getting wallets from DB: %w", err)
	}

	return ws, nil
}

func (p *Postgres) AllWallets(ctx context.Context) ([]store.Wallet, error) {
	ws := []store.Wallet{}

	err := p.db.SelectContext(ctx, &ws, `SELECT `+walletColumns+` FROM wallets ORDER BY user_id, wallet_address`)
	if err != nil {
		return nil, fmt.Errorf("error getting wallets from DB: %w", err)
	}

	return ws, nil
}

func (p *Postgres) CountWallets(ctx context.Context, user string) (n int, err error) {
	if err = p.db.GetContext(ctx, &n, `SELECT count(*) FROM wallets WHERE user_id = $1`, user); err != nil {
		return 0, fmt.Errorf("cannot count wallets: %w", err)
	}

	return n, nil
}

// UpdateBalance only writes when current_balance still equals prev.
func (p *Postgres) UpdateBalance(ctx context.Context, user, address string, prev, cur decimal.Decimal) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE wallets SET previous_balance = $3, current_balance = $4, updated_at = now()
		WHERE user_id = $1 AND wallet_address = $2 AND current_balance = $3`,
		user, address, prev, cur)
	if err != nil {
		return fmt.Errorf("could not update wallet balance: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists bool
	if err = p.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1 AND wallet_address = $2)`, user, address); err != nil {
		return fmt.Errorf("could not update wallet balance: %w", err)
	}

	if !exists {
		return store.ErrWalletNotFound
	}

	return store.ErrWalletChanged
}

func (p *Postgres) Stats(ctx context.Context) (s store.Stats, err error) {
	err = p.db.GetContext(ctx, &s, `SELECT count(*) AS wallets, count(DISTINCT user_id) AS users FROM wallets`)
	if err != nil {
		return store.Stats{}, fmt.Errorf("cannot get stats: %w", err)
	}

	return s, nil
}

// DropWallets deletes every wallet. Only used by tests.
func (p *Postgres) DropWallets(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM wallets`)

	return err
}
