// Package store defines the interface for database implementations of the wallet store.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// DB defines required methods for the command front end and the explorer.
type DB interface {
	// methods for the command front end
	SaveWallet(ctx context.Context, w Wallet) error
	DeleteWallet(ctx context.Context, user, address string) error
	GetWallets(ctx context.Context, user string) ([]Wallet, error)
	CountWallets(ctx context.Context, user string) (int, error)
	Stats(ctx context.Context) (Stats, error)
	// methods for the explorer
	AllWallets(ctx context.Context) ([]Wallet, error)
	// UpdateBalance sets previous and current balances in one write, only if the stored current balance still
	// equals prev.
	UpdateBalance(ctx context.Context, user, address string, prev, cur decimal.Decimal) error
}

// Errors returned
var (
	ErrWalletNotFound = errors.New("wallet was not found in store")
	ErrWalletChanged  = errors.New("wallet balance changed in store since it was read")
)
