// Package block defines the interface required for the external balance source of the tracked network.
package block

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Source is an interface that contains the read-only lookups the bot needs. Implementations make one request per
// call; retries are left to the caller.
type Source interface {
	Name() string
	// Balance returns the confirmed balance of addr.
	Balance(ctx context.Context, addr string) (decimal.Decimal, error)
	// Price returns the price of the coin in USD.
	Price(ctx context.Context) (decimal.Decimal, error)
	// Rank returns the position of addr in the rich list as reported by the source.
	Rank(ctx context.Context, addr string) (string, error)
}

// Errors returned by sources
var (
	ErrStatus     = errors.New("unexpected response status")
	ErrBadPayload = errors.New("malformed response payload")
)
