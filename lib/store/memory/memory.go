// Package memory implements the store interface in process memory. It is used for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tarancss/stakewatch/lib/store"
)

type key struct {
	user, addr string
}

// Memory holds wallets in a map guarded by a mutex.
type Memory struct {
	mu      sync.RWMutex
	wallets map[key]store.Wallet
}

// New returns an empty in-memory store.
func New() *Memory {
	return &Memory{wallets: make(map[key]store.Wallet)}
}

// SaveWallet inserts or replaces the wallet for the (user, address) pair.
func (m *Memory) SaveWallet(_ context.Context, w store.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w.UpdatedAt = time.Now().UTC()
	m.wallets[key{w.UserID, w.Address}] = w

	return nil
}

// DeleteWallet removes a wallet.
func (m *Memory) DeleteWallet(_ context.Context, user, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{user, address}
	if _, ok := m.wallets[k]; !ok {
		return store.ErrWalletNotFound
	}

	delete(m.wallets, k)

	return nil
}

// GetWallets returns the wallets of a user ordered by address.
func (m *Memory) GetWallets(_ context.Context, user string) ([]store.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws := []store.Wallet{}

	for k, w := range m.wallets {
		if k.user == user {
			ws = append(ws, w)
		}
	}

	sortWallets(ws)

	return ws, nil
}

// CountWallets returns how many wallets a user has.
func (m *Memory) CountWallets(ctx context.Context, user string) (int, error) {
	ws, err := m.GetWallets(ctx, user)

	return len(ws), err
}

// AllWallets returns a snapshot of every wallet.
func (m *Memory) AllWallets(_ context.Context) ([]store.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws := make([]store.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		ws = append(ws, w)
	}

	sortWallets(ws)

	return ws, nil
}

// UpdateBalance sets both balances if the current balance is still prev.
func (m *Memory) UpdateBalance(_ context.Context, user, address string, prev, cur decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{user, address}

	w, ok := m.wallets[k]
	if !ok {
		return store.ErrWalletNotFound
	}

	if !w.Current.Equal(prev) {
		return store.ErrWalletChanged
	}

	w.Previous, w.Current, w.UpdatedAt = prev, cur, time.Now().UTC()
	m.wallets[k] = w

	return nil
}

// Stats returns the number of wallets and distinct users.
func (m *Memory) Stats(_ context.Context) (store.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make(map[string]struct{})
	for k := range m.wallets {
		users[k.user] = struct{}{}
	}

	return store.Stats{Wallets: len(m.wallets), Users: len(users)}, nil
}

func sortWallets(ws []store.Wallet) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].UserID != ws[j].UserID {
			return ws[i].UserID < ws[j].UserID
		}

		return ws[i].Address < ws[j].Address
	})
}
