package explorer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/stakewatch/lib/block"
	"github.com/tarancss/stakewatch/lib/logging"
	"github.com/tarancss/stakewatch/lib/msg/types"
	"github.com/tarancss/stakewatch/lib/retry"
	"github.com/tarancss/stakewatch/lib/store"
	"github.com/tarancss/stakewatch/lib/store/memory"
)

// source is a balance source serving fixed balances. Unknown addresses fail.
type source struct {
	mu    sync.Mutex
	bal   map[string]string
	calls int
	panic bool
}

func (s *source) Name() string { return "mock" }

func (s *source) Balance(_ context.Context, addr string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++

	if s.panic {
		panic("boom")
	}

	b, ok := s.bal[addr]
	if !ok {
		return decimal.Zero, block.ErrStatus
	}

	return decimal.RequireFromString(b), nil
}

func (s *source) Price(context.Context) (decimal.Decimal, error) { return decimal.Zero, block.ErrStatus }

func (s *source) Rank(context.Context, string) (string, error) { return "", block.ErrStatus }

type delivery struct{ to, msg string }

type sink struct {
	mu   sync.Mutex
	sent []delivery
	err  error
}

func (s *sink) Deliver(_ context.Context, to, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, delivery{to, msg})

	return s.err
}

type reporter struct {
	mu   sync.Mutex
	msgs []string
}

func (r *reporter) Report(_ context.Context, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs = append(r.msgs, msg)
}

type broker struct{ events []types.BalanceEvent }

func (b *broker) Setup(interface{}) error { return nil }
func (b *broker) Close() error            { return nil }

func (b *broker) SendEvent(e types.BalanceEvent) error {
	b.events = append(b.events, e)

	return nil
}

// failingStore fails the chosen operations.
type failingStore struct {
	*memory.Memory
	all    error
	update error
}

func (f *failingStore) AllWallets(ctx context.Context) ([]store.Wallet, error) {
	if f.all != nil {
		return nil, f.all
	}

	return f.Memory.AllWallets(ctx)
}

func (f *failingStore) UpdateBalance(ctx context.Context, user, addr string, prev, cur decimal.Decimal) error {
	if f.update != nil {
		return f.update
	}

	return f.Memory.UpdateBalance(ctx, user, addr, prev, cur)
}

type fixture struct {
	db  *memory.Memory
	src *source
	snk *sink
	rep *reporter
	mb  *broker
	e   *Explorer
}

func newFixture(t *testing.T, db store.DB) *fixture {
	t.Helper()

	f := &fixture{src: &source{bal: map[string]string{}}, snk: &sink{}, rep: &reporter{}, mb: &broker{}}
	if db == nil {
		f.db = memory.New()
		db = f.db
	}

	rc := retry.New(retry.Policy{Attempts: 1, Unit: time.Millisecond, Timeout: time.Second}, f.rep, logging.Discard())
	f.e = New(db, f.src, rc, f.snk, f.rep, Options{Broker: f.mb}, logging.Discard())

	return f
}

func save(t *testing.T, db store.DB, user, addr, bal string) {
	t.Helper()

	d := decimal.RequireFromString(bal)
	require.NoError(t, db.SaveWallet(context.Background(), store.Wallet{UserID: user, Address: addr, Previous: d,
		Current: d}))
}

func wallet(t *testing.T, db store.DB, user, addr string) store.Wallet {
	t.Helper()

	ws, err := db.GetWallets(context.Background(), user)
	require.NoError(t, err)

	for _, w := range ws {
		if w.Address == addr {
			return w
		}
	}

	t.Fatalf("wallet %s of %s not found", addr, user)

	return store.Wallet{}
}

func TestScanNoChange(t *testing.T) {
	f := newFixture(t, nil)
	save(t, f.db, "u1", "DAbc", "100.5")
	f.src.bal["DAbc"] = "100.50"

	r, err := f.e.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Wallets: 1, Unchanged: 1}, r)
	assert.Empty(t, f.snk.sent)
	assert.Empty(t, f.mb.events)

	w := wallet(t, f.db, "u1", "DAbc")
	assert.True(t, w.Previous.Equal(decimal.RequireFromString("100.5")))
}

func TestScanExactDelta(t *testing.T) {
	f := newFixture(t, nil)
	save(t, f.db, "u1", "DAbc", "0.1")
	f.src.bal["DAbc"] = "0.3"

	r, err := f.e.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Wallets: 1, Changed: 1}, r)

	// no binary floating point drift: 0.3 - 0.1 is exactly 0.2
	require.Len(t, f.snk.sent, 1)
	assert.Equal(t, "u1", f.snk.sent[0].to)
	assert.Equal(t, "📢 **Wallet Balance Change** for Wallet `DAbc`!\nBalance changed by: 0.2", f.snk.sent[0].msg)

	w := wallet(t, f.db, "u1", "DAbc")
	assert.True(t, w.Previous.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, w.Current.Equal(decimal.RequireFromString("0.3")))

	require.Len(t, f.mb.events, 1)
	assert.Equal(t, "0.2", f.mb.events[0].Delta)
	assert.False(t, f.mb.events[0].Reward)
	assert.NotEmpty(t, f.mb.events[0].ID)

	// the stored balance is the new baseline
	r, err = f.e.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Wallets: 1, Unchanged: 1}, r)
	assert.Len(t, f.snk.sent, 1)
}

func TestScanReward(t *testing.T) {
	f := newFixture(t, nil)
	save(t, f.db, "u1", "DAbc", "1000")
	f.src.bal["DAbc"] = "1581.000"

	_, err := f.e.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, f.snk.sent, 1)
	assert.Equal(t,
		"🎉 **Congratulations <@u1>!** Wallet DAbc just earned a staking reward of **581**! Keep it up! 🚀",
		f.snk.sent[0].msg)
	assert.True(t, f.mb.events[0].Reward)
}

func TestScanIsolation(t *testing.T) {
	f := newFixture(t, nil)
	save(t, f.db, "u1", "DAbc", "10")
	save(t, f.db, "u1", "DDown", "10")
	save(t, f.db, "u2", "DXyz", "10")
	f.src.bal["DAbc"] = "11"
	f.src.bal["DXyz"] = "9"

	r, err := f.e.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Wallets: 3, Changed: 2, Skipped: 1}, r)

	// the unavailable wallet keeps its baseline
	w := wallet(t, f.db, "u1", "DDown")
	assert.True(t, w.Current.Equal(decimal.NewFromInt(10)))
	assert.Len(t, f.snk.sent, 2)
	assert.Contains(t, f.rep.msgs, "Failed to fetch value for wallet DDown after 1 attempts.")

	w = wallet(t, f.db, "u2", "DXyz")
	assert.True(t, w.Current.Equal(decimal.NewFromInt(9)))
}

func TestScanNotifyFailureStillStores(t *testing.T) {
	f := newFixture(t, nil)
	f.snk.err = errors.New("cannot send to user")
	save(t, f.db, "u1", "DAbc", "10")
	f.src.bal["DAbc"] = "12"

	r, err := f.e.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Changed)

	w := wallet(t, f.db, "u1", "DAbc")
	assert.True(t, w.Current.Equal(decimal.NewFromInt(12)))
}

func TestScanStoreFailure(t *testing.T) {
	fs := &failingStore{Memory: memory.New(), update: errors.New("connection reset")}
	f := newFixture(t, fs)
	save(t, fs, "u1", "DAbc", "10")
	f.src.bal["DAbc"] = "12"

	r, err := f.e.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Wallets: 1, Failed: 1}, r)
	assert.Equal(t, []string{"Error updating balance for wallet DAbc: connection reset"}, f.rep.msgs)

	// a concurrent change is not an operational error
	fs.update = store.ErrWalletChanged
	f.rep.msgs = nil

	r, err = f.e.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Failed)
	assert.Empty(t, f.rep.msgs)
}

func TestScanErrors(t *testing.T) {
	fs := &failingStore{Memory: memory.New(), all: errors.New("db down")}
	f := newFixture(t, fs)

	_, err := f.e.Scan(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"Error during wallet monitoring: db down"}, f.rep.msgs)

	fs.all = nil
	save(t, fs, "u1", "DAbc", "10")
	f.src.panic = true
	f.rep.msgs = nil

	_, err = f.e.Scan(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"Error during wallet monitoring: panic: boom"}, f.rep.msgs)
}

func TestScanCancelled(t *testing.T) {
	f := newFixture(t, nil)
	save(t, f.db, "u1", "DAbc", "10")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := f.e.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Wallets: 1}, r)
	assert.Zero(t, f.src.calls)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, nil)
	save(t, f.db, "u1", "DAbc", "10")
	f.src.bal["DAbc"] = "11"
	f.e.interval = time.Hour

	f.e.Start(context.Background())
	f.e.Start(context.Background()) // no-op while running

	assert.Eventually(t, func() bool {
		f.snk.mu.Lock()
		defer f.snk.mu.Unlock()

		return len(f.snk.sent) == 1
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, f.e.Stop(ctx))
	require.NoError(t, f.e.Stop(ctx))

	w := wallet(t, f.db, "u1", "DAbc")
	assert.True(t, w.Current.Equal(decimal.NewFromInt(11)))
}

func TestMessage(t *testing.T) {
	reward := decimal.NewFromInt(581)

	assert.Equal(t, "📢 **Wallet Balance Change** for Wallet `DAbc`!\nBalance changed by: -3.25",
		Message("u1", "DAbc", decimal.RequireFromString("-3.25"), reward))
	assert.Contains(t, Message("u1", "DAbc", decimal.RequireFromString("581.00"), reward), "staking reward of **581**")
	assert.Contains(t, Message("u1", "DAbc", decimal.NewFromInt(580), reward), "Wallet Balance Change")
}

// ctxStore rejects writes on a done context, as network stores do.
type ctxStore struct{ *memory.Memory }

func (c ctxStore) UpdateBalance(ctx context.Context, user, addr string, prev, cur decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.Memory.UpdateBalance(ctx, user, addr, prev, cur)
}

// stoppingSink stops the scan while the owner is being notified.
type stoppingSink struct {
	sink
	stop context.CancelFunc
}

func (s *stoppingSink) Deliver(ctx context.Context, to, msg string) error {
	s.stop()

	return s.sink.Deliver(ctx, to, msg)
}

func TestScanStoppedWhileNotifying(t *testing.T) {
	db := ctxStore{memory.New()}
	f := newFixture(t, db)
	save(t, db, "u1", "DAbc", "10")
	save(t, db, "u1", "DXyz", "10")
	f.src.bal["DAbc"] = "12"
	f.src.bal["DXyz"] = "12"

	ctx, cancel := context.WithCancel(context.Background())
	snk := &stoppingSink{stop: cancel}
	f.e.sink = snk

	r, err := f.e.Scan(ctx)
	require.NoError(t, err)

	// the notified wallet is stored, the next one is left for the next scan
	assert.Equal(t, Report{Wallets: 2, Changed: 1}, r)
	assert.Len(t, snk.sent, 1)
	assert.Empty(t, f.rep.msgs)

	w := wallet(t, db, "u1", "DAbc")
	assert.True(t, w.Current.Equal(decimal.NewFromInt(12)))

	// no duplicate notification for the settled wallet
	snk.stop = func() {}

	r, err = f.e.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Wallets: 2, Changed: 1, Unchanged: 1}, r)
	require.Len(t, snk.sent, 2)
	assert.Contains(t, snk.sent[1].msg, "DXyz")
}
