// Package explorer implements the wallet explorer. The explorer periodically reads the balance of every tracked
// wallet from the balance source, compares it with the stored balance and, when it changed, notifies the owner,
// publishes a balance event and stores the new balance.
//
// Each wallet is reconciled on its own: a wallet whose balance cannot be fetched is skipped until the next scan and
// a failed notification does not prevent the new balance from being stored. Scans never overlap.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tarancss/stakewatch/lib/block"
	"github.com/tarancss/stakewatch/lib/metrics"
	"github.com/tarancss/stakewatch/lib/msg"
	"github.com/tarancss/stakewatch/lib/msg/types"
	"github.com/tarancss/stakewatch/lib/notify"
	"github.com/tarancss/stakewatch/lib/retry"
	"github.com/tarancss/stakewatch/lib/store"
)

// Defaults
var (
	IntervalDefault = 60 * time.Second
	RewardDefault   = decimal.NewFromInt(581) //nolint:gomnd // Divi staking reward
)

// Options are the optional collaborators and settings of an Explorer.
type Options struct {
	Interval time.Duration
	Reward   decimal.Decimal  // a change equal to this amount is a staking reward
	Broker   msg.MsgBroker    // balance events are not published when nil
	Metrics  *metrics.Metrics // may be nil
}

// Explorer implements the explorer service.
type Explorer struct {
	db       store.DB
	src      block.Source
	rc       *retry.Client
	sink     notify.Sink
	rep      retry.Reporter
	mb       msg.MsgBroker
	met      *metrics.Metrics
	reward   decimal.Decimal
	interval time.Duration
	log      *logrus.Entry

	mu   sync.Mutex // guards c
	c    *cron.Cron
	wg   sync.WaitGroup
	now  func() time.Time
	stop context.CancelFunc
}

// Report summarizes a scan.
type Report struct {
	Wallets   int // wallets in the snapshot
	Changed   int // notified and stored
	Unchanged int
	Skipped   int // balance unavailable
	Failed    int // the new balance could not be stored
}

type outcome int

const (
	unchanged outcome = iota
	changed
	skipped
	failed
)

// New instantiates a new explorer service. rep receives operational errors.
func New(db store.DB, src block.Source, rc *retry.Client, sink notify.Sink, rep retry.Reporter, opts Options,
	log *logrus.Entry,
) *Explorer {
	if opts.Interval <= 0 {
		opts.Interval = IntervalDefault
	}

	if opts.Reward.IsZero() {
		opts.Reward = RewardDefault
	}

	return &Explorer{
		db:       db,
		src:      src,
		rc:       rc,
		sink:     sink,
		rep:      rep,
		mb:       opts.Broker,
		met:      opts.Metrics,
		reward:   opts.Reward,
		interval: opts.Interval,
		log:      log.WithField("source", src.Name()),
		now:      time.Now,
	}
}

// Start runs a scan immediately and then one every interval until Stop is called or ctx is done. A scan due while
// the previous one is still running is skipped.
func (e *Explorer) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.c != nil {
		return
	}

	ctx, e.stop = context.WithCancel(ctx)

	job := cron.NewChain(cron.SkipIfStillRunning(cron.PrintfLogger(e.log))).Then(cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}

		_, _ = e.Scan(ctx)
	}))

	e.c = cron.New()
	e.c.Schedule(cron.Every(e.interval), job)
	e.c.Start()

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		job.Run()
	}()

	e.log.WithField("interval", e.interval.String()).Info("explorer started")
}

// Stop stops scheduling scans and waits for a running scan to finish its current wallet, or for ctx to be done.
func (e *Explorer) Stop(ctx context.Context) error {
	e.mu.Lock()
	c := e.c
	e.c = nil
	e.mu.Unlock()

	if c == nil {
		return nil
	}

	e.stop()

	done := make(chan struct{})

	go func() {
		<-c.Stop().Done()
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.log.Info("explorer stopped")

		return nil
	case <-ctx.Done():
		return fmt.Errorf("explorer did not stop in time: %w", ctx.Err())
	}
}

// Scan reconciles every tracked wallet once. Only a failure to read the wallets or a panic is returned as error,
// both are also sent to the reporter. Per wallet problems are logged and counted in the Report.
func (e *Explorer) Scan(ctx context.Context) (r Report, err error) {
	start := e.now()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}

		if err != nil {
			e.report(ctx, "Error during wallet monitoring: "+err.Error())
		}

		e.met.Scan(err == nil, r.Wallets, e.now().Sub(start))
		e.log.WithFields(logrus.Fields{
			"wallets":   r.Wallets,
			"changed":   r.Changed,
			"unchanged": r.Unchanged,
			"skipped":   r.Skipped,
			"failed":    r.Failed,
		}).Info("scan finished")
	}()

	ws, err := e.db.AllWallets(ctx)
	if err != nil {
		return r, err
	}

	r.Wallets = len(ws)

	for _, w := range ws {
		// stop between wallets, never halfway through one
		if ctx.Err() != nil {
			e.log.Info("scan interrupted")

			break
		}

		switch e.reconcile(ctx, w) {
		case unchanged:
			r.Unchanged++
		case changed:
			r.Changed++
		case skipped:
			r.Skipped++
		case failed:
			r.Failed++
		}
	}

	return r, nil
}

func (e *Explorer) reconcile(ctx context.Context, w store.Wallet) outcome {
	log := e.log.WithFields(logrus.Fields{"user": w.UserID, "address": w.Address})

	live, ok := retry.Fetch(ctx, e.rc, retry.BalanceOp(w.Address),
		func(ctx context.Context) (decimal.Decimal, error) {
			return e.src.Balance(ctx, w.Address)
		})
	if !ok {
		log.Debug("balance unavailable, skipping")

		return skipped
	}

	delta := live.Sub(w.Current)
	if delta.IsZero() {
		return unchanged
	}

	log = log.WithFields(logrus.Fields{"previous": w.Current.String(), "current": live.String()})

	// once fetched, the wallet is settled even if the scan is being stopped
	ctx = context.WithoutCancel(ctx)

	// notify first, the new balance is stored even if the owner could not be told
	err := e.sink.Deliver(ctx, w.UserID, Message(w.UserID, w.Address, delta, e.reward))
	e.met.Notification(err == nil)

	if err != nil {
		log.WithError(err).Warn("cannot notify balance change")
	}

	if e.mb != nil {
		if err = e.mb.SendEvent(e.event(w, live, delta)); err != nil {
			log.WithError(err).Warn("cannot publish balance event")
		}
	}

	err = e.db.UpdateBalance(ctx, w.UserID, w.Address, w.Current, live)

	switch {
	case err == nil:
		log.Info("balance changed")

		return changed
	case errors.Is(err, store.ErrWalletNotFound), errors.Is(err, store.ErrWalletChanged):
		// removed or re-added meanwhile, the next scan compares against what is stored now
		log.WithError(err).Warn("wallet changed during scan")
	default:
		log.WithError(err).Error("cannot store balance")
		e.report(ctx, fmt.Sprintf("Error updating balance for wallet %s: %v", w.Address, err))
	}

	return failed
}

func (e *Explorer) event(w store.Wallet, live, delta decimal.Decimal) types.BalanceEvent {
	return types.BalanceEvent{
		ID:       uuid.NewString(),
		UserID:   w.UserID,
		Address:  w.Address,
		Previous: w.Current.String(),
		Current:  live.String(),
		Delta:    delta.String(),
		Reward:   delta.Equal(e.reward),
		TS:       e.now().Unix(),
	}
}

func (e *Explorer) report(ctx context.Context, msg string) {
	if e.rep == nil {
		e.log.Error(msg)

		return
	}

	e.rep.Report(ctx, msg)
}
