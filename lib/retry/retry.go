// Package retry wraps calls to the balance source with bounded retries and exponential backoff with jitter.
//
// A failed attempt (timeout, transport error, bad status or malformed payload) is reported and followed by a wait of
// 2^i units plus a random jitter in [0, 1) units, where i is the 0-indexed attempt. After the last attempt no wait
// happens and a single exhaustion report is sent. The caller gets the value and true, or the zero value and false
// when the source is unavailable.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Policy defaults
var (
	AttemptsDefault = 3
	UnitDefault     = time.Second
	TimeoutDefault  = 10 * time.Second
)

// Kinds of operations, also used as metric labels.
const (
	KindBalance = "balance"
	KindPrice   = "price"
	KindRank    = "rank"
)

// Policy is shared by every call site.
type Policy struct {
	Attempts int
	Unit     time.Duration // base of the exponential backoff and size of the jitter window
	Timeout  time.Duration // per attempt
}

// DefaultPolicy returns 3 attempts, 1 second unit and 10 seconds timeout.
func DefaultPolicy() Policy {
	return Policy{Attempts: AttemptsDefault, Unit: UnitDefault, Timeout: TimeoutDefault}
}

// Reporter receives diagnostic messages. The audit stream implements it.
type Reporter interface {
	Report(ctx context.Context, msg string)
}

// Observer is told the outcome of each attempt.
type Observer interface {
	Attempt(kind string, ok bool)
}

// Op describes one call site. Each kind has its own wording.
type Op struct {
	Kind    string
	timeout string
	errored string
	failed  string
}

// BalanceOp is a balance lookup for addr.
func BalanceOp(addr string) Op {
	return Op{
		Kind:    KindBalance,
		timeout: "wallet " + addr,
		errored: "value for wallet " + addr,
		failed:  "value for wallet " + addr,
	}
}

// PriceOp is the Divi price lookup.
func PriceOp() Op {
	return Op{Kind: KindPrice, timeout: "fetching Divi price", errored: "Divi price", failed: "Divi price"}
}

// RankOp is a rich list rank lookup for addr.
func RankOp(addr string) Op {
	return Op{
		Kind:    KindRank,
		timeout: "fetching rank for wallet " + addr,
		errored: "rich rank for wallet " + addr,
		failed:  "rank for wallet " + addr,
	}
}

// TimeoutMsg returns the diagnostic for a timed out attempt (0-indexed).
func (o Op) TimeoutMsg(attempt int) string {
	return fmt.Sprintf("Timeout error on attempt %d for %s.", attempt+1, o.timeout)
}

// ErrorMsg returns the diagnostic for a failed attempt (0-indexed).
func (o Op) ErrorMsg(attempt int, err error) string {
	return fmt.Sprintf("Error fetching %s on attempt %d: %v", o.errored, attempt+1, err)
}

// ExhaustedMsg returns the diagnostic sent once all attempts failed.
func (o Op) ExhaustedMsg(attempts int) string {
	return fmt.Sprintf("Failed to fetch %s after %d attempts.", o.failed, attempts)
}

// Client runs operations under a Policy.
type Client struct {
	policy   Policy
	reporter Reporter
	observer Observer
	log      *logrus.Entry

	// overridden in tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// Option configures a Client.
type Option func(*Client)

// WithObserver sets the attempt observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// New returns a Client. A zero field in p takes its default value.
func New(p Policy, r Reporter, log *logrus.Entry, opts ...Option) *Client {
	if p.Attempts <= 0 {
		p.Attempts = AttemptsDefault
	}

	if p.Unit <= 0 {
		p.Unit = UnitDefault
	}

	if p.Timeout <= 0 {
		p.Timeout = TimeoutDefault
	}

	c := &Client{policy: p, reporter: r, log: log, sleep: sleep, jitter: rand.Float64} //nolint:gosec // jitter only

	for _, o := range opts {
		o(c)
	}

	return c
}

// Policy returns the policy in use.
func (c *Client) Policy() Policy { return c.policy }

// Backoff returns the wait after the 0-indexed attempt i without jitter.
func (c *Client) Backoff(i int) time.Duration {
	return (1 << uint(i)) * c.policy.Unit
}

// Fetch calls fn up to Policy.Attempts times. It returns fn's value and true on the first success, or the zero value
// and false once the attempts are exhausted or ctx is done.
func Fetch[T any](ctx context.Context, c *Client, op Op, fn func(ctx context.Context) (T, error)) (T, bool) {
	var zero T

	for i := 0; i < c.policy.Attempts; i++ {
		actx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
		v, err := fn(actx)
		cancel()

		if c.observer != nil {
			c.observer.Attempt(op.Kind, err == nil)
		}

		if err == nil {
			return v, true
		}

		if ctx.Err() != nil {
			c.log.WithError(err).Debugf("%s lookup cancelled", op.Kind)

			return zero, false
		}

		if isTimeout(err) {
			c.report(ctx, op.TimeoutMsg(i))
		} else {
			c.report(ctx, op.ErrorMsg(i, err))
		}

		if i == c.policy.Attempts-1 {
			break
		}

		wait := c.Backoff(i) + time.Duration(c.jitter()*float64(c.policy.Unit))
		if err = c.sleep(ctx, wait); err != nil {
			return zero, false
		}
	}

	c.report(ctx, op.ExhaustedMsg(c.policy.Attempts))

	return zero, false
}

func (c *Client) report(ctx context.Context, msg string) {
	c.log.Warn(msg)

	if c.reporter != nil {
		c.reporter.Report(ctx, msg)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
