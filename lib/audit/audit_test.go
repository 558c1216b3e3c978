package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tarancss/stakewatch/lib/logging"
	"github.com/tarancss/stakewatch/lib/retry"
)

type sink struct {
	msgs []string
	err  error
}

func (s *sink) Deliver(_ context.Context, _, message string) error {
	s.msgs = append(s.msgs, message)

	return s.err
}

func TestAction(t *testing.T) {
	s := &sink{}
	a := New(s, "42", logging.Discard())

	a.Action(context.Background(), "7", "alice", "!summary used for alice")
	a.Action(context.Background(), "42", "admin", "!summary used for admin")

	assert.Equal(t, []string{"User `alice` performed action: !summary used for alice"}, s.msgs)
	assert.True(t, a.IsAdmin("42"))
	assert.False(t, a.IsAdmin("420"))
}

func TestReport(t *testing.T) {
	s := &sink{err: errors.New("webhook down")}
	a := New(s, "", logging.Discard())

	var r retry.Reporter = a
	r.Report(context.Background(), "Failed to fetch Divi price after 3 attempts.")

	assert.Equal(t, []string{"🚨 **Error**: Failed to fetch Divi price after 3 attempts."}, s.msgs)
	assert.False(t, a.IsAdmin(""))
}

func TestNoSink(t *testing.T) {
	a := New(nil, "", logging.Discard())
	a.Action(context.Background(), "7", "alice", "!help used for alice")
	a.Report(context.Background(), "boom")
}

func TestReportForAdmin(t *testing.T) {
	s := &sink{}
	a := New(s, "42", logging.Discard())

	a.Report(WithActor(context.Background(), "42"), "Error handling !adminstats for user 42: db down")
	assert.Empty(t, s.msgs)

	a.Report(WithActor(context.Background(), "7"), "Error handling !summary for user 7: db down")
	a.Report(context.Background(), "Failed to fetch Divi price after 3 attempts.")
	assert.Len(t, s.msgs, 2)
	assert.Equal(t, "7", Actor(WithActor(context.Background(), "7")))
	assert.Equal(t, "", Actor(context.Background()))
}
