package amqp

import (
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/stakewatch/lib/logging"
	"github.com/tarancss/stakewatch/lib/msg/types"
)

// A caller reading only events must not block the consumer on decode errors, and both channels close with the
// deliveries.
func TestConsumeUndrainedErrors(t *testing.T) {
	r := &Amqp{log: logging.Discard()}

	bad := errsBuffer + 4
	msgs := make(chan amqp.Delivery, bad+1)

	for i := 0; i < bad; i++ {
		msgs <- amqp.Delivery{Body: []byte("{not json")}
	}

	msgs <- amqp.Delivery{Body: []byte(`{"id":"e1","user":"u1","address":"DAbc","current":"681","reward":true}`)}
	close(msgs)

	eves := make(chan types.BalanceEvent)
	errs := make(chan error, errsBuffer)

	go r.consume(msgs, eves, errs)

	got := []types.BalanceEvent{}
	for e := range eves {
		got = append(got, e)
	}

	require.Len(t, got, 1)
	assert.Equal(t, "DAbc", got[0].Address)
	assert.True(t, got[0].Reward)

	n := 0
	for err := range errs {
		assert.Contains(t, err.Error(), "cannot decode balance event")
		n++
	}

	assert.Equal(t, errsBuffer, n)
}
