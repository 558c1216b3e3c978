package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/stakewatch/lib/retry"
)

func TestMetrics(t *testing.T) {
	m := New()

	var _ retry.Observer = m

	m.Scan(true, 4, 2*time.Second)
	m.Attempt(retry.KindBalance, false)
	m.Attempt(retry.KindBalance, true)
	m.Notification(true)
	m.Command("!summary")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues("ok")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.wallets))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchAttempts.WithLabelValues("balance", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("ok")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `stakewatch_fetch_attempts_total{kind="balance",status="ok"} 1`)
	assert.Contains(t, string(body), "stakewatch_scan_duration_seconds_count 1")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	m.Scan(false, 0, 0)
	m.Attempt(retry.KindPrice, true)
	m.Notification(false)
	m.Command("!help")
}
