package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInMemoryRecorder(t *testing.T) {
	m := NewInMemory()
	m.IncDebit("success")
	m.IncDebit("success")
	m.IncDebit("insufficient")
	m.IncWebhookEvent("checkout.session.completed", "applied")
	m.ObserveStoreDuration("get", 2*time.Millisecond)
	m.IncGrant()

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.Debits["success"])
	assert.Equal(t, uint64(1), s.Debits["insufficient"])
	assert.Equal(t, uint64(1), s.WebhookEvents["checkout.session.completed/applied"])
	assert.Equal(t, uint64(1), s.StoreCalls["get"])
	assert.Equal(t, uint64(1), s.Grants)

	// snapshot is a copy
	s.Debits["success"] = 100
	assert.Equal(t, uint64(2), m.Snapshot().Debits["success"])
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)

	p.IncDebit("success")
	p.IncConflict("debit")
	p.IncConflict("debit")

	assert.Equal(t, 1.0, testutil.ToFloat64(p.debits.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.conflicts.WithLabelValues("debit")))

	n, err := testutil.GatherAndCount(reg, "credits_write_conflicts_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}
