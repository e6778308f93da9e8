package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"pinstrategy/internal/domain"
)

func TestRecorderCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RunStarted()
	m.VerificationAttempt(false)
	m.VerificationAttempt(true)
	m.PackAccepted(false)
	m.DraftDegraded()
	m.StageFinished(domain.StageCreatingImages, 2*time.Second)
	m.RunFinished(domain.StageComplete, 30*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsStarted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsFinished.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerificationAttempts.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerificationAttempts.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacksAccepted.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DraftsDegraded))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))

	m.RunStarted()
	m.RunDiscarded(time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsDiscarded))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsFinished.WithLabelValues("error")))
}

func TestObserveHTTP(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveHTTP("POST", "/v1/sessions/{id}/runs", 202, 15*time.Millisecond)
	m.ObserveHTTP("POST", "/v1/sessions/{id}/runs", 409, 2*time.Millisecond)
	m.PersistFailed("image")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/sessions/{id}/runs", "202")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.HTTPRequestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures.WithLabelValues("image")))
}

func TestNewPanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
