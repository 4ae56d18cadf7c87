package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/janus/errors"
)

func TestInstancesDoNotCollide(t *testing.T) {
	a := New()
	b := New()

	a.IncrementSurfacesCreated()
	a.IncrementSurfacesCreated()
	b.IncrementSurfacesCreated()

	assert.Equal(t, float64(2), testutil.ToFloat64(a.SurfacesCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(b.SurfacesCreated))
}

func TestLabelledCounters(t *testing.T) {
	m := New()
	m.IncrementEvent("FidesUpdated")
	m.IncrementEvent("FidesUpdated")
	m.IncrementEvent("FidesUIShown")
	m.ObserveCanonicalRefresh(nil)
	m.ObserveCanonicalRefresh(errors.New("offline"))
	m.ObserveCanonicalRefresh(errors.New("offline"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Events.WithLabelValues("FidesUpdated")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Events.WithLabelValues("FidesUIShown")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CanonicalRefreshes.WithLabelValues("ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CanonicalRefreshes.WithLabelValues("error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SetSurfacesLive(3)
	m.IncrementAnomalies()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "janus_surfaces_live 3")
	assert.Contains(t, string(body), "janus_protocol_anomalies_total 1")
}

func TestRegistryGathersOwnCollectors(t *testing.T) {
	m := New()
	m.IncrementJournalFailures()

	n, err := testutil.GatherAndCount(m.Registry(), "janus_journal_write_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JournalFailures))
}
