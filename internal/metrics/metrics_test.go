package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_RegistersWithoutPanic(t *testing.T) {
	r := NewRegistry("bey")
	require.NotNil(t, r)
	r.ConnectionsTotal.Inc()
	r.StorageBytesStored.Add(1024)
	r.PolicyDecisionTime.Observe(0.002)
}

func TestHandler_ServesExpositionFormat(t *testing.T) {
	r := NewRegistry("bey")
	r.ConnectionsTotal.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "bey_transport_connections_total")
}

func TestTwoRegistries_DoNotCollide(t *testing.T) {
	a := NewRegistry("bey")
	b := NewRegistry("bey")
	a.ConnectionsTotal.Inc()
	b.ConnectionsTotal.Inc()
	b.ConnectionsTotal.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "bey_transport_connections_total 2")
}
