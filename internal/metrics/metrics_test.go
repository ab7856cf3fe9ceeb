package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()
	m.Observe("CipherKeyValue", "OK", 20*time.Millisecond)
	m.Observe("CipherKeyValue", "OK", 30*time.Millisecond)
	m.Observe("CipherKeyValue", "CANCELLED", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("CipherKeyValue", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("CipherKeyValue", "CANCELLED")))
}

func TestConfirmation(t *testing.T) {
	m := New()
	m.Confirmation(true)
	m.Confirmation(false)
	m.Confirmation(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Confirmations.WithLabelValues("approved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Confirmations.WithLabelValues("declined")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Observe("GetAddress", "OK", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hwhash_device_requests_total")
	assert.Contains(t, string(body), `operation="GetAddress"`)
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Observe("GetAddress", "OK", time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Requests.WithLabelValues("GetAddress", "OK")))
}
