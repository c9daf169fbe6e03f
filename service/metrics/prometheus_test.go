package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(PositionsAllocated.WithLabelValues("direct"))
	PositionsAllocated.WithLabelValues("direct").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(PositionsAllocated.WithLabelValues("direct")))
}

func TestHandlerServesMetrics(t *testing.T) {
	ColdStarts.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "ppos_cold_starts_total"))
}
