package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(PlannerSelections.WithLabelValues("fallback", "ask"))
	PlannerSelections.WithLabelValues("fallback", "ask").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(PlannerSelections.WithLabelValues("fallback", "ask")))
}

func TestObserveHelpers(t *testing.T) {
	ObservePhase("PLANNING", time.Now())
	RecordSearch(time.Now(), 3)
	assert.Equal(t, 1, testutil.CollectAndCount(PhaseDuration))
	assert.Positive(t, testutil.CollectAndCount(RetrievalResults))
}
