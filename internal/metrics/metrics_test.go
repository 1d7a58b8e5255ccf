package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRunIncrementsCounterAndHistogram(t *testing.T) {
	ObserveRun("finished", 2*time.Second)

	count := testutil.ToFloat64(RunsTotal.WithLabelValues("finished"))
	assert.GreaterOrEqual(t, count, float64(1))
}

func TestActiveWorkersGaugeSettable(t *testing.T) {
	ActiveWorkers.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(ActiveWorkers))
}
