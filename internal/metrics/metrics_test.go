package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRegistered(t *testing.T) {
	before := testutil.ToFloat64(TicksTotal.WithLabelValues("skipped"))
	TicksTotal.WithLabelValues("skipped").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TicksTotal.WithLabelValues("skipped")))

	DueRules.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(DueRules))

	RuleDuration.WithLabelValues("completed").Observe(0.2)
	assert.Equal(t, 1, testutil.CollectAndCount(RuleDuration, "valiax_runner_rule_duration_seconds"))
}
