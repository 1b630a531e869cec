package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// counterValue sums the samples of a gathered counter whose labels match.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metrics
				}
			}
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestTrackerCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("ledger_integrity").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger_integrity").End(boom), boom)

	require.Equal(t, 1.0, counterValue(t, reg, "ledgerpay_jobs_total", map[string]string{"status": "success"}))
	require.Equal(t, 1.0, counterValue(t, reg, "ledgerpay_jobs_total", map[string]string{"status": "failure"}))
	require.Equal(t, 1.0, counterValue(t, reg, "ledgerpay_jobs_failures_total", map[string]string{"job": "ledger_integrity"}))
}

func TestAddUnbalanced(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddUnbalanced(7, 2)
	m.AddUnbalanced(0, 1)
	m.AddUnbalanced(7, 0)

	require.Equal(t, 2.0, counterValue(t, reg, "ledgerpay_unbalanced_journals_total", map[string]string{"company": "7"}))
	require.Equal(t, 1.0, counterValue(t, reg, "ledgerpay_unbalanced_journals_total", map[string]string{"company": "0"}))
}

func TestNilMetricsTracker(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("x").End(boom), boom)
	m.AddUnbalanced(1, 1)
}
