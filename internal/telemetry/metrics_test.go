package telemetry

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCountersAndGauges(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter(MetricAppends, 1)
		}()
	}
	wg.Wait()

	if got := m.GetCounter(MetricAppends); got != 50 {
		t.Errorf("GetCounter() = %d, want 50", got)
	}

	m.SetGauge(MetricLastHitCount, 3)
	if got := m.GetGauge(MetricLastHitCount); got != 3 {
		t.Errorf("GetGauge() = %v, want 3", got)
	}
}

func TestTimers(t *testing.T) {
	m := NewMetricsCollector()

	if got := m.GetTimerAverage(MetricLockWait); got != 0 {
		t.Errorf("empty timer average = %v, want 0", got)
	}

	for i := 1; i <= 20; i++ {
		m.RecordTimer(MetricAppendLatency, time.Duration(i)*time.Millisecond)
	}

	if got := m.GetTimerAverage(MetricAppendLatency); got != 10500*time.Microsecond {
		t.Errorf("GetTimerAverage() = %v, want 10.5ms", got)
	}
	if got := m.GetTimerP95(MetricAppendLatency); got != 20*time.Millisecond {
		t.Errorf("GetTimerP95() = %v, want 20ms", got)
	}
	if got := m.GetTimerCount(MetricAppendLatency); got != 20 {
		t.Errorf("GetTimerCount() = %d, want 20", got)
	}

	for i := 0; i < 150; i++ {
		m.RecordTimer(MetricSearchLatency, time.Millisecond)
	}
	if got := m.GetTimerCount(MetricSearchLatency); got != 100 {
		t.Errorf("timer should be capped at 100 samples, got %d", got)
	}
}

func TestReportAndReset(t *testing.T) {
	m := NewMetricsCollector()
	m.IncrementCounter(MetricSearches, 2)
	m.SetGauge(MetricLastHitCount, 1)
	m.RecordTimer(MetricSearchLatency, time.Millisecond)
	m.RecordTimestamp(MetricLastCommit)

	report := m.GetReport()
	for _, want := range []string{MetricSearches + ": 2", MetricLastHitCount, MetricSearchLatency, MetricLastCommit} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}

	if m.GetTimeSince(MetricLastCommit) < 0 {
		t.Errorf("GetTimeSince() should not be negative after RecordTimestamp")
	}

	m.Reset()
	if m.GetCounter(MetricSearches) != 0 || m.GetTimeSince(MetricLastCommit) != 0 {
		t.Errorf("Reset() did not clear metrics")
	}
}
