package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHelpersNoOpBeforeRegister(t *testing.T) {
	// Must not panic before Register is called.
	IncSent("event")
	IncDropped("metric")
	SetQueueDepth(3)
	IncHang()
}

func TestRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Double register is a no-op.
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncSent("event")
	IncSent("event")
	IncDropped("event")
	SetQueueDepth(7)

	if got := testutil.ToFloat64(itemsSent.WithLabelValues("event")); got != 2 {
		t.Fatalf("items_sent_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(itemsDropped.WithLabelValues("event")); got != 1 {
		t.Fatalf("items_dropped_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(queueDepth); got != 7 {
		t.Fatalf("queue depth = %v, want 7", got)
	}
}
