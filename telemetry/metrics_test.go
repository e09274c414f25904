package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHelpersBeforeInitAreNoops(t *testing.T) {
	// Must not panic when metrics are unregistered.
	if TicksSkipped == nil {
		TickSkipped("capture")
		ChatDropped("cooldown")
		TokenRefresh("bot", "ok")
	}
}

func TestCountersIncrement(t *testing.T) {
	Init()
	Init()
	before := testutil.ToFloat64(TicksSkipped.WithLabelValues("classify"))
	TickSkipped("classify")
	if got := testutil.ToFloat64(TicksSkipped.WithLabelValues("classify")); got != before+1 {
		t.Errorf("skipped=%v want %v", got, before+1)
	}
	b := testutil.ToFloat64(PollsOpened.WithLabelValues("valorant"))
	PollOpened("valorant")
	if got := testutil.ToFloat64(PollsOpened.WithLabelValues("valorant")); got != b+1 {
		t.Errorf("opened=%v want %v", got, b+1)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := WithCorrelation(context.Background(), "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Fatal("correlation id lost")
	}
	if GetCorrelation(context.Background()) != "" {
		t.Fatal("expected empty correlation")
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("nil logger")
	}
}
