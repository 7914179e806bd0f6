package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	SetBuildInfo("1.0.0", "abc", "2024-01-01")
	SetConnections(3)
	RecordHandshake("accepted")
	RecordPublished("motion")
	RecordSend("motion", 2*time.Millisecond, true)
	RecordSend("motion", time.Millisecond, false)
	ObserveBatch(4)
	RecordStateUpdate("invalid")

	if v := testutil.ToFloat64(connections); v != 3 {
		t.Fatalf("connections: %v", v)
	}
	if v := testutil.ToFloat64(handshakes.WithLabelValues("accepted")); v != 1 {
		t.Fatalf("handshakes: %v", v)
	}
	if v := testutil.ToFloat64(framesPublished.WithLabelValues("motion")); v != 1 {
		t.Fatalf("published: %v", v)
	}
	if v := testutil.ToFloat64(framesSent.WithLabelValues("motion")); v != 1 {
		t.Fatalf("sent: %v", v)
	}
	if v := testutil.ToFloat64(sendFailures.WithLabelValues("motion")); v != 1 {
		t.Fatalf("failures: %v", v)
	}
	if v := testutil.ToFloat64(stateUpdates.WithLabelValues("invalid")); v != 1 {
		t.Fatalf("state updates: %v", v)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("2024-01-01", "abc", "1.0.0")); v != 1 {
		t.Fatalf("build info: %v", v)
	}
	if n := testutil.CollectAndCount(sendDuration); n != 1 {
		t.Fatalf("send duration series: %d", n)
	}
}
