package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/flightreplay.v1.PlaybackService/Select"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("PlaybackService", "Select", "OK")); got != 1 {
		t.Fatalf("replay_rpc_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "replay_rpc_duration_seconds", map[string]string{
		"service": "PlaybackService",
		"method":  "Select",
	}); count != 1 {
		t.Fatalf("replay_rpc_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/flightreplay.v1.PlaybackService/Control"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.FailedPrecondition, "no session")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("PlaybackService", "Control", "FailedPrecondition")); got != 1 {
		t.Fatalf("replay_rpc_requests_total error label = %v, want 1", got)
	}
}

func TestStreamInterceptorTracksActiveStreams(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}

	interceptor := collector.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/flightreplay.v1.PlaybackService/StreamFrames", IsServerStream: true}

	err = interceptor(nil, nil, info, func(srv interface{}, ss grpc.ServerStream) error {
		if got := testutil.ToFloat64(collector.ActiveStreams); got != 1 {
			t.Fatalf("replay_active_frame_streams during stream = %v, want 1", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream handler returned error: %v", err)
	}
	if got := testutil.ToFloat64(collector.ActiveStreams); got != 0 {
		t.Fatalf("replay_active_frame_streams after stream = %v, want 0", got)
	}
	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("PlaybackService", "StreamFrames", "OK")); got != 1 {
		t.Fatalf("replay_rpc_requests_total = %v, want 1", got)
	}
}

func TestCollectorsReuseRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPlaybackCollector(reg)
	if err != nil {
		t.Fatalf("NewPlaybackCollector: %v", err)
	}
	second, err := NewPlaybackCollector(reg)
	if err != nil {
		t.Fatalf("second NewPlaybackCollector: %v", err)
	}

	first.IncTicks()
	second.IncTicks()
	if got := testutil.ToFloat64(first.Ticks); got != 2 {
		t.Fatalf("playback_ticks_total = %v, want 2", got)
	}
}

func TestPlaybackCollectorRecordsSession(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPlaybackCollector(reg)
	if err != nil {
		t.Fatalf("NewPlaybackCollector: %v", err)
	}

	c.ObserveSelect(SelectLoaded, 20*time.Millisecond)
	c.ObserveSelect(SelectSuperseded, time.Millisecond)
	c.SetActiveSession(7, 1200)
	c.SetOffset(12.5)
	c.IncStaleTicks()
	c.IncDroppedFrames()

	if got := testutil.ToFloat64(c.Selects.WithLabelValues(SelectLoaded)); got != 1 {
		t.Fatalf("playback_selects_total{loaded} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ActiveGeneration); got != 7 {
		t.Fatalf("playback_active_generation = %v, want 7", got)
	}
	if got := testutil.ToFloat64(c.SessionSamples); got != 1200 {
		t.Fatalf("playback_session_samples = %v, want 1200", got)
	}
	if got := testutil.ToFloat64(c.Offset); got != 12.5 {
		t.Fatalf("playback_offset_seconds = %v, want 12.5", got)
	}
	if got := testutil.ToFloat64(c.StaleTicks); got != 1 {
		t.Fatalf("playback_stale_ticks_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "playback_load_duration_seconds", nil); count != 2 {
		t.Fatalf("playback_load_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestNilPlaybackCollectorIsSafe(t *testing.T) {
	var c *PlaybackCollector
	c.IncTicks()
	c.IncStaleTicks()
	c.ObserveSelect(SelectFailed, time.Second)
	c.SetActiveSession(1, 1)
	c.SetOffset(1)
}

func TestMetricsHandlerExposesPlaybackMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rpc, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}
	pb, err := NewPlaybackCollector(reg)
	if err != nil {
		t.Fatalf("NewPlaybackCollector: %v", err)
	}
	pb.SetActiveSession(3, 4)
	pb.ObserveSelect(SelectLoaded, time.Millisecond)
	rpc.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	rpc.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	rpc.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"replay_rpc_requests_total",
		"replay_rpc_duration_seconds",
		"playback_active_generation 3",
		"playback_session_samples 4",
		`playback_selects_total{outcome="loaded"} 1`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in            string
		service, meth string
	}{
		{in: "/flightreplay.v1.PlaybackService/Status", service: "PlaybackService", meth: "Status"},
		{in: "", service: "unknown", meth: "unknown"},
		{in: "nomethod", service: "unknown", meth: "unknown"},
	}
	for _, tt := range tests {
		s, m := SplitMethod(tt.in)
		if s != tt.service || m != tt.meth {
			t.Fatalf("SplitMethod(%q) = (%q, %q), want (%q, %q)", tt.in, s, m, tt.service, tt.meth)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
