package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterByAttr returns the int64 sum data points of name keyed by the value
// of attribute key.
func counterByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key string) map[string]int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	out := make(map[string]int64, len(sum.DataPoints))
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.AsString()] = dp.Value
	}
	return out
}

func TestRecordFrame(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, "updated")
	m.RecordFrame(ctx, "updated")
	m.RecordFrame(ctx, "out_of_range")

	got := counterByAttr(t, collect(t, reader), "theremin.frames", "outcome")
	if got["updated"] != 2 || got["out_of_range"] != 1 {
		t.Errorf("frames = %v, want updated=2 out_of_range=1", got)
	}
}

func TestRecordGlide(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGlide(ctx, "started")
	m.RecordGlide(ctx, "cancelled")
	m.RecordGlide(ctx, "started")

	got := counterByAttr(t, collect(t, reader), "theremin.glides", "event")
	if got["started"] != 2 || got["cancelled"] != 1 {
		t.Errorf("glides = %v", got)
	}
}

func TestRecordRetuneAndSilence(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRetune(ctx, 261.63)
	m.RecordRetune(ctx, 1046.5)
	m.RecordSilence(ctx)

	rm := collect(t, reader)
	kinds := counterByAttr(t, rm, "theremin.voice.updates", "kind")
	if kinds["retune"] != 2 || kinds["silence"] != 1 {
		t.Errorf("voice updates = %v", kinds)
	}

	met := findMetric(rm, "theremin.fundamental")
	if met == nil {
		t.Fatal("theremin.fundamental not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("fundamental data = %+v", met.Data)
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("fundamental count = %d, want 2", dp.Count)
	}
	// Octave buckets: 261.63 lands in (220,440], 1046.5 in (880,1760].
	if dp.BucketCounts[3] != 1 || dp.BucketCounts[5] != 1 {
		t.Errorf("bucket counts = %v", dp.BucketCounts)
	}
}

func TestClientGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SynthClients.Add(ctx, 1)
	m.SynthClients.Add(ctx, 1)
	m.SynthClients.Add(ctx, -1)
	m.DepthClients.Add(ctx, 1)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"theremin.synth_clients": 1,
		"theremin.depth_clients": 1,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		sum := met.Data.(metricdata.Sum[int64])
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestReduceDurationBuckets(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.ReduceDuration.Record(context.Background(), 0.0003)

	met := findMetric(collect(t, reader), "theremin.reduce.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if got := len(hist.DataPoints[0].Bounds); got != len(reduceBuckets) {
		t.Errorf("bounds = %d, want %d", got, len(reduceBuckets))
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
