package cloudmetrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/donorflow/internal/config"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

func TestNewPusherSelectsExporter(t *testing.T) {
	base := config.Config{AppName: "donorflow", Cloud: config.CloudConfig{Metrics: config.CloudMetricsConfig{Enabled: true}}}

	cases := []struct {
		name     string
		exporter string
		endpoint string
		check    func(Pusher) bool
	}{
		{"remote write", exporterPrometheusRemoteWrite, "https://metrics.example.com/api/v1/write", func(p Pusher) bool { _, ok := p.(*RemoteWritePusher); return ok }},
		{"pushgateway", exporterPrometheusPushgateway, "http://pushgateway:9091", func(p Pusher) bool { _, ok := p.(*PushgatewayPusher); return ok }},
		{"otlp", exporterOTLP, "grpcs://collector.example.com:4317", func(p Pusher) bool { o, ok := p.(*OTLPPusher); return ok && o.secure }},
		{"unknown exporter", "statsd", "udp://x", func(p Pusher) bool { return p == nil }},
		{"missing endpoint", exporterOTLP, "", func(p Pusher) bool { return p == nil }},
		{"bad remote write url", exporterPrometheusRemoteWrite, "not a url", func(p Pusher) bool { return p == nil }},
	}
	for _, tc := range cases {
		cfg := base
		cfg.Cloud.Metrics.Exporter = tc.exporter
		cfg.Cloud.Metrics.Endpoint = tc.endpoint
		if got := NewPusher(cfg, zap.NewNop()); !tc.check(got) {
			t.Fatalf("%s: unexpected pusher %T", tc.name, got)
		}
	}

	if got := NewPusher(config.Config{}, zap.NewNop()); got != nil {
		t.Fatalf("expected nil pusher when disabled, got %T", got)
	}
}

func TestRemoteWritePush(t *testing.T) {
	var received prompb.WriteRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
			return
		}
		raw, err := snappy.Decode(nil, body)
		if err != nil {
			t.Errorf("snappy decode: %v", err)
			return
		}
		if err := proto.Unmarshal(raw, protoadapt.MessageV2Of(&received)); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "donorflow_organizations_total", Help: "orgs"})
	registry.MustRegister(gauge)
	gauge.Set(7)

	pusher := NewRemoteWritePusher(srv.URL, "token-1")
	pusher.instance = "api-1"
	pusher.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	if err := pusher.Push(context.Background(), registry); err != nil {
		t.Fatalf("push: %v", err)
	}

	if auth != "Bearer token-1" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if len(received.Timeseries) != 1 {
		t.Fatalf("expected 1 series, got %d", len(received.Timeseries))
	}
	series := received.Timeseries[0]
	if len(series.Labels) != 2 || series.Labels[0].Name != "__name__" || series.Labels[0].Value != "donorflow_organizations_total" {
		t.Fatalf("unexpected labels %+v", series.Labels)
	}
	if series.Labels[1].Name != "instance" || series.Labels[1].Value != "api-1" {
		t.Fatalf("expected instance label, got %+v", series.Labels[1])
	}
	if series.Samples[0].Value != 7 || series.Samples[0].Timestamp != 1_700_000_000_000 {
		t.Fatalf("unexpected sample %+v", series.Samples[0])
	}
}

func TestRemoteWritePushSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "donorflow_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	if err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), registry); err == nil {
		t.Fatalf("expected an error for 401")
	}
}

func TestBuildOTLPMetricsSkipsHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "donorflow_outcomes_total", Help: "outcomes"}, []string{"stage"})
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "donorflow_latency_seconds", Help: "latency"})
	registry.MustRegister(counter, hist)
	counter.WithLabelValues("persist").Add(3)
	hist.Observe(0.2)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	metrics := buildOTLPMetrics(families, 1)
	if len(metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(metrics))
	}
	sum := metrics[0].GetSum()
	if sum == nil || !sum.IsMonotonic || sum.DataPoints[0].GetAsDouble() != 3 {
		t.Fatalf("unexpected sum %+v", metrics[0])
	}
	if attrs := sum.DataPoints[0].Attributes; len(attrs) != 1 || attrs[0].Key != "stage" {
		t.Fatalf("unexpected attributes %+v", attrs)
	}
}

func TestServiceGathererDropsForeignFamilies(t *testing.T) {
	registry := prometheus.NewRegistry()
	own := prometheus.NewGauge(prometheus.GaugeOpts{Name: "donorflow_recurring_active", Help: "own"})
	foreign := prometheus.NewGauge(prometheus.GaugeOpts{Name: "go_goroutines_custom", Help: "foreign"})
	registry.MustRegister(own, foreign)

	families, err := ServiceGatherer(registry).Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 1 || families[0].GetName() != "donorflow_recurring_active" {
		t.Fatalf("unexpected families %v", families)
	}
}
