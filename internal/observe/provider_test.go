package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// initTestProvider runs InitProvider against a private registry and restores
// the global providers afterwards.
func initTestProvider(t *testing.T, cfg ProviderConfig) *prometheus.Registry {
	t.Helper()
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	reg := prometheus.NewRegistry()
	cfg.Registerer = reg

	shutdown, err := InitProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})
	return reg
}

// gatherLabels returns the labels of the first series of the first family
// whose name starts with prefix, plus its counter value.
func gatherLabels(t *testing.T, reg *prometheus.Registry, prefix string) (map[string]string, float64) {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), prefix) || len(f.GetMetric()) == 0 {
			continue
		}
		m := f.GetMetric()[0]
		labels := make(map[string]string)
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		var v float64
		if c := m.GetCounter(); c != nil {
			v = c.GetValue()
		} else if g := m.GetGauge(); g != nil {
			v = g.GetValue()
		}
		return labels, v
	}
	t.Fatalf("no metric family with prefix %q", prefix)
	return nil, 0
}

func TestInitProvider_ExportsToRegisterer(t *testing.T) {
	reg := initTestProvider(t, ProviderConfig{ServiceName: "nidus-test"})

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RevisionsCreated.Add(context.Background(), 2)

	if _, v := gatherLabels(t, reg, "nidus_revisions_created"); v != 2 {
		t.Errorf("revisions created = %v, want 2", v)
	}
}

func TestInitProvider_DeploymentAttributes(t *testing.T) {
	reg := initTestProvider(t, ProviderConfig{
		ServiceName:    "nidus-test",
		ServiceVersion: "v1.2.3",
		Attributes:     []attribute.KeyValue{attribute.String("nidus.store.driver", "sqlite")},
	})

	labels, _ := gatherLabels(t, reg, "target_info")
	want := map[string]string{
		"service_name":       "nidus-test",
		"service_version":    "v1.2.3",
		"nidus_store_driver": "sqlite",
	}
	for k, v := range want {
		if labels[k] != v {
			t.Errorf("target_info %s = %q, want %q (labels %v)", k, labels[k], v, labels)
		}
	}
}

func TestNewResource(t *testing.T) {
	tests := []struct {
		name        string
		cfg         ProviderConfig
		wantName    string
		wantVersion bool
	}{
		{name: "default name", wantName: DefaultServiceName},
		{name: "configured", cfg: ProviderConfig{ServiceName: "field-unit", ServiceVersion: "v0.4.0"}, wantName: "field-unit", wantVersion: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := newResource(context.Background(), tc.cfg)
			if err != nil {
				t.Fatalf("newResource: %v", err)
			}
			set := res.Set()
			if v, ok := set.Value(semconv.ServiceNameKey); !ok || v.AsString() != tc.wantName {
				t.Errorf("service.name = %q, want %q", v.AsString(), tc.wantName)
			}
			if _, ok := set.Value(semconv.ServiceVersionKey); ok != tc.wantVersion {
				t.Errorf("service.version present = %v, want %v", ok, tc.wantVersion)
			}
		})
	}
}
