package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)
	_, exp := newTestTracerProvider(t)

	var captured string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transcribe", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d", rec.Code)
	}
	if captured == "" {
		t.Fatal("handler context has no span")
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != captured {
		t.Errorf("X-Correlation-ID = %q, want %q", got, captured)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP POST /transcribe" {
		t.Fatalf("unexpected spans: %+v", spans)
	}

	rm := collect(t, reader)
	met := findMetric(rm, "transcribe.http.request.duration")
	if met == nil {
		t.Fatal("http duration metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("unexpected data points: %+v", hist.DataPoints)
	}
}

func TestMiddleware_PropagatesIncomingTrace(t *testing.T) {
	m, _ := newTestMetrics(t)
	newTestTracerProvider(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var captured string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured != traceID {
		t.Errorf("trace ID = %q, want %q", captured, traceID)
	}
}
