package modelserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient returns a client pointed at server with fast retries.
func newTestClient(t *testing.T, server *httptest.Server) *HTTPClient {
	t.Helper()
	c, err := NewClient(server.URL+"/", WithAPIKey("test-key"), WithBaseBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

// checkForm verifies the multipart request the client sends.
func checkForm(t *testing.T, r *http.Request, wantModel string) {
	t.Helper()
	if r.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", r.Method)
	}
	if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
		t.Errorf("Authorization = %q", got)
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("ParseMultipartForm() error = %v", err)
	}
	if got := r.FormValue("model"); got != wantModel {
		t.Errorf("model = %q, want %q", got, wantModel)
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		t.Fatalf("FormFile() error = %v", err)
	}
	defer func() { _ = f.Close() }()
	data, _ := io.ReadAll(f)
	if string(data) != "RIFFwav" {
		t.Errorf("file = %q", data)
	}
}

func TestNewClient_MissingBaseURL(t *testing.T) {
	_, err := NewClient("")
	if !errors.Is(err, ErrBaseURLRequired) {
		t.Errorf("expected ErrBaseURLRequired, got %v", err)
	}
}

func TestHTTPClient_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		checkForm(t, r, "Citrinet-1024")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": "hello world",
			"segments": []map[string]any{
				{"start": 0.0, "end": 1.2, "text": "hello"},
				{"start": 1.2, "end": 2.0, "text": "world"},
			},
		})
	}))
	defer server.Close()

	res, err := newTestClient(t, server).Transcribe(context.Background(), "Citrinet-1024", []byte("RIFFwav"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q", res.Text)
	}
	if len(res.Segments) != 2 || res.Segments[1].Start != 1.2 {
		t.Errorf("unexpected segments: %+v", res.Segments)
	}
}

func TestHTTPClient_Diarize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/diarize" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		checkForm(t, r, "speakerdiar_telephony")
		_, _ = w.Write([]byte(`{"segments":[{"start":0,"end":1.5,"label":"SPEAKER_00"},{"start":1.5,"end":3,"label":"SPEAKER_01"}]}`))
	}))
	defer server.Close()

	res, err := newTestClient(t, server).Diarize(context.Background(), "speakerdiar_telephony", []byte("RIFFwav"))
	if err != nil {
		t.Fatalf("Diarize() error = %v", err)
	}
	if len(res.Segments) != 2 || res.Segments[1].Label != "SPEAKER_01" {
		t.Errorf("unexpected segments: %+v", res.Segments)
	}
}

func TestHTTPClient_DetectVoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vad" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		checkForm(t, r, "vad_multilingual_marblenet")
		_, _ = w.Write([]byte(`{"sample_rate":16000,"frame_length":320,"probabilities":[0.1,0.9,0.8]}`))
	}))
	defer server.Close()

	res, err := newTestClient(t, server).DetectVoice(context.Background(), "vad_multilingual_marblenet", []byte("RIFFwav"))
	if err != nil {
		t.Fatalf("DetectVoice() error = %v", err)
	}
	if res.SampleRate != 16000 || res.FrameLength != 320 || len(res.Probabilities) != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestHTTPClient_Enhance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/enhance" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		checkForm(t, r, "denoiser_hifi")
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFclean"))
	}))
	defer server.Close()

	out, err := newTestClient(t, server).Enhance(context.Background(), "denoiser_hifi", []byte("RIFFwav"))
	if err != nil {
		t.Fatalf("Enhance() error = %v", err)
	}
	if string(out) != "RIFFclean" {
		t.Errorf("got %q", out)
	}
}

func TestHTTPClient_ValidatesInput(t *testing.T) {
	c, err := NewClient("http://localhost:1")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := c.Transcribe(context.Background(), "", []byte("x")); !errors.Is(err, ErrModelRequired) {
		t.Errorf("expected ErrModelRequired, got %v", err)
	}
	if _, err := c.Diarize(context.Background(), "m", nil); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestHTTPClient_RetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"segments":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).Diarize(context.Background(), "m", []byte("RIFFwav"))
	if err != nil {
		t.Fatalf("Diarize() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPClient_RetryOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer server.Close()

	res, err := newTestClient(t, server).Transcribe(context.Background(), "m", []byte("RIFFwav"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "ok" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestHTTPClient_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c, err := NewClient(server.URL, WithMaxRetries(2), WithBaseBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	_, err = c.Transcribe(context.Background(), "m", []byte("RIFFwav"))
	if !errors.Is(err, ErrServerError) {
		t.Errorf("expected ErrServerError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPClient_NonRetryableErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantMsg string
	}{
		{
			name:    "unknown model",
			status:  http.StatusNotFound,
			body:    `{"error":"model Citrinet-9000 not found"}`,
			wantErr: ErrModelNotFound,
			wantMsg: "model Citrinet-9000 not found",
		},
		{
			name:    "bad request",
			status:  http.StatusBadRequest,
			body:    "unsupported audio",
			wantErr: ErrRequestFailed,
			wantMsg: "unsupported audio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(t, server).Transcribe(context.Background(), "m", []byte("RIFFwav"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
			if calls.Load() != 1 {
				t.Errorf("expected 1 call, got %d", calls.Load())
			}
		})
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, err := NewClient(server.URL, WithBaseBackoff(time.Second))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Transcribe(ctx, "m", []byte("RIFFwav"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}
