package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pdf2audio/internal/model"

	"github.com/rs/zerolog"
)

func testOptions() model.JobOptions {
	return model.JobOptions{
		VoiceProvider:  model.VoiceProviderOpenAI,
		VoiceType:      "alloy",
		ReadingSpeed:   1,
		ConversionMode: model.ConversionModeFull,
	}
}

func TestProcessConsumesProgressStream(t *testing.T) {
	audio := []byte("mp3-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/convert" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if _, err := base64.StdEncoding.DecodeString(req["pdf_base64"].(string)); err != nil {
			t.Errorf("pdf payload is not base64: %v", err)
		}
		fmt.Fprintln(w, `{"progress": 10}`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `this line is not json`)
		fmt.Fprintln(w, `{"progress": 70}`)
		fmt.Fprintf(w, `{"done": true, "audio_base64": %q}`+"\n", base64.StdEncoding.EncodeToString(audio))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	var seen []int
	got, err := c.Process(context.Background(), []byte("%PDF-1.7"), testOptions(), func(p int) {
		seen = append(seen, p)
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if string(got) != string(audio) {
		t.Fatalf("unexpected audio payload %q", got)
	}
	if len(seen) != 2 || seen[0] != 10 || seen[1] != 70 {
		t.Fatalf("unexpected progress sequence %v", seen)
	}
}

func TestProcessSurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"progress": 10}`)
		fmt.Fprintln(w, `{"error": "document has no extractable text"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	_, err := c.Process(context.Background(), []byte("%PDF-1.7"), testOptions(), nil)
	if err == nil || !strings.Contains(err.Error(), "no extractable text") {
		t.Fatalf("expected service error, got %v", err)
	}
}

func TestProcessRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	_, err := c.Process(context.Background(), []byte("%PDF-1.7"), testOptions(), nil)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestProcessRejectsTruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"progress": 10}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	_, err := c.Process(context.Background(), []byte("%PDF-1.7"), testOptions(), nil)
	if err == nil || !strings.Contains(err.Error(), "without a result") {
		t.Fatalf("expected truncated-stream error, got %v", err)
	}
}
