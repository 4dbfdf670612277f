package geo

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parlolabs/parlo-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.Default().Situation.Geocoder
	cfg.URL = srv.URL
	cfg.UserAgent = "parlo-test"
	return NewClient(cfg, newLogger())
}

func TestReversePlaceCity(t *testing.T) {
	var gotUA, gotLat string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLat = r.URL.Query().Get("lat")
		io.WriteString(w, `{"address":{"city":"Berlin","town":"ignored"}}`)
	})

	place, err := c.ReversePlace(context.Background(), 52.52, 13.405)
	if err != nil {
		t.Fatalf("reverse failed: %v", err)
	}
	if place != "Berlin" {
		t.Fatalf("expected Berlin, got %q", place)
	}
	if gotUA != "parlo-test" {
		t.Fatalf("expected custom user agent, got %q", gotUA)
	}
	if gotLat != "52.52" {
		t.Fatalf("expected lat query 52.52, got %q", gotLat)
	}
}

func TestReversePlaceFallbackChain(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"address":{"town":"Greifswald"}}`, "Greifswald"},
		{`{"address":{"village":"Hallig Hooge"}}`, "Hallig Hooge"},
		{`{"address":{"hamlet":"Elend"}}`, "Elend"},
		{`{"address":{}}`, "Unknown"},
		{`{}`, "Unknown"},
	}
	for _, tc := range cases {
		body := tc.body
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, body)
		})
		place, err := c.ReversePlace(context.Background(), 0, 0)
		if err != nil {
			t.Fatalf("reverse failed for %s: %v", tc.body, err)
		}
		if place != tc.want {
			t.Fatalf("body %s: expected %q, got %q", tc.body, tc.want, place)
		}
	}
}

func TestReversePlaceServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if _, err := c.ReversePlace(context.Background(), 0, 0); err == nil {
		t.Fatal("expected an error for a 503 response")
	}
}

func TestReversePlaceBadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "<html>not json</html>")
	})
	if _, err := c.ReversePlace(context.Background(), 0, 0); err == nil {
		t.Fatal("expected an error for a non-JSON body")
	}
}
