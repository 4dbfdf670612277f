package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.Default().Backend
	cfg.BaseURL = srv.URL
	return NewClient(cfg, newLogger())
}

func TestProcessDecodesPredictions(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"status":"success","data":{"predictions":["I'm hungry","I want water"],"context":"food","processed_text":"i am hungry"}}`)
	}))

	snap := &protocol.Situation{TimeOfDay: "Morning", DayType: "Weekday", Place: "Berlin"}
	result, err := c.Process(context.Background(), "hun", snap)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(result.Predictions) != 2 || result.Predictions[0] != "I'm hungry" {
		t.Fatalf("unexpected predictions: %v", result.Predictions)
	}
	if result.Context != "food" || result.ProcessedText != "i am hungry" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotBody["text"] != "hun" {
		t.Fatalf("expected text field in request, got %v", gotBody)
	}
	ctxField, ok := gotBody["context"].(map[string]any)
	if !ok || ctxField["timeOfDay"] != "Morning" {
		t.Fatalf("expected situation in request context, got %v", gotBody["context"])
	}
}

func TestProcessErrorStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"status":"error","message":"no input text provided"}`)
	}))
	if _, err := c.Process(context.Background(), "", nil); err == nil {
		t.Fatal("expected an error for status=error body")
	}
}

func TestTranscribeAudioMultipart(t *testing.T) {
	wavBytes := []byte("RIFFfake")
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe-audio" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("missing audio part: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		uploaded, _ := io.ReadAll(file)
		if !bytes.Equal(uploaded, wavBytes) {
			t.Errorf("uploaded bytes differ")
		}
		if header.Filename != "take.wav" {
			t.Errorf("unexpected filename %s", header.Filename)
		}
		io.WriteString(w, `{"transcript":"hello there"}`)
	}))

	text, err := c.TranscribeAudio(context.Background(), wavBytes, "take.wav")
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("unexpected transcript %q", text)
	}
}

func TestSpeakReturnsClip(t *testing.T) {
	clip := []byte{0xff, 0xfb, 0x90}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["text"] != "hello" {
			t.Errorf("unexpected speak body %v", req)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(clip)
	}))

	got, contentType, err := c.Speak(context.Background(), "hello", protocol.VoiceSettings{Gender: "female", Pitch: 1, Rate: 1})
	if err != nil {
		t.Fatalf("speak failed: %v", err)
	}
	if !bytes.Equal(got, clip) {
		t.Fatalf("clip bytes differ")
	}
	if contentType != "audio/mpeg" {
		t.Fatalf("unexpected content type %q", contentType)
	}
}

func TestUpdateContextWireFormat(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"status":"success"}`)
	}))

	snap := protocol.Situation{TimeOfDay: "Evening", DayType: "Weekend", Place: "Hamburg"}
	if err := c.UpdateContext(context.Background(), snap); err != nil {
		t.Fatalf("update context failed: %v", err)
	}
	// the wire field is location, not place
	if got["location"] != "Hamburg" || got["timeOfDay"] != "Evening" || got["dayType"] != "Weekend" {
		t.Fatalf("unexpected wire payload %v", got)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected health error on 500")
	}
	if _, err := c.Process(context.Background(), "hi", nil); err == nil {
		t.Fatal("expected process error on 500")
	}
	if _, err := c.TranscribeAudio(context.Background(), []byte("x"), "a.wav"); err == nil {
		t.Fatal("expected transcribe error on 500")
	}
}

func TestHealthOK(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"status":"healthy"}`)
	}))
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health failed: %v", err)
	}
}
