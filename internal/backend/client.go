// Package backend wraps the remote assistance service: text prediction,
// recorded-audio transcription, clip synthesis, and context updates. Calls
// are plain request/response with no retry policy; callers decide whether a
// failure degrades to a local fallback or surfaces as a notice.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/protocol"
)

// Client is an HTTP client for the assistance backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(cfg config.BackendConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
		logger: logger.With(slog.String("component", "backend-client")),
	}
}

// ProcessResult is the prediction payload returned by /process.
type ProcessResult struct {
	Predictions   []string
	Context       string
	ProcessedText string
}

type processRequest struct {
	Text    string              `json:"text"`
	Type    string              `json:"type,omitempty"`
	Context *protocol.Situation `json:"context,omitempty"`
}

type processResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    struct {
		Predictions   []string `json:"predictions"`
		Context       string   `json:"context"`
		ProcessedText string   `json:"processed_text"`
	} `json:"data"`
}

// Process submits free text plus the current situation and returns ranked
// phrase predictions.
func (c *Client) Process(ctx context.Context, text string, situation *protocol.Situation) (ProcessResult, error) {
	payload := processRequest{Text: text, Type: "text", Context: situation}
	var decoded processResponse
	if err := c.postJSON(ctx, "/process", payload, &decoded); err != nil {
		return ProcessResult{}, err
	}
	if decoded.Status == "error" {
		return ProcessResult{}, fmt.Errorf("backend rejected input: %s", decoded.Message)
	}
	return ProcessResult{
		Predictions:   decoded.Data.Predictions,
		Context:       decoded.Data.Context,
		ProcessedText: decoded.Data.ProcessedText,
	}, nil
}

// TranscribeAudio uploads a finished WAV take and returns its transcript.
func (c *Client) TranscribeAudio(ctx context.Context, audio []byte, filename string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe-audio", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("backend returned status %s", resp.Status)
	}

	var decoded struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	return decoded.Transcript, nil
}

type speakRequest struct {
	Text  string                 `json:"text"`
	Voice protocol.VoiceSettings `json:"voice"`
}

// Speak asks the backend to render an utterance and returns the raw clip
// bytes together with the response content type.
func (c *Client) Speak(ctx context.Context, text string, voice protocol.VoiceSettings) ([]byte, string, error) {
	body, err := json.Marshal(speakRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/speak", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("speak request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("backend returned status %s", resp.Status)
	}

	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read clip: %w", err)
	}
	return clip, resp.Header.Get("Content-Type"), nil
}

type contextUpdate struct {
	TimeOfDay string `json:"timeOfDay"`
	Location  string `json:"location"`
	DayType   string `json:"dayType"`
}

// UpdateContext pushes the current situation. The response body is discarded;
// only the status code matters.
func (c *Client) UpdateContext(ctx context.Context, snap protocol.Situation) error {
	payload := contextUpdate{
		TimeOfDay: snap.TimeOfDay,
		Location:  snap.Place,
		DayType:   snap.DayType,
	}
	return c.postJSON(ctx, "/update-context", payload, nil)
}

// Health probes the backend health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned status %s", resp.Status)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}
