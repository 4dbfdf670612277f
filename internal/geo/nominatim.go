// Package geo resolves device coordinates to human place names through a
// Nominatim-compatible reverse geocoding endpoint.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/parlolabs/parlo-core/internal/config"
)

// placeUnknown is returned when the endpoint answers but names no locality.
// A transport or status failure is reported as an error instead, so callers
// can tell "we asked and nobody lives there" from "we could not ask".
const placeUnknown = "Unknown"

// Client talks to a Nominatim-style /reverse endpoint.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	logger    *slog.Logger
}

func NewClient(cfg config.GeocoderConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   cfg.URL,
		userAgent: cfg.UserAgent,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
		logger: logger.With(slog.String("component", "geocoder")),
	}
}

type reverseResponse struct {
	Address struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		Hamlet  string `json:"hamlet"`
	} `json:"address"`
}

// ReversePlace resolves a coordinate pair to the nearest locality name. The
// address fields are tried from largest to smallest settlement.
func (c *Client) ReversePlace(ctx context.Context, lat, lon float64) (string, error) {
	query := url.Values{}
	query.Set("format", "json")
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("geocoder returned status %s", resp.Status)
	}

	var decoded reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode geocoder response: %w", err)
	}

	for _, name := range []string{
		decoded.Address.City,
		decoded.Address.Town,
		decoded.Address.Village,
		decoded.Address.Hamlet,
	} {
		if name != "" {
			return name, nil
		}
	}
	c.logger.Debug("geocoder answered without a locality",
		slog.Float64("lat", lat),
		slog.Float64("lon", lon))
	return placeUnknown, nil
}
