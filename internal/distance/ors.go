package distance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultORSBaseURL is the public OpenRouteService endpoint.
const DefaultORSBaseURL = "https://api.openrouteservice.org"

// ORSProvider queries the OpenRouteService matrix endpoint. Origins are sent
// in chunks of ChunkSize against all destinations, one request per chunk,
// paced by Limiter.
type ORSProvider struct {
	BaseURL   string
	APIKey    string
	Profile   string
	ChunkSize int

	Client      *http.Client
	Limiter     *rate.Limiter
	MaxAttempts int
	Backoff     time.Duration
}

// NewORSProvider returns a provider for driving distances with one request
// per second.
func NewORSProvider(baseURL, apiKey string) *ORSProvider {
	if baseURL == "" {
		baseURL = DefaultORSBaseURL
	}
	return &ORSProvider{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		Profile:     "driving-car",
		ChunkSize:   10,
		Client:      &http.Client{Timeout: 30 * time.Second},
		Limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		MaxAttempts: 4,
		Backoff:     200 * time.Millisecond,
	}
}

func (o *ORSProvider) Name() string { return "ors" }

type matrixRequest struct {
	Locations    [][]float64 `json:"locations"`
	Sources      []int       `json:"sources"`
	Destinations []int       `json:"destinations"`
	Metrics      []string    `json:"metrics"`
	Units        string      `json:"units"`
}

type matrixResponse struct {
	Distances [][]*float64 `json:"distances"`
}

func (o *ORSProvider) Matrix(ctx context.Context, origins, destinations []Point) ([][]float64, error) {
	chunk := o.ChunkSize
	if chunk <= 0 {
		chunk = 10
	}
	rows := make([][]float64, 0, len(origins))
	for start := 0; start < len(origins); start += chunk {
		end := min(start+chunk, len(origins))
		slog.Debug("Requesting matrix chunk", "origins_from", start, "origins_to", end-1, "destinations", len(destinations))

		part, err := o.fetchChunk(ctx, origins[start:end], destinations)
		if err != nil {
			return nil, fmt.Errorf("origins %d-%d: %w", start, end-1, err)
		}
		rows = append(rows, part...)
	}
	return rows, nil
}

func (o *ORSProvider) fetchChunk(ctx context.Context, origins, destinations []Point) ([][]float64, error) {
	locations := make([][]float64, 0, len(origins)+len(destinations))
	sources := make([]int, 0, len(origins))
	dests := make([]int, 0, len(destinations))
	for _, p := range origins {
		sources = append(sources, len(locations))
		locations = append(locations, []float64{p.Lon, p.Lat})
	}
	for _, p := range destinations {
		dests = append(dests, len(locations))
		locations = append(locations, []float64{p.Lon, p.Lat})
	}

	payload, err := json.Marshal(matrixRequest{
		Locations:    locations,
		Sources:      sources,
		Destinations: dests,
		Metrics:      []string{"distance"},
		Units:        "km",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal matrix request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/matrix/%s", o.BaseURL, o.Profile)
	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		return o.newRequest(ctx, endpoint, bytes.NewReader(payload))
	})
	if err != nil {
		return nil, fmt.Errorf("matrix request failed: %w", err)
	}
	defer resp.Body.Close()

	var mr matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("decode matrix response: %w", err)
	}
	if len(mr.Distances) != len(origins) {
		return nil, fmt.Errorf("expected %d source rows, got %d", len(origins), len(mr.Distances))
	}

	rows := make([][]float64, len(origins))
	for r, cells := range mr.Distances {
		if len(cells) != len(destinations) {
			return nil, fmt.Errorf("row %d has %d cells for %d destinations", r, len(cells), len(destinations))
		}
		rows[r] = make([]float64, len(cells))
		for c, km := range cells {
			if km == nil {
				rows[r][c] = NoRoute
				continue
			}
			rows[r][c] = *km
		}
	}
	return rows, nil
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func (o *ORSProvider) newRequest(ctx context.Context, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", o.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (o *ORSProvider) do(req *http.Request) (*http.Response, error) {
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries rate limiting, 5xx responses and network errors with
// exponential backoff. Every attempt waits on the limiter first.
func (o *ORSProvider) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	attempts := max(o.MaxAttempts, 1)
	backoff := o.Backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if o.Limiter != nil {
			if err := o.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := makeReq()
		if err != nil {
			return nil, err
		}
		resp, err := o.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
				http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				retry = true
			}
		}
		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}
		if !retry || attempt == attempts {
			return nil, lastErr
		}

		slog.Debug("Retrying matrix request", "attempt", attempt, "backoff", backoff, "error", err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}
