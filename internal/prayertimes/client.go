package prayertimes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.aladhan.com/v1/"

var (
	// ErrProviderUnavailable covers network failures, timeouts and 5xx/429 answers.
	ErrProviderUnavailable = errors.New("prayertimes: provider unavailable")
	// ErrUnknownLocation is returned when the provider cannot geocode the city.
	ErrUnknownLocation = errors.New("prayertimes: unknown location")
	// ErrMalformedResponse is returned when the answer cannot be decoded.
	ErrMalformedResponse = errors.New("prayertimes: malformed response")
)

// TimeSet holds one day of prayer times for a location. Entries map the
// provider's prayer name to a local "HH:MM" string.
type TimeSet struct {
	Location string            `json:"location"`
	Country  string            `json:"country"`
	Timezone string            `json:"timezone"`
	Date     string            `json:"date"`
	Entries  map[string]string `json:"entries"`
}

// Lookup finds an entry by name, ignoring case.
func (s *TimeSet) Lookup(name string) (string, bool) {
	if v, ok := s.Entries[name]; ok {
		return v, true
	}
	for k, v := range s.Entries {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

type Client struct {
	baseURL    string
	method     int
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets how many times a transient failure is attempted in total and
// the initial delay between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.backoff = backoff
	}
}

// New creates a client for an aladhan-compatible API. method selects the
// calculation method understood by the provider.
func New(baseURL string, method int, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	c := &Client{
		baseURL:    baseURL,
		method:     method,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		attempts:   2,
		backoff:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type timingsResponse struct {
	Code   int             `json:"code"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type timingsData struct {
	Timings map[string]string `json:"timings"`
	Date    struct {
		Gregorian struct {
			Date string `json:"date"`
		} `json:"gregorian"`
	} `json:"date"`
	Meta struct {
		Timezone string `json:"timezone"`
	} `json:"meta"`
}

// Fetch returns today's prayer times for a city.
func (c *Client) Fetch(ctx context.Context, location, country string) (*TimeSet, error) {
	if strings.TrimSpace(location) == "" {
		return nil, fmt.Errorf("%w: empty location", ErrUnknownLocation)
	}
	q := url.Values{}
	q.Set("city", location)
	q.Set("country", country)
	q.Set("method", strconv.Itoa(c.method))

	var resp timingsResponse
	if err := c.do(ctx, "timingsByCity?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", location, err)
	}

	var data timingsData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %v", location, ErrMalformedResponse, err)
	}
	if len(data.Timings) == 0 || data.Meta.Timezone == "" {
		return nil, fmt.Errorf("fetch %s: %w: missing timings or timezone", location, ErrMalformedResponse)
	}
	return &TimeSet{
		Location: location,
		Country:  country,
		Timezone: data.Meta.Timezone,
		Date:     data.Date.Gregorian.Date,
		Entries:  data.Timings,
	}, nil
}

func (c *Client) do(ctx context.Context, path string, dest *timingsResponse) error {
	var lastErr error
	delay := c.backoff
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrProviderUnavailable, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		retry, err := c.once(ctx, path, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return lastErr
}

// once performs a single request and reports whether a failure is transient.
func (c *Client) once(ctx context.Context, path string, dest *timingsResponse) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, fmt.Errorf("%w: read body: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("%w: %s", ErrProviderUnavailable, resp.Status)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("%w: %s", ErrUnknownLocation, errorDetail(body, resp.Status))
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("%w: %s", ErrProviderUnavailable, resp.Status)
	}

	if err := json.NewDecoder(bytes.NewReader(body)).Decode(dest); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dest.Code != 0 && dest.Code != http.StatusOK {
		return false, fmt.Errorf("%w: %s", ErrUnknownLocation, errorDetail(body, dest.Status))
	}
	return false, nil
}

// errorDetail extracts the provider's message, which arrives as a bare string
// in the data field on failures.
func errorDetail(body []byte, fallback string) string {
	var resp struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Data != "" {
		return resp.Data
	}
	return fallback
}
