package nws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/miyamo2/mcp-weather/internal/domain/model"
	"github.com/miyamo2/mcp-weather/internal/domain/repository"
)

const (
	// DefaultBaseURL is the National Weather Service API.
	DefaultBaseURL = "https://api.weather.gov"

	// UserAgent is sent on every request. api.weather.gov rejects anonymous clients.
	UserAgent = "weather-app/1.0"

	// Accept is sent on every request.
	Accept = "application/geo+json"
)

// compatibility check
var _ repository.Weather = (*Client)(nil)

// Client talks to the National Weather Service API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// ClientOption configures the Client.
type ClientOption func(*clientOptions)

// ClientWithBaseURL settings the base URL of the API.
//
// If not set, it defaults to DefaultBaseURL.
func ClientWithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = baseURL
	}
}

// ClientWithHTTPClient settings the http.Client used for requests.
func ClientWithHTTPClient(httpClient *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

// ClientWithLogger settings the logger.
func ClientWithLogger(logger *zap.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// NewClient creates a new Client.
func NewClient(options ...ClientOption) *Client {
	opts := &clientOptions{
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     zap.NewNop(),
	}
	for _, opt := range options {
		opt(opts)
	}
	return &Client{
		baseURL:    strings.TrimSuffix(opts.baseURL, "/"),
		httpClient: opts.httpClient,
		logger:     opts.logger,
	}
}

// Alerts returns the active alerts for a state or marine area code.
func (c *Client) Alerts(ctx context.Context, area string) *model.AlertsResponse {
	u := fmt.Sprintf("%s/alerts?area=%s", c.baseURL, url.QueryEscape(area))
	return Get[model.AlertsResponse](ctx, c, u)
}

// Points returns the gridpoint metadata for a coordinate.
func (c *Client) Points(ctx context.Context, latitude, longitude float64) *model.PointsResponse {
	u := fmt.Sprintf("%s/points/%.4f,%.4f", c.baseURL, latitude, longitude)
	return Get[model.PointsResponse](ctx, c, u)
}

// Forecast returns the forecast behind a URL previously returned by Points.
func (c *Client) Forecast(ctx context.Context, forecastURL string) *model.ForecastResponse {
	return Get[model.ForecastResponse](ctx, c, forecastURL)
}

// Get fetches u and decodes the JSON body into a T.
//
// It returns nil on a transport error, a non-2xx status, a malformed body or a null body. The
// failure is logged, never returned.
func Get[T any](ctx context.Context, c *Client, u string) *T {
	v, err := get[T](ctx, c.httpClient, u)
	if err != nil {
		c.logger.Error("Error making NWS request", zap.String("url", u), zap.Error(err))
		return nil
	}
	return v
}

func get[T any](ctx context.Context, httpClient *http.Client, u string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", Accept)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var v *T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if v == nil {
		return nil, ErrEmptyBody
	}
	return v, nil
}
