package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcpweather "github.com/miyamo2/mcp-weather"
	"github.com/miyamo2/mcp-weather/internal/domain/model"
)

// fakeToolContext implements the parts of mcpweather.ToolContext the tools use.
type fakeToolContext struct {
	mcpweather.ToolContext
	ctx  context.Context
	args string
	out  []string
}

func (c *fakeToolContext) Context() context.Context { return c.ctx }

func (c *fakeToolContext) Bind(i any) error { return json.Unmarshal([]byte(c.args), i) }

func (c *fakeToolContext) String(s string) error {
	c.out = append(c.out, s)
	return nil
}

type fakeWeather struct {
	alerts   *model.AlertsResponse
	points   *model.PointsResponse
	forecast *model.ForecastResponse

	gotArea        string
	gotLatitude    float64
	gotLongitude   float64
	gotForecastURL string
}

func (f *fakeWeather) Alerts(_ context.Context, area string) *model.AlertsResponse {
	f.gotArea = area
	return f.alerts
}

func (f *fakeWeather) Points(_ context.Context, latitude, longitude float64) *model.PointsResponse {
	f.gotLatitude, f.gotLongitude = latitude, longitude
	return f.points
}

func (f *fakeWeather) Forecast(_ context.Context, forecastURL string) *model.ForecastResponse {
	f.gotForecastURL = forecastURL
	return f.forecast
}

func call(t *testing.T, tool func(mcpweather.ToolContext) error, args string) string {
	t.Helper()
	c := &fakeToolContext{ctx: t.Context(), args: args}
	require.NoError(t, tool(c))
	require.Len(t, c.out, 1)
	return c.out[0]
}

func TestWeather_GetAlerts(t *testing.T) {
	type test struct {
		alerts *model.AlertsResponse
		want   string
	}
	tests := map[string]test{
		"fetch failure": {
			alerts: nil,
			want:   "Failed to retrieve alerts data",
		},
		"no alerts": {
			alerts: &model.AlertsResponse{},
			want:   "No active alerts for ZZ",
		},
		"alerts": {
			alerts: &model.AlertsResponse{Features: []model.AlertFeature{
				{Properties: model.Alert{Event: "Flood Warning", AreaDesc: "Marin", Severity: "Severe", Status: "Actual", Headline: "Flooding"}},
				{Properties: model.Alert{Event: "Wind Advisory"}},
			}},
			want: "Active alerts for ZZ:\n\n" +
				"Event: Flood Warning\nArea: Marin\nSeverity: Severe\nStatus: Actual\nHeadline: Flooding\n---\n" +
				"Event: Wind Advisory\nArea: Unknown\nSeverity: Unknown\nStatus: Unknown\nHeadline: No headline\n---",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			repo := &fakeWeather{alerts: tt.alerts}
			got := call(t, NewWeather(repo).GetAlerts, `{"state":"zz"}`)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "ZZ", repo.gotArea)
		})
	}
}

func TestWeather_GetForecast(t *testing.T) {
	const forecastURL = "https://api.weather.gov/gridpoints/MTR/85,105/forecast"
	type test struct {
		repo          *fakeWeather
		want          string
		wantForecasts bool
	}
	tests := map[string]test{
		"points failure": {
			repo: &fakeWeather{},
			want: "Failed to retrieve grid point data for coordinates: 37.7749, -122.4194. This location may not be supported by the NWS API (only US locations are supported).",
		},
		"missing forecast url": {
			repo: &fakeWeather{points: &model.PointsResponse{}},
			want: "Failed to get forecast URL from grid point data",
		},
		"forecast failure": {
			repo: &fakeWeather{
				points: &model.PointsResponse{Properties: model.PointProperties{Forecast: forecastURL}},
			},
			want:          "Failed to retrieve forecast data",
			wantForecasts: true,
		},
		"no periods": {
			repo: &fakeWeather{
				points:   &model.PointsResponse{Properties: model.PointProperties{Forecast: forecastURL}},
				forecast: &model.ForecastResponse{},
			},
			want:          "No forecast periods available",
			wantForecasts: true,
		},
		"periods": {
			repo: &fakeWeather{
				points: &model.PointsResponse{Properties: model.PointProperties{Forecast: forecastURL}},
				forecast: &model.ForecastResponse{Properties: model.ForecastProperties{Periods: []model.ForecastPeriod{
					{Name: "Tonight", Temperature: ptr(54.0), TemperatureUnit: "F", WindSpeed: "5 mph", WindDirection: "W", ShortForecast: "Clear"},
					{Name: "Monday", Temperature: ptr(0.0), TemperatureUnit: "F"},
				}}},
			},
			want: "Forecast for 37.7749, -122.4194:\n\n" +
				"Tonight:\nTemperature: 54°F\nWind: 5 mph W\nClear\n---\n" +
				"Monday:\nTemperature: 0°F\nWind: Unknown \nNo forecast available\n---",
			wantForecasts: true,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := call(t, NewWeather(tt.repo).GetForecast, `{"latitude":37.7749,"longitude":-122.4194}`)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 37.7749, tt.repo.gotLatitude)
			assert.Equal(t, -122.4194, tt.repo.gotLongitude)
			if tt.wantForecasts {
				assert.Equal(t, forecastURL, tt.repo.gotForecastURL)
			} else {
				assert.Empty(t, tt.repo.gotForecastURL)
			}
		})
	}
}

func TestWeather_Register(t *testing.T) {
	s := mcpweather.New("weather-server")
	assert.NotPanics(t, func() {
		NewWeather(&fakeWeather{}).Register(s, mcpweather.ToolWithMiddleware())
	})
}
