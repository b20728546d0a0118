package handler

import (
	"fmt"
	"strings"

	mcpweather "github.com/miyamo2/mcp-weather"
	"github.com/miyamo2/mcp-weather/internal/domain/repository"
)

const (
	// ToolGetAlerts is the name of the alerts tool.
	ToolGetAlerts = "get-alerts"

	// ToolGetForecast is the name of the forecast tool.
	ToolGetForecast = "get-forecast"
)

// Weather serves the weather tools from a repository.Weather.
type Weather struct {
	repo repository.Weather
}

// NewWeather creates a new Weather.
func NewWeather(repo repository.Weather) *Weather {
	return &Weather{repo: repo}
}

// Register registers the weather tools on s.
func (h *Weather) Register(s *mcpweather.Server, options ...mcpweather.ToolOption) {
	readOnly := mcpweather.ToolWithAnnotations(mcpweather.ToolAnnotations{
		ReadOnlyHint:   true,
		IdempotentHint: true,
		OpenWorldHint:  true,
	})
	s.Tool(ToolGetAlerts,
		(*ToolGetAlertsRequest)(nil),
		h.GetAlerts,
		append([]mcpweather.ToolOption{
			mcpweather.ToolWithDescription("Get weather alerts for a state"),
			readOnly,
		}, options...)...)

	s.Tool(ToolGetForecast,
		(*ToolGetForecastRequest)(nil),
		h.GetForecast,
		append([]mcpweather.ToolOption{
			mcpweather.ToolWithDescription("Get weather forecast for a location"),
			readOnly,
		}, options...)...)
}

// GetAlerts answers the active alerts for a state.
func (h *Weather) GetAlerts(c mcpweather.ToolContext) error {
	var req ToolGetAlertsRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	stateCode := strings.ToUpper(req.State)
	alerts := h.repo.Alerts(c.Context(), stateCode)
	if alerts == nil {
		return c.String("Failed to retrieve alerts data")
	}
	if len(alerts.Features) == 0 {
		return c.String(fmt.Sprintf("No active alerts for %s", stateCode))
	}

	formatted := make([]string, 0, len(alerts.Features))
	for _, feature := range alerts.Features {
		formatted = append(formatted, FormatAlert(feature.Properties))
	}
	return c.String(fmt.Sprintf("Active alerts for %s:\n\n%s", stateCode, strings.Join(formatted, "\n")))
}

// GetForecast answers the forecast for a coordinate.
func (h *Weather) GetForecast(c mcpweather.ToolContext) error {
	var req ToolGetForecastRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Latitude == nil || req.Longitude == nil {
		return fmt.Errorf("latitude and longitude are required")
	}
	latitude, longitude := *req.Latitude, *req.Longitude
	coordinates := formatNumber(latitude) + ", " + formatNumber(longitude)

	points := h.repo.Points(c.Context(), latitude, longitude)
	if points == nil {
		return c.String(fmt.Sprintf(
			"Failed to retrieve grid point data for coordinates: %s. This location may not be supported by the NWS API (only US locations are supported).",
			coordinates))
	}

	forecastURL := points.Properties.Forecast
	if forecastURL == "" {
		return c.String("Failed to get forecast URL from grid point data")
	}

	forecast := h.repo.Forecast(c.Context(), forecastURL)
	if forecast == nil {
		return c.String("Failed to retrieve forecast data")
	}

	periods := forecast.Properties.Periods
	if len(periods) == 0 {
		return c.String("No forecast periods available")
	}

	formatted := make([]string, 0, len(periods))
	for _, period := range periods {
		formatted = append(formatted, FormatForecastPeriod(period))
	}
	return c.String(fmt.Sprintf("Forecast for %s:\n\n%s", coordinates, strings.Join(formatted, "\n")))
}
