package handler

import (
	"strconv"
	"strings"

	"github.com/miyamo2/mcp-weather/internal/domain/model"
)

// FormatAlert renders one alert as a text block.
func FormatAlert(alert model.Alert) string {
	return strings.Join([]string{
		"Event: " + or(alert.Event, "Unknown"),
		"Area: " + or(alert.AreaDesc, "Unknown"),
		"Severity: " + or(alert.Severity, "Unknown"),
		"Status: " + or(alert.Status, "Unknown"),
		"Headline: " + or(alert.Headline, "No headline"),
		"---",
	}, "\n")
}

// FormatForecastPeriod renders one forecast period as a text block.
func FormatForecastPeriod(period model.ForecastPeriod) string {
	temperature := "Unknown"
	if period.Temperature != nil {
		temperature = formatNumber(*period.Temperature)
	}
	return strings.Join([]string{
		or(period.Name, "Unknown") + ":",
		"Temperature: " + temperature + "°" + or(period.TemperatureUnit, "F"),
		"Wind: " + or(period.WindSpeed, "Unknown") + " " + period.WindDirection,
		or(period.ShortForecast, "No forecast available"),
		"---",
	}, "\n")
}

// or returns fallback when s is empty.
func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// formatNumber renders f with the fewest digits that represent it, without exponent.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
