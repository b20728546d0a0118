package repository

import (
	"context"

	"github.com/miyamo2/mcp-weather/internal/domain/model"
)

// Weather reads weather data from an upstream provider.
//
// Every method returns nil when the upstream is unavailable; callers must not try to
// distinguish the reason.
type Weather interface {
	Alerts(ctx context.Context, area string) *model.AlertsResponse
	Points(ctx context.Context, latitude, longitude float64) *model.PointsResponse
	Forecast(ctx context.Context, forecastURL string) *model.ForecastResponse
}
