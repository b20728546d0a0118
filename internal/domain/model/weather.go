package model

// Alert is the properties block of an active alert feature.
// Every field is optional; an empty string means the upstream omitted it.
type Alert struct {
	Event    string `json:"event,omitempty"`
	AreaDesc string `json:"areaDesc,omitempty"`
	Severity string `json:"severity,omitempty"`
	Status   string `json:"status,omitempty"`
	Headline string `json:"headline,omitempty"`
}

// AlertFeature is a single GeoJSON feature of the alerts collection.
type AlertFeature struct {
	Properties Alert `json:"properties"`
}

// AlertsResponse is the body of GET /alerts.
type AlertsResponse struct {
	Features []AlertFeature `json:"features"`
}

// ForecastPeriod is one period (e.g. "Tonight") of a gridpoint forecast.
type ForecastPeriod struct {
	Name            string   `json:"name,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"` // nil when absent
	TemperatureUnit string   `json:"temperatureUnit,omitempty"`
	WindSpeed       string   `json:"windSpeed,omitempty"`
	WindDirection   string   `json:"windDirection,omitempty"`
	ShortForecast   string   `json:"shortForecast,omitempty"`
}

// ForecastProperties holds the forecast periods.
type ForecastProperties struct {
	Periods []ForecastPeriod `json:"periods"`
}

// ForecastResponse is the body of the forecast URL returned by the points endpoint.
type ForecastResponse struct {
	Properties ForecastProperties `json:"properties"`
}

// PointProperties is the part of the gridpoint metadata we use.
type PointProperties struct {
	// Forecast is the URL of the forecast resource for the grid point.
	Forecast string `json:"forecast,omitempty"`
}

// PointsResponse is the body of GET /points/{lat},{lon}.
type PointsResponse struct {
	Properties PointProperties `json:"properties"`
}
