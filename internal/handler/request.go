package handler

import (
	"unicode/utf8"

	mcpweather "github.com/miyamo2/mcp-weather"
)

// ToolGetAlertsRequest contains input parameters for the get-alerts tool.
type ToolGetAlertsRequest struct {
	State string `json:"state" jsonschema:"minLength=2,maxLength=2,description=Two-letter state code (e.g. CA\\, NY)"`
}

// Validate See: mcpweather.Validator
func (r ToolGetAlertsRequest) Validate() mcpweather.Violations {
	var v mcpweather.Violations
	if utf8.RuneCountInString(r.State) != 2 {
		v.Add("state", "must contain exactly 2 characters")
	}
	return v
}

// ToolGetForecastRequest contains input parameters for the get-forecast tool.
type ToolGetForecastRequest struct {
	Latitude  *float64 `json:"latitude" jsonschema:"minimum=-90,maximum=90,description=Latitude of the location"`
	Longitude *float64 `json:"longitude" jsonschema:"minimum=-180,maximum=180,description=Longitude of the location"`
}

// Validate See: mcpweather.Validator
func (r ToolGetForecastRequest) Validate() mcpweather.Violations {
	var v mcpweather.Violations
	switch {
	case r.Latitude == nil:
		v.Add("latitude", "is required")
	case *r.Latitude < -90 || *r.Latitude > 90:
		v.Add("latitude", "must be between -90 and 90")
	}
	switch {
	case r.Longitude == nil:
		v.Add("longitude", "is required")
	case *r.Longitude < -180 || *r.Longitude > 180:
		v.Add("longitude", "must be between -180 and 180")
	}
	return v
}
