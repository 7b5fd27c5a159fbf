// Package weather fetches current conditions, forecasts and soil readings
// from the AgroSpeak backend and shapes them for farmers.
package weather

import "math"

// Current is the present conditions at a location.
type Current struct {
	Temperature   int     `json:"temperature"`
	TemperatureF  int     `json:"temperatureF"`
	Condition     string  `json:"condition"`
	WeatherCode   int     `json:"weatherCode"`
	WindSpeed     float64 `json:"windSpeed"`
	WindSpeedMph  int     `json:"windSpeedMph"`
	WindDirection float64 `json:"windDirection"`
	IsDay         bool    `json:"isDay"`
	Time          string  `json:"time"`
	Icon          string  `json:"icon"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Timezone      string  `json:"timezone"`
}

// Day is one day of the forecast.
type Day struct {
	Date                string  `json:"date"`
	MaxTemp             int     `json:"maxTemp"`
	MinTemp             int     `json:"minTemp"`
	TempRange           int     `json:"tempRange"`
	PrecipitationMm     float64 `json:"precipitationMm"`
	PrecipitationInches float64 `json:"precipitationInches"`
	Condition           string  `json:"condition"`
	WeatherCode         int     `json:"weatherCode"`
	Icon                string  `json:"icon"`
}

// SoilReading is soil temperature (°C) and moisture (%) at 0-7cm.
type SoilReading struct {
	Time        string  `json:"time"`
	Temperature float64 `json:"temperature"`
	Moisture    float64 `json:"moisture"`
}

// InsightKind grades an agronomic insight.
type InsightKind string

const (
	InsightWarning InsightKind = "warning"
	InsightInfo    InsightKind = "info"
	InsightSuccess InsightKind = "success"
)

// Insight is a short agronomic observation.
type Insight struct {
	Kind    InsightKind `json:"type"`
	Message string      `json:"message"`
	Icon    string      `json:"icon"`
}

// Soil is the soil report for a location.
type Soil struct {
	Current  SoilReading   `json:"current"`
	Hourly   []SoilReading `json:"hourly"`
	Insights []Insight     `json:"insights"`
}

// Report bundles everything known about a location. Soil is nil when the
// soil service was unavailable.
type Report struct {
	Current  *Current `json:"current"`
	Forecast []Day    `json:"forecast"`
	Soil     *Soil    `json:"soil,omitempty"`
}

var icons = map[int]string{
	2: "partly-sunny", 3: "cloudy", 45: "cloudy", 48: "cloudy",
	51: "rainy", 53: "rainy", 55: "rainy", 61: "rainy", 63: "rainy", 65: "rainy",
	66: "snow", 67: "snow", 71: "snow", 73: "snow", 75: "snow", 77: "snow",
	80: "rainy", 81: "rainy", 82: "rainy",
	95: "thunderstorm", 96: "thunderstorm", 99: "thunderstorm",
}

// Icon maps a WMO weather code to an icon name.
func Icon(code int, isDay bool) string {
	switch code {
	case 0:
		if isDay {
			return "sunny"
		}
		return "moon"
	case 1:
		if isDay {
			return "partly-sunny"
		}
		return "cloudy-night"
	}
	if icon, ok := icons[code]; ok {
		return icon
	}
	return "cloudy"
}

// SoilInsights grades soil temperature and moisture.
func SoilInsights(temperature, moisture float64) []Insight {
	var out []Insight

	switch {
	case temperature < 5:
		out = append(out, Insight{InsightWarning, "Soil temperature too low for most crops", "snow"})
	case temperature > 35:
		out = append(out, Insight{InsightWarning, "Soil temperature very high - consider irrigation", "thermometer"})
	case temperature >= 15 && temperature <= 25:
		out = append(out, Insight{InsightSuccess, "Optimal soil temperature for most crops", "checkmark-circle"})
	}

	switch {
	case moisture < 20:
		out = append(out, Insight{InsightWarning, "Low soil moisture - irrigation recommended", "water"})
	case moisture > 80:
		out = append(out, Insight{InsightInfo, "High soil moisture - monitor for waterlogging", "rainy"})
	default:
		out = append(out, Insight{InsightSuccess, "Good soil moisture levels", "leaf"})
	}
	return out
}

func round(v float64) int { return int(math.Round(v)) }
