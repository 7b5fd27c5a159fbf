package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agrospeak/agrospeak/internal/fallback"
)

// ErrNoData is returned when the backend answers without the expected block.
var ErrNoData = errors.New("weather: no data in response")

// Client reads weather data from the backend, caching transformed results.
type Client struct {
	baseURL      string
	forecastDays int
	cache        Cache
	ttl          time.Duration
	client       *http.Client
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithCache sets the result cache. Defaults to no caching.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = c
		cl.ttl = ttl
	}
}

// WithForecastDays sets the forecast length. Defaults to 5.
func WithForecastDays(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.forecastDays = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// NewClient returns a weather client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		forecastDays: 5,
		cache:        nopCache{},
		client:       &http.Client{Timeout: timeout},
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Current returns present conditions at lat/lon.
func (c *Client) Current(ctx context.Context, lat, lon float64) (*Current, error) {
	key := fmt.Sprintf("current_%s_%s", cellCoord(lat), cellCoord(lon))
	var out Current
	err := c.cached(ctx, key, &out, func() (any, error) {
		var raw currentResponse
		if err := c.get(ctx, "/api/v1/weather/current", lat, lon, nil, &raw); err != nil {
			return nil, err
		}
		return transformCurrent(raw)
	})
	if err != nil {
		return nil, fmt.Errorf("current weather: %w", err)
	}
	return &out, nil
}

// Daily returns the forecast for the configured number of days.
func (c *Client) Daily(ctx context.Context, lat, lon float64) ([]Day, error) {
	key := fmt.Sprintf("daily_%s_%s_%d", cellCoord(lat), cellCoord(lon), c.forecastDays)
	var out []Day
	err := c.cached(ctx, key, &out, func() (any, error) {
		var raw dailyResponse
		extra := url.Values{"days": {strconv.Itoa(c.forecastDays)}}
		if err := c.get(ctx, "/api/v1/weather/daily", lat, lon, extra, &raw); err != nil {
			return nil, err
		}
		return transformDaily(raw), nil
	})
	if err != nil {
		return nil, fmt.Errorf("daily forecast: %w", err)
	}
	return out, nil
}

// Soil returns the soil report with agronomic insights.
func (c *Client) Soil(ctx context.Context, lat, lon float64) (*Soil, error) {
	key := fmt.Sprintf("soil_%s_%s", cellCoord(lat), cellCoord(lon))
	var out Soil
	err := c.cached(ctx, key, &out, func() (any, error) {
		var raw soilResponse
		if err := c.get(ctx, "/api/v1/weather/soil", lat, lon, nil, &raw); err != nil {
			return nil, err
		}
		return transformSoil(raw, c.now().Hour())
	})
	if err != nil {
		return nil, fmt.Errorf("soil data: %w", err)
	}
	return &out, nil
}

// ForLocation fetches current, forecast and soil concurrently. Soil is
// optional: its failure leaves Report.Soil nil.
func (c *Client) ForLocation(ctx context.Context, lat, lon float64) (*Report, error) {
	var r Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cur, err := c.Current(gctx, lat, lon)
		r.Current = cur
		return err
	})
	g.Go(func() error {
		days, err := c.Daily(gctx, lat, lon)
		r.Forecast = days
		return err
	})
	g.Go(func() error {
		soil, err := c.Soil(gctx, lat, lon)
		if err != nil {
			c.logger.Debug("soil data unavailable", "error", err)
			return nil
		}
		r.Soil = soil
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &r, nil
}

// cached loads key into dst, or calls fetch and stores its result.
func (c *Client) cached(ctx context.Context, key string, dst any, fetch func() (any, error)) error {
	if data, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("weather cache read failed", "key", key, "error", err)
	} else if ok {
		if err := json.Unmarshal(data, dst); err == nil {
			c.logger.Debug("weather cache hit", "key", key)
			return nil
		}
	}

	v, err := fetch()
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("weather cache write failed", "key", key, "error", err)
	}
	return json.Unmarshal(data, dst)
}

func (c *Client) get(ctx context.Context, path string, lat, lon float64, extra url.Values, dst any) error {
	q := url.Values{"latitude": {coord(lat)}, "longitude": {coord(lon)}}
	for k, v := range extra {
		q[k] = v
	}
	reqURL := c.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fallback.Errorf(fallback.Status, "weather API error: %d %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fallback.Wrap(fallback.Parse, fmt.Errorf("decoding %s: %w", path, err))
	}
	return nil
}

func coord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// cellCoord rounds to three decimals (about 110 m) so nearby readings from
// a moving device share one cache entry.
func cellCoord(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	if s == "-0.000" {
		return "0.000"
	}
	return s
}

// --- Backend response shapes ---

type currentResponse struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Timezone       string  `json:"timezone"`
	CurrentWeather *struct {
		Temperature   float64 `json:"temperature"`
		WindSpeed     float64 `json:"windspeed"`
		WindDirection float64 `json:"winddirection"`
		WeatherCode   int     `json:"weathercode"`
		IsDay         int     `json:"is_day"`
		Time          string  `json:"time"`
		Message       string  `json:"message"`
	} `json:"current_weather"`
}

type dailyResponse struct {
	Daily *struct {
		Time             []string  `json:"time"`
		TemperatureMax   []float64 `json:"temperature_2m_max"`
		TemperatureMin   []float64 `json:"temperature_2m_min"`
		PrecipitationSum []float64 `json:"precipitation_sum"`
		WeatherCode      []int     `json:"weathercode"`
		Messages         []string  `json:"messages"`
	} `json:"daily"`
}

type soilResponse struct {
	Hourly *struct {
		Time        []string  `json:"time"`
		Temperature []float64 `json:"soil_temperature_0_to_7cm"`
		Moisture    []float64 `json:"soil_moisture_0_to_7cm"`
	} `json:"hourly"`
}

func transformCurrent(raw currentResponse) (*Current, error) {
	cw := raw.CurrentWeather
	if cw == nil {
		return nil, fallback.Wrap(fallback.Empty, ErrNoData)
	}
	condition := cw.Message
	if condition == "" {
		condition = "Unknown"
	}
	isDay := cw.IsDay == 1
	return &Current{
		Temperature:   round(cw.Temperature),
		TemperatureF:  round(cw.Temperature*9/5 + 32),
		Condition:     condition,
		WeatherCode:   cw.WeatherCode,
		WindSpeed:     cw.WindSpeed,
		WindSpeedMph:  round(cw.WindSpeed * 0.621371),
		WindDirection: cw.WindDirection,
		IsDay:         isDay,
		Time:          cw.Time,
		Icon:          Icon(cw.WeatherCode, isDay),
		Latitude:      raw.Latitude,
		Longitude:     raw.Longitude,
		Timezone:      raw.Timezone,
	}, nil
}

func transformDaily(raw dailyResponse) []Day {
	d := raw.Daily
	if d == nil {
		return []Day{}
	}
	days := make([]Day, 0, len(d.Time))
	for i, date := range d.Time {
		maxT, minT := at(d.TemperatureMax, i), at(d.TemperatureMin, i)
		precip := at(d.PrecipitationSum, i)
		code := 0
		if i < len(d.WeatherCode) {
			code = d.WeatherCode[i]
		}
		condition := "Unknown"
		if i < len(d.Messages) && d.Messages[i] != "" {
			condition = d.Messages[i]
		}
		days = append(days, Day{
			Date:                date,
			MaxTemp:             round(maxT),
			MinTemp:             round(minT),
			TempRange:           round(maxT - minT),
			PrecipitationMm:     precip,
			PrecipitationInches: math.Round(precip*0.0394*100) / 100,
			Condition:           condition,
			WeatherCode:         code,
			Icon:                Icon(code, true),
		})
	}
	return days
}

// transformSoil picks the reading at the current hour of day as "current".
func transformSoil(raw soilResponse, hour int) (*Soil, error) {
	h := raw.Hourly
	if h == nil || len(h.Time) == 0 || len(h.Temperature) == 0 {
		return nil, fallback.Wrap(fallback.Empty, ErrNoData)
	}
	readings := make([]SoilReading, len(h.Time))
	for i, t := range h.Time {
		readings[i] = SoilReading{Time: t, Temperature: at(h.Temperature, i), Moisture: at(h.Moisture, i)}
	}
	cur := readings[min(hour, len(readings)-1)]
	return &Soil{
		Current:  cur,
		Hourly:   readings,
		Insights: SoilInsights(cur.Temperature, cur.Moisture),
	}, nil
}

func at(vs []float64, i int) float64 {
	if i < len(vs) {
		return vs[i]
	}
	return 0
}
