// Package action answers the intents that do not need the remote
// assistant: weather, soil, location and profile. Every reply is English;
// the conversation translates it for the session.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agrospeak/agrospeak/internal/conversation"
	"github.com/agrospeak/agrospeak/internal/intent"
	"github.com/agrospeak/agrospeak/internal/profile"
	"github.com/agrospeak/agrospeak/internal/weather"
)

// WeatherSource is satisfied by *weather.Client.
type WeatherSource interface {
	ForLocation(ctx context.Context, lat, lon float64) (*weather.Report, error)
	Soil(ctx context.Context, lat, lon float64) (*weather.Soil, error)
}

// ProfileSource is satisfied by *profile.Client.
type ProfileSource interface {
	Get(ctx context.Context, token string) (*profile.Profile, error)
}

// Config wires the handlers. A nil source leaves its intents to the
// remote assistant.
type Config struct {
	Weather WeatherSource
	Profile ProfileSource

	// DefaultLocation is used when a turn carries no location.
	DefaultLocation conversation.Location
}

// Handlers returns the local handler registry.
func Handlers(cfg Config) map[intent.Intent]conversation.LocalHandler {
	h := &handlers{cfg: cfg}
	out := map[intent.Intent]conversation.LocalHandler{
		intent.Location: conversation.HandlerFunc(h.location),
	}
	if cfg.Weather != nil {
		out[intent.Weather] = conversation.HandlerFunc(h.weather)
		out[intent.Soil] = conversation.HandlerFunc(h.soil)
	}
	if cfg.Profile != nil {
		out[intent.Profile] = conversation.HandlerFunc(h.profile)
	}
	return out
}

type handlers struct {
	cfg Config
}

func (h *handlers) where(req conversation.Request) conversation.Location {
	if req.Location != nil {
		return *req.Location
	}
	return h.cfg.DefaultLocation
}

func placeName(loc conversation.Location) string {
	if loc.Name != "" {
		return loc.Name
	}
	return fmt.Sprintf("%.4f, %.4f", loc.Latitude, loc.Longitude)
}

func (h *handlers) weather(ctx context.Context, req conversation.Request) (string, error) {
	loc := h.where(req)
	r, err := h.cfg.Weather.ForLocation(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		return "", fmt.Errorf("weather: %w", err)
	}
	return FormatWeather(placeName(loc), r), nil
}

func (h *handlers) soil(ctx context.Context, req conversation.Request) (string, error) {
	loc := h.where(req)
	s, err := h.cfg.Weather.Soil(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		return "", fmt.Errorf("soil: %w", err)
	}
	return FormatSoil(placeName(loc), s), nil
}

func (h *handlers) location(_ context.Context, req conversation.Request) (string, error) {
	if req.Location == nil {
		d := h.cfg.DefaultLocation
		return fmt.Sprintf("I don't have your location, so I'm using %s (%.4f, %.4f).", placeName(d), d.Latitude, d.Longitude), nil
	}
	loc := *req.Location
	if loc.Name != "" {
		return fmt.Sprintf("You are in %s (%.4f, %.4f).", loc.Name, loc.Latitude, loc.Longitude), nil
	}
	return fmt.Sprintf("You are at latitude %.4f, longitude %.4f.", loc.Latitude, loc.Longitude), nil
}

func (h *handlers) profile(ctx context.Context, req conversation.Request) (string, error) {
	p, err := h.cfg.Profile.Get(ctx, req.AuthToken)
	if errors.Is(err, profile.ErrUnauthorized) {
		return "Please sign in to AgroSpeak to see your profile.", nil
	}
	if err != nil {
		return "", err
	}
	return FormatProfile(p), nil
}

// FormatWeather renders a report as a short spoken summary.
func FormatWeather(place string, r *weather.Report) string {
	var b strings.Builder
	if c := r.Current; c != nil {
		fmt.Fprintf(&b, "Right now in %s it is %s and %d°C, with wind at %.0f km/h.",
			place, strings.ToLower(c.Condition), c.Temperature, c.WindSpeed)
	} else {
		fmt.Fprintf(&b, "Current conditions for %s are not available.", place)
	}
	if len(r.Forecast) > 0 {
		d := r.Forecast[0]
		fmt.Fprintf(&b, " Today expect %s, high of %d°C and low of %d°C", strings.ToLower(d.Condition), d.MaxTemp, d.MinTemp)
		if d.PrecipitationMm > 0 {
			fmt.Fprintf(&b, ", with %.1f mm of rain", d.PrecipitationMm)
		}
		b.WriteString(".")
	}
	if len(r.Forecast) > 1 {
		rainy := 0
		for _, d := range r.Forecast[1:] {
			if d.PrecipitationMm >= 1 {
				rainy++
			}
		}
		if rainy > 0 {
			fmt.Fprintf(&b, " Rain is expected on %d of the next %d days.", rainy, len(r.Forecast)-1)
		} else {
			fmt.Fprintf(&b, " The next %d days look dry.", len(r.Forecast)-1)
		}
	}
	return b.String()
}

// FormatSoil renders a soil report with its insights.
func FormatSoil(place string, s *weather.Soil) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topsoil in %s is %.1f°C with %.0f%% moisture.", place, s.Current.Temperature, s.Current.Moisture)
	for _, in := range s.Insights {
		b.WriteString(" ")
		b.WriteString(in.Message)
		b.WriteString(".")
	}
	return b.String()
}

// FormatProfile renders a profile.
func FormatProfile(p *profile.Profile) string {
	name := p.FullName
	if name == "" {
		name = "a farmer"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are signed in as %s, registered as %s.", name, p.Role)
	if p.Email != "" {
		fmt.Fprintf(&b, " Email: %s.", p.Email)
	}
	if p.Phone != "" {
		fmt.Fprintf(&b, " Phone: %s.", p.Phone)
	}
	return b.String()
}
