// Package intent maps a user utterance onto one of the assistant's fixed
// command categories.
//
// Classification is a plain keyword scan: the transcript is lowercased and
// each category's keywords are tested as substrings, in priority order.
// The first category with a hit wins. Nothing matching is a normal result
// (Unknown), and Unknown utterances are answered by the remote assistant.
package intent

import "strings"

// Intent is the classified purpose of an utterance.
type Intent int

const (
	Unknown Intent = iota
	Weather
	Crops
	Profile
	Market
	Soil
	Location
)

var names = map[Intent]string{
	Unknown:  "unknown",
	Weather:  "weather",
	Crops:    "crops",
	Profile:  "profile",
	Market:   "market",
	Soil:     "soil",
	Location: "location",
}

func (i Intent) String() string {
	if n, ok := names[i]; ok {
		return n
	}
	return "unknown"
}

// MarshalText lets intents appear by name in JSON payloads.
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText parses a name produced by MarshalText.
func (i *Intent) UnmarshalText(b []byte) error {
	*i = Parse(string(b))
	return nil
}

// Parse returns the intent named s, or Unknown.
func Parse(s string) Intent {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return i
		}
	}
	return Unknown
}

type rule struct {
	intent   Intent
	keywords []string
}

// rules is the canonical routing table, in priority order. "soil" is
// listed under Crops and Soil; Crops is tested first so it wins, and the
// Soil category is reached through "fertilizer" or "nutrient".
var rules = []rule{
	{Weather, []string{"weather", "forecast", "rain", "temperature", "humidity", "wind"}},
	{Crops, []string{"crop", "farm", "soil", "plant", "harvest", "irrigation"}},
	{Profile, []string{"profile", "my info", "account"}},
	{Market, []string{"price", "market", "sell", "buy"}},
	{Soil, []string{"soil", "fertilizer", "nutrient"}},
	{Location, []string{"location", "where", "map"}},
}

// Classify returns the first category whose keyword set has a substring
// match in transcript, or Unknown.
func Classify(transcript string) Intent {
	text := strings.ToLower(transcript)
	if strings.TrimSpace(text) == "" {
		return Unknown
	}
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.intent
			}
		}
	}
	return Unknown
}

// All returns the known categories in priority order.
func All() []Intent {
	out := make([]Intent, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.intent)
	}
	return out
}

// Keywords returns a copy of the keyword set for i.
func Keywords(i Intent) []string {
	for _, r := range rules {
		if r.intent == i {
			return append([]string(nil), r.keywords...)
		}
	}
	return nil
}
