// Package translate moves text between the farmer's language and English.
//
// The assistant reasons in English. Queries are translated to English
// before the remote assistant is called, and answers are translated back
// before they are shown or spoken. A failed translation never stops a
// turn: the Adapter hands back the original text and records why.
package translate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/agrospeak/agrospeak/internal/fallback"
)

// English is the pivot language for the assistant and local handlers.
const English = "English"

// Translator is a translation backend.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Result is the outcome of an Adapter call.
type Result struct {
	Text   string
	Reason fallback.Reason
}

// Observer receives fallback notifications. Satisfied by metrics.Metrics.
type Observer interface {
	ObserveFallback(adapter string, reason fallback.Reason)
}

// Adapter wraps a Translator with the identity short-circuit and the
// fall-back-to-original contract.
type Adapter struct {
	backend  Translator
	observer Observer
	logger   *slog.Logger
}

// NewAdapter returns an Adapter over backend. A nil backend makes every
// cross-language call fall back with fallback.Unavailable.
func NewAdapter(backend Translator, observer Observer, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{backend: backend, observer: observer, logger: logger}
}

// SameLanguage reports whether a and b name the same language. Both
// display names ("English") and ISO codes ("en") are accepted for English.
func SameLanguage(a, b string) bool {
	return normalize(a) == normalize(b)
}

// IsEnglish reports whether lang names English.
func IsEnglish(lang string) bool {
	return normalize(lang) == "english"
}

func normalize(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	switch l {
	case "en", "en-us", "en-gb", "eng":
		return "english"
	case "bem":
		return "bemba"
	case "nya", "ny":
		return "nyanja"
	}
	return l
}

// Translate returns text translated from sourceLang to targetLang. It
// never fails: on any backend error the original text is returned.
func (a *Adapter) Translate(ctx context.Context, text, sourceLang, targetLang string) Result {
	if SameLanguage(sourceLang, targetLang) || strings.TrimSpace(text) == "" {
		return Result{Text: text}
	}
	if a.backend == nil {
		a.degrade(fallback.Unavailable, nil, sourceLang, targetLang)
		return Result{Text: text, Reason: fallback.Unavailable}
	}

	out, err := a.backend.Translate(ctx, text, sourceLang, targetLang)
	if err != nil {
		reason := fallback.Classify(err)
		a.degrade(reason, err, sourceLang, targetLang)
		return Result{Text: text, Reason: reason}
	}
	if strings.TrimSpace(out) == "" {
		a.degrade(fallback.Empty, nil, sourceLang, targetLang)
		return Result{Text: text, Reason: fallback.Empty}
	}
	return Result{Text: out}
}

func (a *Adapter) degrade(reason fallback.Reason, err error, src, dst string) {
	a.logger.Warn("translation failed, using original text",
		"reason", reason.String(), "source", src, "target", dst, "error", err)
	if a.observer != nil {
		a.observer.ObserveFallback("translate", reason)
	}
}
