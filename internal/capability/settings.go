package capability

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultMaxRetries is the retry budget per candidate when the config
	// does not override it: one initial attempt plus two retries.
	DefaultMaxRetries = 2

	defaultTimeout = 30 * time.Second
)

// ProviderConfig is one (vendor, model, parameters) candidate for a
// capability+language pair. List order in Settings is the fallback order.
type ProviderConfig struct {
	Vendor         string            `json:"vendor"`
	Model          string            `json:"model"`
	Params         map[string]string `json:"params,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	MaxRetries     int               `json:"max_retries,omitempty"`
	PricePerUnit   float64           `json:"price_per_unit,omitempty"`
}

// Timeout returns the per-call deadline for this vendor.
func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultTimeout
}

// Retries returns the retry budget per attempt loop. A zero value means the
// package default; use a negative value to disable retries entirely.
func (c ProviderConfig) Retries() int {
	if c.MaxRetries < 0 {
		return 0
	}
	if c.MaxRetries == 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// Param reads a vendor-specific parameter with a fallback.
func (c ProviderConfig) Param(key, fallback string) string {
	if v, ok := c.Params[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// Settings is the hot-reloadable capability/vendor table:
// capability -> language -> ordered candidates.
type Settings struct {
	DefaultLanguage string                               `json:"default_language"`
	Capabilities    map[Kind]map[string][]ProviderConfig `json:"capabilities"`
}

// ParseSettings decodes and validates a settings document.
func ParseSettings(data []byte) (*Settings, error) {
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("settings: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate enforces the no-starvation invariant: every capability must have
// at least one candidate at the default language, so Resolve can never
// return an empty list.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.DefaultLanguage) == "" {
		return fmt.Errorf("settings: default_language is required")
	}
	if len(s.Capabilities) == 0 {
		return fmt.Errorf("settings: capabilities table is empty")
	}
	for _, kind := range Kinds {
		byLang, ok := s.Capabilities[kind]
		if !ok {
			return fmt.Errorf("settings: capability %q is not configured", kind)
		}
		if len(byLang[s.DefaultLanguage]) == 0 {
			return fmt.Errorf("settings: capability %q has no candidates for default language %q", kind, s.DefaultLanguage)
		}
		for lang, candidates := range byLang {
			for i, c := range candidates {
				if strings.TrimSpace(c.Vendor) == "" {
					return fmt.Errorf("settings: capability %q language %q candidate %d has no vendor", kind, lang, i)
				}
				if strings.TrimSpace(c.Model) == "" {
					return fmt.Errorf("settings: capability %q language %q candidate %d has no model", kind, lang, i)
				}
			}
		}
	}
	return nil
}

// Languages returns every language tag configured for any capability.
func (s *Settings) Languages() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, byLang := range s.Capabilities {
		for lang := range byLang {
			if _, ok := seen[lang]; ok {
				continue
			}
			seen[lang] = struct{}{}
			out = append(out, lang)
		}
	}
	return out
}
