package capability

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Resolver maps (capability, language) to the ordered candidate list. The
// list order is the fallback order. Settings are read through the Source on
// every call, which is what makes vendor swaps take effect mid-process.
type Resolver struct {
	source Source
}

func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the candidates for kind at the given language tag: exact
// match first, else the configured default language. It never returns an
// empty list for a validated settings document.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, lang string) ([]ProviderConfig, error) {
	settings, err := r.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	byLang, ok := settings.Capabilities[kind]
	if !ok {
		return nil, fmt.Errorf("capability %q is not configured", kind)
	}
	if candidates := byLang[NormalizeLanguage(lang)]; len(candidates) > 0 {
		return append([]ProviderConfig(nil), candidates...), nil
	}
	candidates := byLang[settings.DefaultLanguage]
	if len(candidates) == 0 {
		return nil, fmt.Errorf("capability %q has no candidates for default language %q", kind, settings.DefaultLanguage)
	}
	return append([]ProviderConfig(nil), candidates...), nil
}

// DefaultLanguage exposes the configured default tag for callers that need
// to fill in a missing job language.
func (r *Resolver) DefaultLanguage(ctx context.Context) (string, error) {
	settings, err := r.source.Load(ctx)
	if err != nil {
		return "", err
	}
	return settings.DefaultLanguage, nil
}

// Languages lists every configured language tag.
func (r *Resolver) Languages(ctx context.Context) ([]string, error) {
	settings, err := r.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	return settings.Languages(), nil
}

// NormalizeLanguage reduces a BCP 47 tag to the primary subtag the settings
// table is keyed by ("en-US" -> "en"). Unparseable input is passed through
// lowercased and resolves via the default-language path.
func NormalizeLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.ToLower(lang)
	}
	base, _ := tag.Base()
	return base.String()
}
