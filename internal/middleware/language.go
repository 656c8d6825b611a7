package middleware

import (
	"context"
	"net/http"

	"golang.org/x/text/language"
)

type languageContextKey struct{}

// Language negotiates the request language against the tags the capability
// table is configured for. The matched tag becomes the job default when the
// caller does not name one explicitly.
func Language(defaultTag string, supported []string) func(http.Handler) http.Handler {
	tags := make([]language.Tag, 0, len(supported)+1)
	if def, err := language.Parse(defaultTag); err == nil {
		tags = append(tags, def)
	} else {
		tags = append(tags, language.English)
	}
	for _, raw := range supported {
		if raw == defaultTag {
			continue
		}
		if tag, err := language.Parse(raw); err == nil {
			tags = append(tags, tag)
		}
	}
	matcher := language.NewMatcher(tags)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accept := r.Header.Get("Accept-Language")
			tag, _ := language.MatchStrings(matcher, accept)
			base, _ := tag.Base()
			ctx := context.WithValue(r.Context(), languageContextKey{}, base.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LanguageFromContext returns the negotiated language tag, if any.
func LanguageFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(languageContextKey{}).(string); ok {
		return v
	}
	return ""
}
