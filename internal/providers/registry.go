package providers

import (
	"storyforge/internal/capability"
	"storyforge/internal/infra"
	"storyforge/internal/providers/elevenlabs"
	"storyforge/internal/providers/gemini"
	"storyforge/internal/providers/openai"
)

// Registry maps (capability, vendor) to the adapter that serves it. A vendor
// named in config but absent here surfaces as an unknown-kind candidate
// failure in the executor, which simply moves on to the next candidate.
type Registry struct {
	adapters map[capability.Kind]map[string]capability.Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[capability.Kind]map[string]capability.Adapter)}
}

// Register binds an adapter for one (capability, vendor) pair.
func (r *Registry) Register(kind capability.Kind, vendor string, adapter capability.Adapter) {
	byVendor, ok := r.adapters[kind]
	if !ok {
		byVendor = make(map[string]capability.Adapter)
		r.adapters[kind] = byVendor
	}
	byVendor[vendor] = adapter
}

// Lookup returns the adapter for a (capability, vendor) pair.
func (r *Registry) Lookup(kind capability.Kind, vendor string) (capability.Adapter, bool) {
	adapter, ok := r.adapters[kind][vendor]
	return adapter, ok
}

// Default wires every built-in vendor from service configuration. Vendors
// without credentials are still registered; their adapters classify the
// missing key as an auth failure so per-language fallback order decides what
// actually runs.
func Default(cfg *infra.Config, logger infra.Logger) *Registry {
	r := NewRegistry()

	oa := openai.NewClient(openai.Options{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Logger:  &logger,
	})
	r.Register(capability.KindDescription, "openai", openai.NewDescriber(oa))
	r.Register(capability.KindNarration, "openai", openai.NewNarrator(oa))
	r.Register(capability.KindSpeech, "openai", openai.NewSpeaker(oa))
	r.Register(capability.KindTranscription, "openai", openai.NewTranscriber(oa))

	gm := gemini.NewClient(gemini.Options{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Logger:  &logger,
	})
	r.Register(capability.KindDescription, "gemini", gemini.NewDescriber(gm))
	r.Register(capability.KindNarration, "gemini", gemini.NewNarrator(gm))
	r.Register(capability.KindSpeech, "gemini", gemini.NewSpeaker(gm))
	r.Register(capability.KindTranscription, "gemini", gemini.NewTranscriber(gm))

	el := elevenlabs.NewClient(elevenlabs.Options{
		APIKey:  cfg.ElevenLabsAPIKey,
		BaseURL: cfg.ElevenLabsBase,
		Logger:  &logger,
	})
	r.Register(capability.KindSpeech, "elevenlabs", elevenlabs.NewSpeaker(el))

	return r
}
