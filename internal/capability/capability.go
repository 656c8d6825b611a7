package capability

import "context"

// Kind names one pipeline function multiple vendors can fulfill.
type Kind string

const (
	KindDescription   Kind = "description"
	KindNarration     Kind = "narration"
	KindSpeech        Kind = "speech"
	KindTranscription Kind = "transcription"
)

// Kinds lists every capability the pipeline can ask for.
var Kinds = []Kind{KindDescription, KindNarration, KindSpeech, KindTranscription}

// Request is the normalized input passed to any adapter. Media carries raw
// image bytes for description and raw audio bytes for transcription; the
// orchestrator resolves blob references before invoking, so adapters never
// touch the blob store.
type Request struct {
	Language  string
	Text      string
	Media     []byte
	MediaMIME string
}

// Result is the normalized output of one adapter call. Units is the vendor's
// output size measure (tokens when reported, characters or audio kilobytes
// otherwise) and feeds the per-unit cost estimate.
type Result struct {
	Text      string
	Title     string
	Body      string
	Audio     []byte
	AudioMIME string
	Units     int
}

// Adapter wraps a single (capability, vendor) pair behind a uniform call.
// Adapters classify failures into the Error taxonomy and never retry; retry
// and fallback policy live in the pipeline executor. Adapters hold no job
// state and are safe to share across concurrent jobs.
type Adapter interface {
	Invoke(ctx context.Context, req Request, cfg ProviderConfig) (*Result, error)
}
