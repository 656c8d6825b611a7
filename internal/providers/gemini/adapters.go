package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"storyforge/internal/capability"
)

const (
	defaultDescribePrompt   = "Describe this picture for a children's storyteller: the characters, the setting, the mood, and anything unusual. Two or three sentences, plain prose."
	defaultNarratePrompt    = "You are a warm children's storyteller. Write a short story in language %q inspired by the following input. Respond strictly with JSON matching {\"title\":string,\"body\":string}. Input: %s"
	defaultTranscribePrompt = "Transcribe this recording verbatim. Return only the spoken words."
)

// Describer turns an image into descriptive text.
type Describer struct {
	client *Client
}

func NewDescriber(client *Client) *Describer {
	return &Describer{client: client}
}

func (d *Describer) Invoke(ctx context.Context, req capability.Request, cfg capability.ProviderConfig) (*capability.Result, error) {
	if len(req.Media) == 0 {
		return nil, capability.NewError(capability.FailureUnknown, vendorName, "description input has no image payload")
	}
	text, tokens, err := d.client.generateText(ctx, cfg.Model, generateContentRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: cfg.Param("prompt", defaultDescribePrompt)},
				{InlineData: &geminiInlineData{
					MimeType: mimeOr(req.MediaMIME, "image/png"),
					Data:     base64.StdEncoding.EncodeToString(req.Media),
				}},
			},
		}},
		GenerationConfig: &geminiGenerationConfig{Temperature: 0.4, CandidateCount: 1},
	})
	if err != nil {
		return nil, err
	}
	return &capability.Result{Text: strings.TrimSpace(text), Units: unitsOr(tokens, text)}, nil
}

// Narrator produces a titled story from input text.
type Narrator struct {
	client *Client
}

func NewNarrator(client *Client) *Narrator {
	return &Narrator{client: client}
}

func (n *Narrator) Invoke(ctx context.Context, req capability.Request, cfg capability.ProviderConfig) (*capability.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, capability.NewError(capability.FailureUnknown, vendorName, "narration input text is empty")
	}
	prompt := fmt.Sprintf(cfg.Param("prompt", defaultNarratePrompt), req.Language, req.Text)
	text, tokens, err := n.client.generateText(ctx, cfg.Model, generateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.8,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return nil, err
	}
	title, body, err := parseStoryPayload(text)
	if err != nil {
		return nil, capability.NewError(capability.FailureMalformedResponse, vendorName, "parse story payload: %v", err)
	}
	return &capability.Result{Title: title, Body: body, Units: unitsOr(tokens, body)}, nil
}

// Speaker synthesizes narration audio via the audio response modality.
type Speaker struct {
	client *Client
}

func NewSpeaker(client *Client) *Speaker {
	return &Speaker{client: client}
}

func (s *Speaker) Invoke(ctx context.Context, req capability.Request, cfg capability.ProviderConfig) (*capability.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, capability.NewError(capability.FailureUnknown, vendorName, "speech input text is empty")
	}
	speech := &geminiSpeechConfig{}
	speech.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Param("voice", "Kore")
	audio, mime, err := s.client.generateAudio(ctx, cfg.Model, generateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Text}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig:       speech,
		},
	})
	if err != nil {
		return nil, err
	}
	return &capability.Result{Audio: audio, AudioMIME: mime, Units: len(req.Text)}, nil
}

// Transcriber converts a voice recording to text.
type Transcriber struct {
	client *Client
}

func NewTranscriber(client *Client) *Transcriber {
	return &Transcriber{client: client}
}

func (t *Transcriber) Invoke(ctx context.Context, req capability.Request, cfg capability.ProviderConfig) (*capability.Result, error) {
	if len(req.Media) == 0 {
		return nil, capability.NewError(capability.FailureUnknown, vendorName, "transcription input has no audio payload")
	}
	text, tokens, err := t.client.generateText(ctx, cfg.Model, generateContentRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: cfg.Param("prompt", defaultTranscribePrompt)},
				{InlineData: &geminiInlineData{
					MimeType: mimeOr(req.MediaMIME, "audio/mpeg"),
					Data:     base64.StdEncoding.EncodeToString(req.Media),
				}},
			},
		}},
		GenerationConfig: &geminiGenerationConfig{CandidateCount: 1},
	})
	if err != nil {
		return nil, err
	}
	return &capability.Result{Text: strings.TrimSpace(text), Units: unitsOr(tokens, text)}, nil
}

func mimeOr(mime, fallback string) string {
	if strings.TrimSpace(mime) == "" {
		return fallback
	}
	return mime
}

func unitsOr(tokens int, text string) int {
	if tokens > 0 {
		return tokens
	}
	return len(text)
}

type storyPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func parseStoryPayload(raw string) (string, string, error) {
	fragment := extractJSONFragment(raw)
	if fragment == "" {
		return "", "", errors.New("empty payload")
	}
	var decoded storyPayload
	if err := json.Unmarshal([]byte(fragment), &decoded); err != nil {
		return "", "", err
	}
	title := strings.TrimSpace(decoded.Title)
	body := strings.TrimSpace(decoded.Body)
	if title == "" || body == "" {
		return "", "", errors.New("story payload is missing title or body")
	}
	return title, body, nil
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```JSON")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

var (
	_ capability.Adapter = (*Describer)(nil)
	_ capability.Adapter = (*Narrator)(nil)
	_ capability.Adapter = (*Speaker)(nil)
	_ capability.Adapter = (*Transcriber)(nil)
)
