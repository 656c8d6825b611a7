package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"storyforge/internal/capability"
)

const (
	defaultDescribePrompt = "Describe this picture for a children's storyteller: the characters, the setting, the mood, and anything unusual. Two or three sentences, plain prose."
	defaultNarratePrompt  = "You are a warm children's storyteller. Write a short story in language %q inspired by the following input. Respond strictly with JSON matching {\"title\":string,\"body\":string}. Input: %s"
)

// Describer turns an image into descriptive text via a vision-capable chat model.
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
	prompt := cfg.Param("prompt", defaultDescribePrompt)
	text, tokens, err := d.client.chat(ctx, chatRequest{
		Model: cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &chatImagePart{URL: dataURL(req.MediaMIME, req.Media)}},
			},
		}},
		Temperature: 0.4,
	})
	if err != nil {
		return nil, err
	}
	return &capability.Result{Text: text, Units: unitsOr(tokens, text)}, nil
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
	text, tokens, err := n.client.chat(ctx, chatRequest{
		Model:       cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.8,
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

// Speaker synthesizes narration audio.
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
	audio, err := s.client.speech(ctx, speechRequest{
		Model:          cfg.Model,
		Input:          req.Text,
		Voice:          cfg.Param("voice", "alloy"),
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, err
	}
	return &capability.Result{Audio: audio, AudioMIME: "audio/mpeg", Units: len(req.Text)}, nil
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
	text, err := t.client.transcribe(ctx, cfg.Model, req.Media, req.MediaMIME)
	if err != nil {
		return nil, err
	}
	return &capability.Result{Text: text, Units: len(text)}, nil
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

// parseStoryPayload decodes the model's JSON story, tolerating code fences
// and stray prose around the object.
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
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

var (
	_ capability.Adapter = (*Describer)(nil)
	_ capability.Adapter = (*Narrator)(nil)
	_ capability.Adapter = (*Speaker)(nil)
	_ capability.Adapter = (*Transcriber)(nil)
)
