package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"storyforge/internal/capability"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(rt roundTripFunc) *Client {
	return NewClient(Options{
		APIKey:     "dummy",
		HTTPClient: &http.Client{Transport: rt},
	})
}

func candidateResponse(parts string) string {
	return `{"candidates": [{"content": {"parts": [` + parts + `]}, "finishReason": "STOP"}], "usageMetadata": {"candidatesTokenCount": 7}}`
}

func TestDescriberSendsInlineImage(t *testing.T) {
	t.Parallel()
	var gotPath string
	var gotReq generateContentRequest
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return jsonResponse(http.StatusOK, candidateResponse(`{"text": "a red kite over a field"}`)), nil
	})
	d := NewDescriber(client)
	res, err := d.Invoke(context.Background(), capability.Request{
		Media:     []byte{0x89, 0x50},
		MediaMIME: "image/png",
	}, capability.ProviderConfig{Model: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if !strings.Contains(gotPath, "gemini-2.0-flash:generateContent") {
		t.Fatalf("path = %q", gotPath)
	}
	if res.Text != "a red kite over a field" {
		t.Fatalf("Text = %q", res.Text)
	}
	if res.Units != 7 {
		t.Fatalf("Units = %d, want 7", res.Units)
	}
	parts := gotReq.Contents[0].Parts
	if len(parts) != 2 || parts[1].InlineData == nil {
		t.Fatalf("expected prompt part plus inline image, got %+v", parts)
	}
	if parts[1].InlineData.MimeType != "image/png" {
		t.Fatalf("mime = %q", parts[1].InlineData.MimeType)
	}
}

func TestNarratorRequestsJSONResponse(t *testing.T) {
	t.Parallel()
	var gotReq generateContentRequest
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return jsonResponse(http.StatusOK, candidateResponse(`{"text": "{\"title\":\"Kite Day\",\"body\":\"The wind was kind.\"}"}`)), nil
	})
	n := NewNarrator(client)
	res, err := n.Invoke(context.Background(), capability.Request{Language: "en", Text: "a kite"}, capability.ProviderConfig{Model: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if gotReq.GenerationConfig.ResponseMimeType != "application/json" {
		t.Fatalf("responseMimeType = %q", gotReq.GenerationConfig.ResponseMimeType)
	}
	if res.Title != "Kite Day" || res.Body != "The wind was kind." {
		t.Fatalf("got (%q, %q)", res.Title, res.Body)
	}
}

func TestSpeakerDecodesInlineAudio(t *testing.T) {
	t.Parallel()
	encoded := base64.StdEncoding.EncodeToString([]byte("wav-bytes"))
	var gotReq generateContentRequest
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return jsonResponse(http.StatusOK, candidateResponse(`{"inlineData": {"mimeType": "audio/wav", "data": "`+encoded+`"}}`)), nil
	})
	s := NewSpeaker(client)
	res, err := s.Invoke(context.Background(), capability.Request{Text: "read me"}, capability.ProviderConfig{
		Model:  "gemini-2.5-flash-tts",
		Params: map[string]string{"voice": "Puck"},
	})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if string(res.Audio) != "wav-bytes" {
		t.Fatalf("audio = %q", res.Audio)
	}
	if res.AudioMIME != "audio/wav" {
		t.Fatalf("mime = %q", res.AudioMIME)
	}
	if got := gotReq.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Puck" {
		t.Fatalf("voice = %q, want Puck", got)
	}
	if len(gotReq.GenerationConfig.ResponseModalities) != 1 || gotReq.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Fatalf("modalities = %v", gotReq.GenerationConfig.ResponseModalities)
	}
}

func TestGenerateClassifiesSafetyBlocks(t *testing.T) {
	t.Parallel()
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"promptFeedback": {"blockReason": "SAFETY"}}`), nil
	})
	n := NewNarrator(client)
	_, err := n.Invoke(context.Background(), capability.Request{Text: "x"}, capability.ProviderConfig{Model: "gemini-2.0-flash"})
	if got := capability.Classify(err); got != capability.FailureContentFiltered {
		t.Fatalf("failure kind = %s, want content_filtered", got)
	}

	client = newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`), nil
	})
	_, err = NewNarrator(client).Invoke(context.Background(), capability.Request{Text: "x"}, capability.ProviderConfig{Model: "gemini-2.0-flash"})
	if got := capability.Classify(err); got != capability.FailureContentFiltered {
		t.Fatalf("failure kind = %s, want content_filtered", got)
	}
}

func TestGenerateClassifiesStatusCodes(t *testing.T) {
	t.Parallel()
	cases := map[int]capability.FailureKind{
		401: capability.FailureAuth,
		429: capability.FailureRateLimited,
		504: capability.FailureTimeout,
		400: capability.FailureMalformedResponse,
		503: capability.FailureUnknown,
	}
	for status, want := range cases {
		if got := classifyStatus(status).Kind; got != want {
			t.Fatalf("classifyStatus(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestTranscriberUsesTextPart(t *testing.T) {
	t.Parallel()
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, candidateResponse(`{"text": " hello from tape "}`)), nil
	})
	tr := NewTranscriber(client)
	res, err := tr.Invoke(context.Background(), capability.Request{Media: []byte("audio"), MediaMIME: "audio/mpeg"}, capability.ProviderConfig{Model: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if res.Text != "hello from tape" {
		t.Fatalf("Text = %q", res.Text)
	}
}
