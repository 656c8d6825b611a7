package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storyforge/internal/capability"
	"storyforge/internal/infra"
)

const vendorName = "gemini"

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client provides a lightweight facade over the Gemini generateContent API so
// that the per-capability adapters can focus on translating domain requests
// to API calls.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		httpClient: client,
		logger:     opts.Logger,
	}
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature        float64             `json:"temperature,omitempty"`
	CandidateCount     int                 `json:"candidateCount,omitempty"`
	ResponseMimeType   string              `json:"responseMimeType,omitempty"`
	ResponseModalities []string            `json:"responseModalities,omitempty"`
	SpeechConfig       *geminiSpeechConfig `json:"speechConfig,omitempty"`
}

type geminiSpeechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName,omitempty"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type generateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// generate runs generateContent for a model and returns the decoded response.
func (c *Client) generate(ctx context.Context, model string, payload generateContentRequest) (*generateContentResponse, error) {
	if c.apiKey == "" {
		return nil, capability.NewError(capability.FailureAuth, vendorName, "api key is not configured")
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, capability.NewError(capability.FailureUnknown, vendorName, "encode request: %v", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, capability.NewError(capability.FailureUnknown, vendorName, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, capability.NewError(capability.FailureTimeout, vendorName, "request timed out")
		}
		return nil, capability.NewError(capability.FailureUnknown, vendorName, "request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, capability.NewError(capability.FailureMalformedResponse, vendorName, "read response: %v", err)
	}
	if resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode)
	}

	var out generateContentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, capability.NewError(capability.FailureMalformedResponse, vendorName, "decode response: %v", err)
	}
	if out.PromptFeedback.BlockReason != "" {
		return nil, capability.NewError(capability.FailureContentFiltered, vendorName, "prompt blocked: %s", out.PromptFeedback.BlockReason)
	}
	if len(out.Candidates) == 0 {
		return nil, capability.NewError(capability.FailureMalformedResponse, vendorName, "response has no candidates")
	}
	if out.Candidates[0].FinishReason == "SAFETY" {
		return nil, capability.NewError(capability.FailureContentFiltered, vendorName, "candidate blocked by safety filter")
	}
	return &out, nil
}

// generateText returns the first non-empty text part plus the candidate
// token count for cost estimation.
func (c *Client) generateText(ctx context.Context, model string, payload generateContentRequest) (string, int, error) {
	out, err := c.generate(ctx, model, payload)
	if err != nil {
		return "", 0, err
	}
	for _, part := range out.Candidates[0].Content.Parts {
		if strings.TrimSpace(part.Text) != "" {
			return part.Text, out.UsageMetadata.CandidatesTokenCount, nil
		}
	}
	return "", 0, capability.NewError(capability.FailureMalformedResponse, vendorName, "response has no text part")
}

// generateAudio returns decoded audio bytes and their MIME type.
func (c *Client) generateAudio(ctx context.Context, model string, payload generateContentRequest) ([]byte, string, error) {
	out, err := c.generate(ctx, model, payload)
	if err != nil {
		return nil, "", err
	}
	for _, part := range out.Candidates[0].Content.Parts {
		if part.InlineData == nil || part.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return nil, "", capability.NewError(capability.FailureMalformedResponse, vendorName, "decode audio payload: %v", err)
		}
		mime := part.InlineData.MimeType
		if mime == "" {
			mime = "audio/mpeg"
		}
		return data, mime, nil
	}
	return nil, "", capability.NewError(capability.FailureMalformedResponse, vendorName, "response has no audio part")
}

func classifyStatus(status int) *capability.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return capability.NewError(capability.FailureAuth, vendorName, "authentication rejected (status %d)", status)
	case http.StatusTooManyRequests:
		return capability.NewError(capability.FailureRateLimited, vendorName, "rate limited (status %d)", status)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return capability.NewError(capability.FailureTimeout, vendorName, "upstream timeout (status %d)", status)
	case http.StatusBadRequest:
		return capability.NewError(capability.FailureMalformedResponse, vendorName, "request rejected (status %d)", status)
	default:
		return capability.NewError(capability.FailureUnknown, vendorName, "unexpected status %d", status)
	}
}
