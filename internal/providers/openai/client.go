package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"storyforge/internal/capability"
	"storyforge/internal/infra"
)

const vendorName = "openai"

// Options configures the OpenAI client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls to the OpenAI API. One client is shared by all
// per-capability adapters for this vendor.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
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

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatContentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *chatImagePart `json:"image_url,omitempty"`
}

type chatImagePart struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// chat runs a chat completion and returns the first choice's text plus the
// completion token count for cost estimation.
func (c *Client) chat(ctx context.Context, req chatRequest) (string, int, error) {
	if c.apiKey == "" {
		return "", 0, capability.NewError(capability.FailureAuth, vendorName, "api key is not configured")
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return "", 0, capability.NewError(capability.FailureUnknown, vendorName, "encode request: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return "", 0, capability.NewError(capability.FailureUnknown, vendorName, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	body, err := c.do(httpReq)
	if err != nil {
		return "", 0, err
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", 0, capability.NewError(capability.FailureMalformedResponse, vendorName, "decode chat response: %v", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, capability.NewError(capability.FailureMalformedResponse, vendorName, "chat response has no choices")
	}
	choice := out.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", 0, capability.NewError(capability.FailureContentFiltered, vendorName, "completion blocked by content filter")
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return "", 0, capability.NewError(capability.FailureMalformedResponse, vendorName, "chat response content is empty")
	}
	return text, out.Usage.CompletionTokens, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// speech synthesizes audio from text and returns the raw bytes.
func (c *Client) speech(ctx context.Context, req speechRequest) ([]byte, error) {
	if c.apiKey == "" {
		return nil, capability.NewError(capability.FailureAuth, vendorName, "api key is not configured")
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, capability.NewError(capability.FailureUnknown, vendorName, "encode request: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", &buf)
	if err != nil {
		return nil, capability.NewError(capability.FailureUnknown, vendorName, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, capability.NewError(capability.FailureMalformedResponse, vendorName, "speech response is empty")
	}
	return body, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// transcribe sends audio bytes to the transcription endpoint.
func (c *Client) transcribe(ctx context.Context, model string, audio []byte, mimeType string) (string, error) {
	if c.apiKey == "" {
		return "", capability.NewError(capability.FailureAuth, vendorName, "api key is not configured")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", model); err != nil {
		return "", capability.NewError(capability.FailureUnknown, vendorName, "encode form: %v", err)
	}
	fw, err := mw.CreateFormFile("file", fileNameForMIME(mimeType))
	if err != nil {
		return "", capability.NewError(capability.FailureUnknown, vendorName, "encode form: %v", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", capability.NewError(capability.FailureUnknown, vendorName, "encode form: %v", err)
	}
	if err := mw.Close(); err != nil {
		return "", capability.NewError(capability.FailureUnknown, vendorName, "encode form: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", capability.NewError(capability.FailureUnknown, vendorName, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	body, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	var out transcriptionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", capability.NewError(capability.FailureMalformedResponse, vendorName, "decode transcription response: %v", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", capability.NewError(capability.FailureMalformedResponse, vendorName, "transcription text is empty")
	}
	return out.Text, nil
}

// do executes the request and maps transport and status failures onto the
// capability error taxonomy.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
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
		return nil, classifyStatus(resp.StatusCode, body)
	}
	return body, nil
}

func classifyStatus(status int, body []byte) *capability.Error {
	var parsed errorResponse
	_ = json.Unmarshal(body, &parsed)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return capability.NewError(capability.FailureAuth, vendorName, "authentication rejected (status %d)", status)
	case status == http.StatusTooManyRequests:
		return capability.NewError(capability.FailureRateLimited, vendorName, "rate limited (status %d)", status)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return capability.NewError(capability.FailureTimeout, vendorName, "upstream timeout (status %d)", status)
	case parsed.Error.Code == "content_policy_violation" || parsed.Error.Type == "content_filter":
		return capability.NewError(capability.FailureContentFiltered, vendorName, "request blocked by content policy")
	case status == http.StatusBadRequest:
		return capability.NewError(capability.FailureMalformedResponse, vendorName, "request rejected (status %d)", status)
	default:
		return capability.NewError(capability.FailureUnknown, vendorName, "unexpected status %d", status)
	}
}

func fileNameForMIME(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "audio/wav", "audio/x-wav":
		return "input.wav"
	case "audio/ogg":
		return "input.ogg"
	case "audio/webm":
		return "input.webm"
	default:
		return "input.mp3"
	}
}

func dataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}
