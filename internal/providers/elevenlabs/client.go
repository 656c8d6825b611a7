package elevenlabs

import (
	"bytes"
	"context"
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

const vendorName = "elevenlabs"

// Options configures the ElevenLabs text-to-speech client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls to the ElevenLabs text-to-speech API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
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

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// Synthesize converts text into mp3 audio with the given voice.
func (c *Client) Synthesize(ctx context.Context, voiceID, modelID, text string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, capability.NewError(capability.FailureAuth, vendorName, "api key is not configured")
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(ttsRequest{Text: text, ModelID: modelID}); err != nil {
		return nil, capability.NewError(capability.FailureUnknown, vendorName, "encode request: %v", err)
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, url.PathEscape(voiceID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, capability.NewError(capability.FailureUnknown, vendorName, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", c.apiKey)

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
	if len(body) == 0 {
		return nil, capability.NewError(capability.FailureMalformedResponse, vendorName, "speech response is empty")
	}
	return body, nil
}

func classifyStatus(status int) *capability.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return capability.NewError(capability.FailureAuth, vendorName, "authentication rejected (status %d)", status)
	case http.StatusTooManyRequests:
		return capability.NewError(capability.FailureRateLimited, vendorName, "rate limited (status %d)", status)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return capability.NewError(capability.FailureTimeout, vendorName, "upstream timeout (status %d)", status)
	case http.StatusUnprocessableEntity:
		return capability.NewError(capability.FailureContentFiltered, vendorName, "text rejected (status %d)", status)
	default:
		return capability.NewError(capability.FailureUnknown, vendorName, "unexpected status %d", status)
	}
}

// Speaker is the speech adapter for this vendor.
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
	audio, err := s.client.Synthesize(ctx, cfg.Param("voice", "21m00Tcm4TlvDq8ikWAM"), cfg.Model, req.Text)
	if err != nil {
		return nil, err
	}
	return &capability.Result{Audio: audio, AudioMIME: "audio/mpeg", Units: len(req.Text)}, nil
}

var _ capability.Adapter = (*Speaker)(nil)
