package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ---------------------------------------------------------------------------
// xAI Grok Imagine adapters.
// Image generation is synchronous; video generation follows a deferred
// request pattern: submit generation → poll by request_id.
// ---------------------------------------------------------------------------

const (
	xaiDefaultBaseURL    = "https://api.x.ai/v1"
	xaiImageModel        = "grok-2-image"
	xaiVideoModel        = "grok-imagine-video"
	xaiDefaultResolution = "720p"
	xaiMinDuration       = 1
	xaiMaxDuration       = 15

	xaiCostPerImage       = 0.07
	xaiCostPerVideoSecond = 0.10
)

type xaiClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newXAIClient(cred *Credential) xaiClient {
	c := xaiClient{
		baseURL:    xaiDefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	if cred != nil {
		c.apiKey = cred.Token
		if cred.Endpoint != "" {
			c.baseURL = cred.Endpoint
		}
	}
	return c
}

// doJSON performs an authorized JSON request and decodes the response into
// out. Non-2xx statuses are classified per the retry taxonomy.
func (c xaiClient) doJSON(ctx context.Context, method, path string, reqBody, out interface{}) error {
	var body io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return permanentErr("failed to marshal request: %v", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return permanentErr("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retryableErr("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retryableErr("failed to read response: %v", err)
	}

	// 202 is a valid poll response while a generation is still pending.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return statusErr(resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return permanentErr("failed to parse response: %v (body: %s)", err, string(respBody))
	}
	return nil
}

// XAIImage implements ImageSynthesis over POST /images/generations.
type XAIImage struct {
	xaiClient
	model string
}

func NewXAIImage(cred *Credential) *XAIImage {
	model := xaiImageModel
	if cred != nil && cred.Model != "" {
		model = cred.Model
	}
	return &XAIImage{xaiClient: newXAIClient(cred), model: model}
}

type xaiImageRequest struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type xaiImageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (s *XAIImage) Synthesize(ctx context.Context, prompt string, width, height int, seed *int64) (*Image, error) {
	var resp xaiImageResponse
	err := s.doJSON(ctx, "POST", "/images/generations", xaiImageRequest{
		Prompt:         prompt,
		Model:          s.model,
		N:              1,
		ResponseFormat: "url",
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, permanentErr("no image URL in xAI response")
	}

	img := &Image{URL: resp.Data[0].URL, Width: width, Height: height}
	if seed != nil {
		img.Seed = *seed
	}
	return img, nil
}

func (s *XAIImage) EstimateImageCost() float64 { return xaiCostPerImage }

// XAIVideo implements VideoSynthesis over the deferred video generation API.
//
// xAI returns two different shapes from GET /videos/{request_id}:
//   - Pending: {"status":"pending"}
//   - Completed: {"video":{"url":"...","duration":8},"model":"..."}
//     (no "status" field when completed — status will be "")
//   - Failed: {"status":"failed","error":"..."}
type XAIVideo struct {
	xaiClient
	model string
}

func NewXAIVideo(cred *Credential) *XAIVideo {
	model := xaiVideoModel
	if cred != nil && cred.Model != "" {
		model = cred.Model
	}
	return &XAIVideo{xaiClient: newXAIClient(cred), model: model}
}

type xaiGenerationRequest struct {
	Prompt      string         `json:"prompt"`
	Model       string         `json:"model"`
	Image       *xaiImageInput `json:"image,omitempty"`
	Duration    int            `json:"duration,omitempty"`
	AspectRatio string         `json:"aspect_ratio,omitempty"`
	Resolution  string         `json:"resolution,omitempty"`
}

type xaiImageInput struct {
	URL string `json:"url"`
}

type xaiGenerationResponse struct {
	RequestID string `json:"request_id"`
}

type xaiVideoResult struct {
	Status string `json:"status"`
	Video  *struct {
		URL      string `json:"url"`
		Duration int    `json:"duration"`
	} `json:"video,omitempty"`
	Error string `json:"error"`
}

// SupportsEndFrame is false: Grok Imagine takes a single source frame.
func (s *XAIVideo) SupportsEndFrame() bool { return false }

func (s *XAIVideo) Submit(ctx context.Context, req VideoSubmitRequest) (string, error) {
	// Clamp duration to xAI's allowed range.
	duration := int(req.Duration + 0.5)
	if duration < xaiMinDuration {
		duration = xaiMinDuration
	}
	if duration > xaiMaxDuration {
		duration = xaiMaxDuration
	}

	body := xaiGenerationRequest{
		Prompt:      req.MotionPrompt,
		Model:       s.model,
		Duration:    duration,
		AspectRatio: string(req.AspectRatio),
		Resolution:  xaiDefaultResolution,
	}
	if req.StartImageURL != "" {
		body.Image = &xaiImageInput{URL: req.StartImageURL}
	}

	var resp xaiGenerationResponse
	if err := s.doJSON(ctx, "POST", "/videos/generations", body, &resp); err != nil {
		return "", fmt.Errorf("failed to submit video generation: %w", err)
	}
	if resp.RequestID == "" {
		return "", permanentErr("no request_id in generation response")
	}

	log.Printf("[xAI Video] Generation submitted, request_id=%s (duration=%ds, aspect=%s)",
		resp.RequestID, duration, req.AspectRatio)
	return resp.RequestID, nil
}

func (s *XAIVideo) Poll(ctx context.Context, handle string) (*VideoPollResult, error) {
	var result xaiVideoResult
	if err := s.doJSON(ctx, "GET", "/videos/"+handle, nil, &result); err != nil {
		return nil, err
	}

	// Completion is detected by the presence of the video object, not the
	// status field — xAI omits "status" entirely on completed generations.
	if result.Video != nil && result.Video.URL != "" {
		return &VideoPollResult{Status: VideoDone, URL: result.Video.URL}, nil
	}

	switch result.Status {
	case "failed":
		msg := result.Error
		if msg == "" {
			msg = "unknown error"
		}
		return &VideoPollResult{Status: VideoFailed, Message: msg}, nil
	case "pending":
		return &VideoPollResult{Status: VideoQueued}, nil
	default:
		return &VideoPollResult{Status: VideoRunning}, nil
	}
}

func (s *XAIVideo) EstimateVideoCost(durationSec float64) float64 {
	return durationSec * xaiCostPerVideoSecond
}

var _ ImageSynthesis = (*XAIImage)(nil)
var _ VideoSynthesis = (*XAIVideo)(nil)
