package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Veo video adapter.
// Uses the Google Gen AI SDK. Generation is a long-running operation: Submit
// starts it and returns the operation name, Poll re-fetches the operation
// until it is done. Veo accepts both a first and a last frame, so this
// adapter advertises end-frame support.
// ---------------------------------------------------------------------------

const (
	veoDefaultModel       = "veo-3.1-generate-preview"
	veoCostPerVideoSecond = 0.35
)

type VeoVideo struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewVeoVideo(cred *Credential) *VeoVideo {
	s := &VeoVideo{
		model:      veoDefaultModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	if cred != nil {
		s.apiKey = cred.Token
		if cred.Model != "" {
			s.model = cred.Model
		}
	}
	return s
}

func (s *VeoVideo) newClient(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, permanentErr("failed to create genai client: %v", err)
	}
	return client, nil
}

func (s *VeoVideo) SupportsEndFrame() bool { return true }

// downloadFrame fetches image bytes for a frame URL. The Gemini API takes
// inline bytes rather than arbitrary URLs.
func (s *VeoVideo) downloadFrame(ctx context.Context, url string) (*genai.Image, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, permanentErr("failed to create frame request: %v", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, retryableErr("frame download failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp.StatusCode, "frame download failed")
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryableErr("failed to read frame data: %v", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &genai.Image{ImageBytes: data, MIMEType: mimeType}, nil
}

func (s *VeoVideo) Submit(ctx context.Context, req VideoSubmitRequest) (string, error) {
	client, err := s.newClient(ctx)
	if err != nil {
		return "", err
	}

	firstFrame, err := s.downloadFrame(ctx, req.StartImageURL)
	if err != nil {
		return "", fmt.Errorf("start frame: %w", err)
	}

	config := &genai.GenerateVideosConfig{
		AspectRatio:      string(req.AspectRatio),
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
	}
	if req.EndImageURL != nil && *req.EndImageURL != "" {
		lastFrame, err := s.downloadFrame(ctx, *req.EndImageURL)
		if err != nil {
			return "", fmt.Errorf("end frame: %w", err)
		}
		config.LastFrame = lastFrame
	}

	operation, err := client.Models.GenerateVideos(ctx, s.model, req.MotionPrompt, firstFrame, config)
	if err != nil {
		return "", retryableErr("failed to start video generation: %v", err)
	}

	log.Printf("[Veo] Operation started: %s (model=%s, endFrame=%v)",
		operation.Name, s.model, config.LastFrame != nil)
	return operation.Name, nil
}

func (s *VeoVideo) Poll(ctx context.Context, handle string) (*VideoPollResult, error) {
	client, err := s.newClient(ctx)
	if err != nil {
		return nil, err
	}

	operation, err := client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: handle}, nil)
	if err != nil {
		return nil, retryableErr("failed to poll operation: %v", err)
	}

	if !operation.Done {
		return &VideoPollResult{Status: VideoRunning}, nil
	}

	if operation.Error != nil && len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return &VideoPollResult{Status: VideoFailed, Message: string(errJSON)}, nil
	}
	if operation.Response == nil {
		return &VideoPollResult{Status: VideoFailed, Message: "no response in completed operation"}, nil
	}
	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return &VideoPollResult{
			Status:  VideoFailed,
			Message: fmt.Sprintf("video blocked by safety filters: %s", reasons),
		}, nil
	}
	if len(operation.Response.GeneratedVideos) == 0 || operation.Response.GeneratedVideos[0].Video == nil {
		return &VideoPollResult{Status: VideoFailed, Message: "no videos in completed operation"}, nil
	}

	video := operation.Response.GeneratedVideos[0].Video
	if video.URI == "" {
		return &VideoPollResult{Status: VideoFailed, Message: "generated video has no URI"}, nil
	}

	log.Printf("[Veo] Video ready: %s", handle)
	return &VideoPollResult{Status: VideoDone, URL: video.URI}, nil
}

func (s *VeoVideo) EstimateVideoCost(durationSec float64) float64 {
	return durationSec * veoCostPerVideoSecond
}

var _ VideoSynthesis = (*VeoVideo)(nil)
