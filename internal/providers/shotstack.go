package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/bobarin/reelforge/internal/models"
)

// ---------------------------------------------------------------------------
// Shotstack compilation adapter.
// Deferred request pattern: submit an edit → render id → poll status.
// ---------------------------------------------------------------------------

const (
	shotstackDefaultBaseURL = "https://api.shotstack.io/edit/v1"
	shotstackCostPerClip    = 0.05
)

type ShotstackCompiler struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewShotstackCompiler(cred *Credential) *ShotstackCompiler {
	s := &ShotstackCompiler{
		baseURL:    shotstackDefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	if cred != nil {
		s.apiKey = cred.Token
		if cred.Endpoint != "" {
			s.baseURL = cred.Endpoint
		}
	}
	return s
}

type shotstackAsset struct {
	Type string `json:"type"`
	Src  string `json:"src"`
}

type shotstackClip struct {
	Asset  shotstackAsset `json:"asset"`
	Start  string         `json:"start"`  // "auto": clips run back to back
	Length string         `json:"length"` // "auto": use the source duration
}

type shotstackEdit struct {
	Timeline struct {
		Tracks []struct {
			Clips []shotstackClip `json:"clips"`
		} `json:"tracks"`
	} `json:"timeline"`
	Output struct {
		Format      string `json:"format"`
		AspectRatio string `json:"aspectRatio"`
	} `json:"output"`
}

type shotstackSubmitResponse struct {
	Success  bool `json:"success"`
	Response struct {
		ID string `json:"id"`
	} `json:"response"`
}

type shotstackRenderResponse struct {
	Response struct {
		Status string `json:"status"` // queued, fetching, rendering, saving, done, failed
		URL    string `json:"url"`
		Error  string `json:"error"`
	} `json:"response"`
}

func (s *ShotstackCompiler) doJSON(ctx context.Context, method, path string, reqBody, out interface{}) error {
	var body io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return permanentErr("failed to marshal request: %v", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return permanentErr("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return retryableErr("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retryableErr("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusErr(resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return permanentErr("failed to parse response: %v (body: %s)", err, string(respBody))
	}
	return nil
}

func (s *ShotstackCompiler) Submit(ctx context.Context, orderedClipURLs []string, aspect models.AspectRatio, opts CompileOptions) (string, error) {
	if len(orderedClipURLs) == 0 {
		return "", permanentErr("no clips to compile")
	}

	clips := make([]shotstackClip, len(orderedClipURLs))
	for i, url := range orderedClipURLs {
		clips[i] = shotstackClip{
			Asset:  shotstackAsset{Type: "video", Src: url},
			Start:  "auto",
			Length: "auto",
		}
	}

	var edit shotstackEdit
	edit.Timeline.Tracks = []struct {
		Clips []shotstackClip `json:"clips"`
	}{{Clips: clips}}
	edit.Output.Format = "mp4"
	edit.Output.AspectRatio = string(aspect)

	var resp shotstackSubmitResponse
	if err := s.doJSON(ctx, "POST", "/render", edit, &resp); err != nil {
		return "", err
	}
	if resp.Response.ID == "" {
		return "", permanentErr("no render id in shotstack response")
	}

	log.Printf("[Shotstack] Render submitted: %s (%d clips, aspect=%s)", resp.Response.ID, len(clips), aspect)
	return resp.Response.ID, nil
}

func (s *ShotstackCompiler) Poll(ctx context.Context, handle string) (*CompilePollResult, error) {
	var resp shotstackRenderResponse
	if err := s.doJSON(ctx, "GET", "/render/"+handle, nil, &resp); err != nil {
		return nil, err
	}

	switch resp.Response.Status {
	case "done":
		if resp.Response.URL == "" {
			return &CompilePollResult{Status: VideoFailed, Message: "render done but no URL"}, nil
		}
		return &CompilePollResult{Status: VideoDone, URL: resp.Response.URL}, nil
	case "failed":
		msg := resp.Response.Error
		if msg == "" {
			msg = "render failed"
		}
		return &CompilePollResult{Status: VideoFailed, Message: msg}, nil
	case "queued":
		return &CompilePollResult{Status: VideoQueued}, nil
	default:
		return &CompilePollResult{Status: VideoRunning}, nil
	}
}

func (s *ShotstackCompiler) EstimateCompileCost(clipCount int) float64 {
	return float64(clipCount) * shotstackCostPerClip
}

var _ Compilation = (*ShotstackCompiler)(nil)
