package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bobarin/reelforge/internal/models"
)

// Capability names one of the four external-service families the core consumes.
type Capability string

const (
	CapabilityText    Capability = "text"
	CapabilityImage   Capability = "image"
	CapabilityVideo   Capability = "video"
	CapabilityCompile Capability = "compile"
)

// Credential is the material resolved from the credential store at phase
// entry. Adapters are constructed from it and discarded with the worker —
// credential material is never persisted in job state.
type Credential struct {
	Endpoint string       `json:"endpoint,omitempty"` // base URL override, empty = adapter default
	Token    string       `json:"token"`
	Model    string       `json:"model,omitempty"`
	Quality  string       `json:"quality,omitempty"`
	Extra    models.JSONB `json:"extra,omitempty"`
}

// ProviderError classifies an adapter failure for the orchestrator's retry
// policy: network errors, 5xx and 429 are retryable; other 4xx are permanent.
type ProviderError struct {
	Retryable  bool
	HTTPStatus int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.HTTPStatus, e.Message)
	}
	return "provider error: " + e.Message
}

// retryableErr wraps a failure that should be retried with backoff.
func retryableErr(format string, args ...interface{}) *ProviderError {
	return &ProviderError{Retryable: true, Message: fmt.Sprintf(format, args...)}
}

// permanentErr wraps a failure that retrying cannot fix.
func permanentErr(format string, args ...interface{}) *ProviderError {
	return &ProviderError{Retryable: false, Message: fmt.Sprintf(format, args...)}
}

// statusErr classifies an HTTP status per the retry taxonomy.
func statusErr(status int, body string) *ProviderError {
	retryable := status >= 500 || status == http.StatusTooManyRequests
	return &ProviderError{Retryable: retryable, HTTPStatus: status, Message: body}
}

// RetryableError builds a retryable failure from a provider-reported
// message, for callers outside this package.
func RetryableError(message string) error {
	return &ProviderError{Retryable: true, Message: message}
}

// IsRetryable reports whether err should be retried with backoff. Errors
// that are not ProviderErrors (transport failures, deadline hits with no
// response) are treated as retryable.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

// TextCompletion produces a single completion for a system+user prompt pair.
type ChatOptions struct {
	JSONResponse bool
	Temperature  float32
	MaxTokens    int
}

type ChatResult struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

type TextCompletion interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string, opts ChatOptions) (*ChatResult, error)
	// EstimateTextCost returns the estimated dollar cost for a completion
	// with the given token counts. Pure; used for upfront cost disclosure.
	EstimateTextCost(inputTokens, outputTokens int) float64
}

// ImageSynthesis produces a hosted image from a prompt. Synchronous from
// the caller's perspective — adapters with internal queues hide the polling
// behind the call, bounded by the context deadline.
type Image struct {
	URL    string
	Width  int
	Height int
	Seed   int64
}

type ImageSynthesis interface {
	Synthesize(ctx context.Context, prompt string, width, height int, seed *int64) (*Image, error)
	EstimateImageCost() float64
}

// VideoSynthesis is a deferred request: Submit returns a handle, Poll
// reports its status until Done or Failed.
type VideoStatus string

const (
	VideoQueued  VideoStatus = "queued"
	VideoRunning VideoStatus = "running"
	VideoDone    VideoStatus = "done"
	VideoFailed  VideoStatus = "failed"
)

type VideoSubmitRequest struct {
	MotionPrompt  string
	StartImageURL string
	EndImageURL   *string // only set when the adapter supports end frames
	Duration      float64 // seconds
	AspectRatio   models.AspectRatio
}

type VideoPollResult struct {
	Status  VideoStatus
	URL     string // set when Status == VideoDone
	Message string // set when Status == VideoFailed
}

type VideoSynthesis interface {
	Submit(ctx context.Context, req VideoSubmitRequest) (handle string, err error)
	Poll(ctx context.Context, handle string) (*VideoPollResult, error)
	// SupportsEndFrame reports whether Submit accepts an end frame; the
	// orchestrator must not pass EndImageURL when false.
	SupportsEndFrame() bool
	EstimateVideoCost(durationSec float64) float64
}

// Compilation stitches ordered clips into a final video. Deferred like
// VideoSynthesis. May be absent entirely (compile provider "none").
type CompileOptions struct {
	Title string
}

type CompilePollResult struct {
	Status  VideoStatus
	URL     string
	Message string
}

type Compilation interface {
	Submit(ctx context.Context, orderedClipURLs []string, aspect models.AspectRatio, opts CompileOptions) (handle string, err error)
	Poll(ctx context.Context, handle string) (*CompilePollResult, error)
	EstimateCompileCost(clipCount int) float64
}

// Bundle is the four-tuple of adapters selected for an owner. Compile is
// nil when the compile provider is "none".
type Bundle struct {
	Text    TextCompletion
	Image   ImageSynthesis
	Video   VideoSynthesis
	Compile Compilation
}

// Factory builds adapters from tagged configuration plus fresh credentials.
// The orchestrator reconstructs adapters on every resume — instances are
// never persisted across wake-ups.
type Factory interface {
	Text(tag models.TextProvider, cred *Credential) (TextCompletion, error)
	Image(tag models.ImageProvider, cred *Credential) (ImageSynthesis, error)
	Video(tag models.VideoProvider, cred *Credential) (VideoSynthesis, error)
	Compile(tag models.CompileProvider, cred *Credential) (Compilation, error)
}

// DefaultFactory constructs the real adapters via a switch over the closed
// provider tags.
type DefaultFactory struct{}

func (DefaultFactory) Text(tag models.TextProvider, cred *Credential) (TextCompletion, error) {
	switch tag {
	case models.TextOpenAI:
		return NewOpenAIText(cred), nil
	}
	return nil, fmt.Errorf("unknown text provider: %s", tag)
}

func (DefaultFactory) Image(tag models.ImageProvider, cred *Credential) (ImageSynthesis, error) {
	switch tag {
	case models.ImageOpenAI:
		return NewOpenAIImage(cred), nil
	case models.ImageXAI:
		return NewXAIImage(cred), nil
	}
	return nil, fmt.Errorf("unknown image provider: %s", tag)
}

func (DefaultFactory) Video(tag models.VideoProvider, cred *Credential) (VideoSynthesis, error) {
	switch tag {
	case models.VideoXAI:
		return NewXAIVideo(cred), nil
	case models.VideoVeo:
		return NewVeoVideo(cred), nil
	}
	return nil, fmt.Errorf("unknown video provider: %s", tag)
}

func (DefaultFactory) Compile(tag models.CompileProvider, cred *Credential) (Compilation, error) {
	switch tag {
	case models.CompileShotstack:
		return NewShotstackCompiler(cred), nil
	case models.CompileNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown compile provider: %s", tag)
}

// BuildBundle assembles all four adapters for a project's provider config.
// The orchestrator rebuilds the bundle on every wake-up so credential
// updates take effect at the next resume.
func BuildBundle(f Factory, cfg models.ProviderConfig, creds map[Capability]*Credential) (*Bundle, error) {
	text, err := f.Text(cfg.Text, creds[CapabilityText])
	if err != nil {
		return nil, err
	}
	image, err := f.Image(cfg.Image, creds[CapabilityImage])
	if err != nil {
		return nil, err
	}
	video, err := f.Video(cfg.Video, creds[CapabilityVideo])
	if err != nil {
		return nil, err
	}
	compile, err := f.Compile(cfg.Compile, creds[CapabilityCompile])
	if err != nil {
		return nil, err
	}
	return &Bundle{Text: text, Image: image, Video: video, Compile: compile}, nil
}
