package providers

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusErrClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{500, true},
		{502, true},
		{503, true},
		{429, true},
		{400, false},
		{401, false},
		{404, false},
		{422, false},
	}
	for _, tt := range tests {
		err := statusErr(tt.status, "body")
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tt.status, got, tt.retryable)
		}
	}
}

func TestIsRetryableUnclassifiedErrors(t *testing.T) {
	// Plain transport errors with no classification default to retryable.
	if !IsRetryable(errors.New("connection reset")) {
		t.Error("unclassified error should be retryable")
	}
	// Wrapped provider errors keep their classification.
	wrapped := fmt.Errorf("start frame: %w", permanentErr("prompt rejected"))
	if IsRetryable(wrapped) {
		t.Error("wrapped permanent error should stay permanent")
	}
	if !IsRetryable(fmt.Errorf("poll: %w", RetryableError("busy"))) {
		t.Error("wrapped retryable error should stay retryable")
	}
}

func TestDefaultFactoryTags(t *testing.T) {
	f := DefaultFactory{}

	if _, err := f.Text("openai", nil); err != nil {
		t.Errorf("text openai: %v", err)
	}
	if _, err := f.Text("llama", nil); err == nil {
		t.Error("unknown text tag accepted")
	}

	if _, err := f.Image("xai", nil); err != nil {
		t.Errorf("image xai: %v", err)
	}
	if _, err := f.Video("veo", nil); err != nil {
		t.Errorf("video veo: %v", err)
	}

	compiler, err := f.Compile("none", nil)
	if err != nil || compiler != nil {
		t.Errorf("compile none should yield nil adapter: %v %v", compiler, err)
	}
	if _, err := f.Compile("ffmpeg", nil); err == nil {
		t.Error("unknown compile tag accepted")
	}
}

func TestVideoEndFrameSupport(t *testing.T) {
	if (&XAIVideo{}).SupportsEndFrame() {
		t.Error("xAI adapter must not advertise end-frame support")
	}
	if !(&VeoVideo{}).SupportsEndFrame() {
		t.Error("Veo adapter should advertise end-frame support")
	}
}

func TestOpenAIImageSize(t *testing.T) {
	tests := []struct {
		width, height int
		want          string
	}{
		{1920, 1080, "1792x1024"},
		{1080, 1920, "1024x1792"},
		{1024, 1024, "1024x1024"},
	}
	for _, tt := range tests {
		if got := openaiImageSize(tt.width, tt.height); got != tt.want {
			t.Errorf("openaiImageSize(%d, %d) = %q, want %q", tt.width, tt.height, got, tt.want)
		}
	}
}
