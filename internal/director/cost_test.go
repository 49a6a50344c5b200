package director

import (
	"context"
	"testing"

	"github.com/bobarin/reelforge/internal/models"
	"github.com/bobarin/reelforge/internal/providers"
)

type fakeImage struct{ perImage float64 }

func (f *fakeImage) Synthesize(ctx context.Context, prompt string, width, height int, seed *int64) (*providers.Image, error) {
	return &providers.Image{URL: "https://img.example/1.png"}, nil
}
func (f *fakeImage) EstimateImageCost() float64 { return f.perImage }

type fakeVideo struct{ perSecond float64 }

func (f *fakeVideo) Submit(ctx context.Context, req providers.VideoSubmitRequest) (string, error) {
	return "req-1", nil
}
func (f *fakeVideo) Poll(ctx context.Context, handle string) (*providers.VideoPollResult, error) {
	return &providers.VideoPollResult{Status: providers.VideoDone}, nil
}
func (f *fakeVideo) SupportsEndFrame() bool { return true }
func (f *fakeVideo) EstimateVideoCost(durationSec float64) float64 {
	return durationSec * f.perSecond
}

type fakeCompiler struct{ perClip float64 }

func (f *fakeCompiler) Submit(ctx context.Context, clips []string, aspect models.AspectRatio, opts providers.CompileOptions) (string, error) {
	return "render-1", nil
}
func (f *fakeCompiler) Poll(ctx context.Context, handle string) (*providers.CompilePollResult, error) {
	return &providers.CompilePollResult{Status: providers.VideoDone}, nil
}
func (f *fakeCompiler) EstimateCompileCost(clipCount int) float64 {
	return float64(clipCount) * f.perClip
}

func TestEstimateCost(t *testing.T) {
	plan := validPlan()
	bundle := &providers.Bundle{
		Text:    &fakeText{},
		Image:   &fakeImage{perImage: 0.08},
		Video:   &fakeVideo{perSecond: 0.10},
		Compile: &fakeCompiler{perClip: 0.05},
	}

	bd := EstimateCost(plan, bundle)
	if bd.ShotCount != 4 {
		t.Errorf("shotCount = %d, want 4", bd.ShotCount)
	}
	// 8 frames at $0.08.
	if bd.Images != 0.64 {
		t.Errorf("images = %.2f, want 0.64", bd.Images)
	}
	// 30 seconds of video at $0.10/s.
	if bd.Videos != 3.00 {
		t.Errorf("videos = %.2f, want 3.00", bd.Videos)
	}
	// 4 clips at $0.05.
	if bd.Compilation != 0.20 {
		t.Errorf("compilation = %.2f, want 0.20", bd.Compilation)
	}
	want := roundCents(bd.Direction + 0.64 + 3.00 + 0.20)
	if bd.Total != want {
		t.Errorf("total = %.2f, want %.2f", bd.Total, want)
	}
}

func TestEstimateCostNoCompiler(t *testing.T) {
	plan := validPlan()
	bundle := &providers.Bundle{
		Text:  &fakeText{},
		Image: &fakeImage{perImage: 0.07},
		Video: &fakeVideo{perSecond: 0.35},
	}

	bd := EstimateCost(plan, bundle)
	if bd.Compilation != 0 {
		t.Errorf("compilation = %.2f, want 0", bd.Compilation)
	}
}
