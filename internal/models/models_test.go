package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestAspectRatioDimensions(t *testing.T) {
	tests := []struct {
		aspect        AspectRatio
		width, height int
	}{
		{AspectLandscape, 1920, 1080},
		{AspectPortrait, 1080, 1920},
		{AspectSquare, 1024, 1024},
	}
	for _, tt := range tests {
		w, h := tt.aspect.Dimensions()
		if w != tt.width || h != tt.height {
			t.Errorf("%s: got %dx%d, want %dx%d", tt.aspect, w, h, tt.width, tt.height)
		}
	}

	if AspectRatio("4:3").Valid() {
		t.Error("4:3 should not be a valid aspect ratio")
	}
}

func TestClosedSets(t *testing.T) {
	if got := len(CameraMoveList()); got != 11 {
		t.Errorf("camera moves = %d, want 11", got)
	}
	for _, m := range CameraMoveList() {
		if !m.Valid() {
			t.Errorf("listed camera move %q not valid", m)
		}
	}
	if CameraMove("zoom_and_enhance").Valid() {
		t.Error("unknown camera move accepted")
	}

	if got := len(TransitionList()); got != 6 {
		t.Errorf("transitions = %d, want 6", got)
	}
	if Transition("swirl").Valid() {
		t.Error("unknown transition accepted")
	}
}

func TestProviderConfigValidate(t *testing.T) {
	good := ProviderConfig{Text: TextOpenAI, Image: ImageXAI, Video: VideoVeo, Compile: CompileNone}
	if msg := good.Validate(); msg != "" {
		t.Errorf("valid config rejected: %s", msg)
	}

	bad := good
	bad.Video = "sora"
	if msg := bad.Validate(); msg == "" {
		t.Error("unknown video provider accepted")
	}
}

func TestPhaseAndStatusTerminal(t *testing.T) {
	for _, p := range []JobPhase{PhasePending, PhaseGeneratingImages, PhaseImagesComplete, PhaseGeneratingVideos, PhaseVideosComplete, PhaseCompiling} {
		if p.Terminal() {
			t.Errorf("%q should not be terminal", p)
		}
	}
	for _, p := range []JobPhase{PhaseComplete, PhaseFailed} {
		if !p.Terminal() {
			t.Errorf("%q should be terminal", p)
		}
	}
	if ShotPollingVideo.Terminal() || !ShotComplete.Terminal() || !ShotFailed.Terminal() {
		t.Error("shot status terminality wrong")
	}
}

func planFixture() *Plan {
	shot := func(id int) Shot {
		return Shot{
			ID: id, Duration: 6,
			StartPrompt:  "start",
			EndPrompt:    "end",
			MotionPrompt: "motion",
			CameraMove:   CameraPanLeft,
			Lighting:     "window light",
		}
	}
	return &Plan{
		Title: "T", Narrative: "N", TotalDuration: 24,
		Scenes: []Scene{
			{ID: 1, Name: "a", Description: "d", Mood: "m", Shots: []Shot{shot(1), shot(2)}},
			{ID: 2, Name: "b", Description: "d", Mood: "m", Shots: []Shot{shot(1), shot(2)}},
		},
	}
}

func TestNewJobFromPlan(t *testing.T) {
	project := &Project{
		ID:          uuid.New(),
		OwnerID:     "owner-1",
		AspectRatio: AspectPortrait,
		Providers:   ProviderConfig{Text: TextOpenAI, Image: ImageOpenAI, Video: VideoXAI, Compile: CompileShotstack},
		Plan:        planFixture(),
	}

	job := NewJobFromPlan(project)

	if job.Phase != PhasePending {
		t.Errorf("phase = %q, want pending", job.Phase)
	}
	if !job.CompileEnabled {
		t.Error("shotstack compile should enable compilation")
	}
	if len(job.Shots) != 4 {
		t.Fatalf("shots = %d, want 4", len(job.Shots))
	}

	// Scene-then-shot order, with per-scene shot indices preserved.
	wantOrder := []struct{ scene, shot int }{{1, 1}, {1, 2}, {2, 1}, {2, 2}}
	for i, want := range wantOrder {
		got := job.Shots[i]
		if got.SceneID != want.scene || got.ShotIndex != want.shot {
			t.Errorf("shot %d = scene %d shot %d, want scene %d shot %d",
				i, got.SceneID, got.ShotIndex, want.scene, want.shot)
		}
		if got.Status != ShotPending {
			t.Errorf("shot %d status = %q, want pending", i, got.Status)
		}
		if got.MotionPrompt == "" || got.StartPrompt == "" {
			t.Errorf("shot %d prompts not frozen", i)
		}
	}

	project.Providers.Compile = CompileNone
	if NewJobFromPlan(project).CompileEnabled {
		t.Error("compile none should disable compilation")
	}
}

func TestJobFailAndSnapshot(t *testing.T) {
	project := &Project{ID: uuid.New(), OwnerID: "o", AspectRatio: AspectLandscape, Plan: planFixture()}
	job := NewJobFromPlan(project)

	url := "https://vid.example/1.mp4"
	job.Shots[0].VideoURL = &url
	job.Shots[0].Status = ShotComplete
	msg := "boom"
	job.Shots[1].Status = ShotFailed
	job.Shots[1].ErrorMessage = &msg
	job.Fail("generation failed")

	if job.Phase != PhaseFailed || job.ErrorMessage == nil {
		t.Fatal("Fail did not set terminal state")
	}

	snap := job.Snapshot()
	if snap.ID != job.ID || snap.Phase != PhaseFailed {
		t.Error("snapshot identity mismatch")
	}
	if len(snap.Shots) != 4 {
		t.Fatalf("snapshot shots = %d, want 4", len(snap.Shots))
	}
	if snap.Shots[0].VideoURL == nil || *snap.Shots[0].VideoURL != url {
		t.Error("completed shot URL missing from snapshot")
	}
	if snap.Shots[1].Error == nil || *snap.Shots[1].Error != msg {
		t.Error("failed shot error missing from snapshot")
	}
}

func TestJSONBScan(t *testing.T) {
	var j JSONB
	if err := j.Scan([]byte(`{"region":"us-east-1"}`)); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if j["region"] != "us-east-1" {
		t.Errorf("scan result = %v", j)
	}

	if err := j.Scan(nil); err != nil {
		t.Fatalf("nil scan failed: %v", err)
	}
	if j != nil {
		t.Error("nil scan should clear the map")
	}
}
