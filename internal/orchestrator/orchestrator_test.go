package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/reelforge/internal/models"
	"github.com/bobarin/reelforge/internal/providers"
	"github.com/bobarin/reelforge/internal/store"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// In-memory doubles
// ---------------------------------------------------------------------------

type memStore struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]*models.Job
	projects   map[uuid.UUID]*models.Project
	leaseOwner map[uuid.UUID]string
	leaseUntil map[uuid.UUID]time.Time
	commits    int
}

func newMemStore() *memStore {
	return &memStore{
		jobs:       make(map[uuid.UUID]*models.Job),
		projects:   make(map[uuid.UUID]*models.Project),
		leaseOwner: make(map[uuid.UUID]string),
		leaseUntil: make(map[uuid.UUID]time.Time),
	}
}

func copyJob(j *models.Job) *models.Job {
	data, _ := json.Marshal(j)
	out := &models.Job{}
	json.Unmarshal(data, out)
	return out
}

func (m *memStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(j), nil
}

func (m *memStore) AcquireLease(ctx context.Context, jobID uuid.UUID, owner string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return store.ErrNotFound
	}
	cur, held := m.leaseOwner[jobID]
	if held && cur != owner && m.leaseUntil[jobID].After(time.Now()) {
		return store.ErrLeaseHeld
	}
	m.leaseOwner[jobID] = owner
	m.leaseUntil[jobID] = time.Now().Add(ttl)
	return nil
}

func (m *memStore) ReleaseLease(ctx context.Context, jobID uuid.UUID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaseOwner[jobID] == owner {
		delete(m.leaseOwner, jobID)
		delete(m.leaseUntil, jobID)
	}
	return nil
}

func (m *memStore) ExtendLease(ctx context.Context, jobID uuid.UUID, owner string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaseOwner[jobID] != owner {
		return store.ErrStale
	}
	m.leaseUntil[jobID] = time.Now().Add(ttl)
	return nil
}

func (m *memStore) CommitJob(ctx context.Context, job *models.Job, leaseOwner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaseOwner[job.ID] != leaseOwner || m.leaseUntil[job.ID].Before(time.Now()) {
		return store.ErrStale
	}
	m.jobs[job.ID] = copyJob(job)
	m.commits++
	return nil
}

func (m *memStore) GetProject(ctx context.Context, ownerID string, id uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok || p.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetCredentials(ctx context.Context, ownerID string) (map[providers.Capability]*providers.Credential, error) {
	return map[providers.Capability]*providers.Credential{}, nil
}

type memTimers struct {
	mu    sync.Mutex
	armed map[uuid.UUID]time.Time
}

func newMemTimers() *memTimers {
	return &memTimers{armed: make(map[uuid.UUID]time.Time)}
}

func (m *memTimers) ArmAt(ctx context.Context, jobID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed[jobID] = at
	return nil
}

func (m *memTimers) Disarm(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.armed, jobID)
	return nil
}

func (m *memTimers) pop(jobID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.armed[jobID]; !ok {
		return false
	}
	delete(m.armed, jobID)
	return true
}

// scriptedImage renders frames, optionally failing the first N calls for
// prompts containing a marker substring.
type scriptedImage struct {
	mu            sync.Mutex
	calls         int
	failRemaining map[string]int // marker -> retryable failures left
	permanentFor  string         // marker -> always permanent failure
}

func (s *scriptedImage) Synthesize(ctx context.Context, prompt string, width, height int, seed *int64) (*providers.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.permanentFor != "" && strings.Contains(prompt, s.permanentFor) {
		return nil, &providers.ProviderError{Retryable: false, HTTPStatus: 400, Message: "prompt rejected"}
	}
	for marker, left := range s.failRemaining {
		if left > 0 && strings.Contains(prompt, marker) {
			s.failRemaining[marker] = left - 1
			return nil, providers.RetryableError("image service unavailable")
		}
	}
	return &providers.Image{URL: fmt.Sprintf("https://img.example/%d.png", s.calls), Width: width, Height: height}, nil
}

func (s *scriptedImage) EstimateImageCost() float64 { return 0.08 }

// scriptedVideo completes each clip after pollsUntilDone polls, or never.
type scriptedVideo struct {
	mu             sync.Mutex
	submits        int
	submitsWithEnd int
	polls          int
	pollsUntilDone int
	neverDone      bool
	failOncePer    map[string]bool // handle -> report failed on first poll
	perHandle      map[string]int
	supportsEnd    bool
}

func newScriptedVideo(pollsUntilDone int, supportsEnd bool) *scriptedVideo {
	return &scriptedVideo{
		pollsUntilDone: pollsUntilDone,
		perHandle:      make(map[string]int),
		failOncePer:    make(map[string]bool),
		supportsEnd:    supportsEnd,
	}
}

func (s *scriptedVideo) Submit(ctx context.Context, req providers.VideoSubmitRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.StartImageURL == "" {
		return "", &providers.ProviderError{Retryable: false, Message: "missing start frame"}
	}
	s.submits++
	if req.EndImageURL != nil {
		s.submitsWithEnd++
	}
	return fmt.Sprintf("vid-%d", s.submits), nil
}

func (s *scriptedVideo) Poll(ctx context.Context, handle string) (*providers.VideoPollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.failOncePer[handle] {
		delete(s.failOncePer, handle)
		return &providers.VideoPollResult{Status: providers.VideoFailed, Message: "generation error"}, nil
	}
	if s.neverDone {
		return &providers.VideoPollResult{Status: providers.VideoRunning}, nil
	}
	s.perHandle[handle]++
	if s.perHandle[handle] >= s.pollsUntilDone {
		return &providers.VideoPollResult{Status: providers.VideoDone, URL: "https://vid.example/" + handle + ".mp4"}, nil
	}
	return &providers.VideoPollResult{Status: providers.VideoRunning}, nil
}

func (s *scriptedVideo) SupportsEndFrame() bool { return s.supportsEnd }

func (s *scriptedVideo) EstimateVideoCost(durationSec float64) float64 { return durationSec * 0.10 }

type scriptedCompiler struct {
	mu             sync.Mutex
	submits        int
	polls          int
	pollsUntilDone int
	neverDone      bool
	clipCounts     []int
}

func (s *scriptedCompiler) Submit(ctx context.Context, clips []string, aspect models.AspectRatio, opts providers.CompileOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	s.clipCounts = append(s.clipCounts, len(clips))
	return fmt.Sprintf("render-%d", s.submits), nil
}

func (s *scriptedCompiler) Poll(ctx context.Context, handle string) (*providers.CompilePollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.neverDone {
		return &providers.CompilePollResult{Status: providers.VideoRunning}, nil
	}
	if s.polls >= s.pollsUntilDone {
		return &providers.CompilePollResult{Status: providers.VideoDone, URL: "https://final.example/out.mp4"}, nil
	}
	return &providers.CompilePollResult{Status: providers.VideoRunning}, nil
}

func (s *scriptedCompiler) EstimateCompileCost(clipCount int) float64 { return float64(clipCount) * 0.05 }

type fakeChat struct{}

func (fakeChat) Chat(ctx context.Context, systemPrompt, userPrompt string, opts providers.ChatOptions) (*providers.ChatResult, error) {
	return &providers.ChatResult{Content: "{}"}, nil
}
func (fakeChat) EstimateTextCost(in, out int) float64 { return 0 }

type fakeFactory struct {
	image   providers.ImageSynthesis
	video   providers.VideoSynthesis
	compile providers.Compilation
}

func (f *fakeFactory) Text(tag models.TextProvider, cred *providers.Credential) (providers.TextCompletion, error) {
	return fakeChat{}, nil
}
func (f *fakeFactory) Image(tag models.ImageProvider, cred *providers.Credential) (providers.ImageSynthesis, error) {
	return f.image, nil
}
func (f *fakeFactory) Video(tag models.VideoProvider, cred *providers.Credential) (providers.VideoSynthesis, error) {
	return f.video, nil
}
func (f *fakeFactory) Compile(tag models.CompileProvider, cred *providers.Credential) (providers.Compilation, error) {
	return f.compile, nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	cfg.CallTimeout = time.Second
	return cfg
}

func wordPrompt(marker string) string {
	return marker + " " + strings.TrimSpace(strings.Repeat("detail ", 24))
}

func testProject(owner string, shotCount int, compile bool, markers ...string) *models.Project {
	shots := make([]models.Shot, shotCount)
	for i := range shots {
		marker := fmt.Sprintf("shot%d", i+1)
		if i < len(markers) {
			marker = markers[i]
		}
		shots[i] = models.Shot{
			ID:           i + 1,
			Duration:     6,
			StartPrompt:  wordPrompt(marker + "-start"),
			EndPrompt:    wordPrompt(marker + "-end"),
			MotionPrompt: wordPrompt(marker + "-motion"),
			CameraMove:   models.CameraStatic,
			Lighting:     "soft overcast light",
		}
	}

	compileTag := models.CompileNone
	if compile {
		compileTag = models.CompileShotstack
	}
	return &models.Project{
		ID:             uuid.New(),
		OwnerID:        owner,
		Name:           "test",
		Concept:        "test concept",
		TargetDuration: 6 * shotCount,
		AspectRatio:    models.AspectLandscape,
		Providers: models.ProviderConfig{
			Text:    models.TextOpenAI,
			Image:   models.ImageOpenAI,
			Video:   models.VideoVeo,
			Compile: compileTag,
		},
		Plan: &models.Plan{
			Title:     "Test",
			Narrative: "test",
			Scenes:    []models.Scene{{ID: 1, Name: "S", Description: "d", Mood: "m", Shots: shots}},
		},
	}
}

type harness struct {
	store  *memStore
	timers *memTimers
	orch   *Orchestrator
	job    *models.Job
}

func newHarness(t *testing.T, project *models.Project, factory *fakeFactory) *harness {
	t.Helper()
	ms := newMemStore()
	ms.projects[project.ID] = project

	job := models.NewJobFromPlan(project)
	ms.jobs[job.ID] = copyJob(job)

	timers := newMemTimers()
	orch := New(ms, ms, ms, timers, factory, testConfig())
	return &harness{store: ms, timers: timers, orch: orch, job: job}
}

// drive fires the armed timer repeatedly until the job goes quiet or the
// step limit is hit. The first wake is unconditional, like the arm that
// accompanies job creation.
func (h *harness) drive(t *testing.T, maxSteps int) *models.Job {
	t.Helper()
	ctx := context.Background()

	h.orch.Wake(ctx, h.job.ID)
	for step := 0; step < maxSteps; step++ {
		if !h.timers.pop(h.job.ID) {
			break
		}
		h.orch.Wake(ctx, h.job.ID)
	}

	job, err := h.store.GetJob(ctx, h.job.ID)
	if err != nil {
		t.Fatalf("job vanished: %v", err)
	}
	return job
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHappyPathWithCompilation(t *testing.T) {
	image := &scriptedImage{}
	video := newScriptedVideo(2, true)
	compiler := &scriptedCompiler{pollsUntilDone: 2}
	h := newHarness(t, testProject("owner-1", 2, true), &fakeFactory{image: image, video: video, compile: compiler})

	job := h.drive(t, 50)

	if job.Phase != models.PhaseComplete {
		t.Fatalf("phase = %q, want complete (err=%v)", job.Phase, job.ErrorMessage)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}
	if job.FinalArtifactURL == nil || *job.FinalArtifactURL == "" {
		t.Error("final artifact URL not set")
	}
	if image.calls != 4 {
		t.Errorf("image calls = %d, want 4 (start+end per shot)", image.calls)
	}
	if video.submits != 2 {
		t.Errorf("video submits = %d, want 2", video.submits)
	}
	if video.submitsWithEnd != 2 {
		t.Errorf("submissions carrying an end frame = %d, want 2", video.submitsWithEnd)
	}
	if compiler.submits != 1 {
		t.Errorf("compile submits = %d, want 1", compiler.submits)
	}
	if len(compiler.clipCounts) == 1 && compiler.clipCounts[0] != 2 {
		t.Errorf("compiled %d clips, want 2", compiler.clipCounts[0])
	}
	for i, shot := range job.Shots {
		if shot.Status != models.ShotComplete {
			t.Errorf("shot %d status = %q, want complete", i, shot.Status)
		}
		if shot.VideoURL == nil {
			t.Errorf("shot %d has no video URL", i)
		}
	}
}

func TestNoCompilationCompletesWithClipURLs(t *testing.T) {
	image := &scriptedImage{}
	video := newScriptedVideo(1, false)
	h := newHarness(t, testProject("owner-1", 2, false), &fakeFactory{image: image, video: video})

	job := h.drive(t, 50)

	if job.Phase != models.PhaseComplete {
		t.Fatalf("phase = %q, want complete (err=%v)", job.Phase, job.ErrorMessage)
	}
	if job.FinalArtifactURL != nil {
		t.Error("final artifact URL should be nil without compilation")
	}
	// Both frames are rendered per shot even though this provider only
	// consumes the start frame at submission.
	if image.calls != 4 {
		t.Errorf("image calls = %d, want 4", image.calls)
	}
	if video.submitsWithEnd != 0 {
		t.Errorf("submissions carrying an end frame = %d, want 0", video.submitsWithEnd)
	}
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	image := &scriptedImage{failRemaining: map[string]int{"shot1-start": 2}}
	video := newScriptedVideo(1, true)
	compiler := &scriptedCompiler{pollsUntilDone: 1}
	h := newHarness(t, testProject("owner-1", 2, true), &fakeFactory{image: image, video: video, compile: compiler})

	job := h.drive(t, 60)

	if job.Phase != models.PhaseComplete {
		t.Fatalf("phase = %q, want complete (err=%v)", job.Phase, job.ErrorMessage)
	}
	// 2 failed attempts + 4 successful frames.
	if image.calls != 6 {
		t.Errorf("image calls = %d, want 6", image.calls)
	}
	for i, shot := range job.Shots {
		if shot.RetryAttempts != 0 {
			t.Errorf("shot %d retry attempts = %d, want 0 after success", i, shot.RetryAttempts)
		}
	}
}

func TestPartialPermanentFailureCompletesWithHealthyShots(t *testing.T) {
	image := &scriptedImage{permanentFor: "shot1-start"}
	video := newScriptedVideo(1, true)
	compiler := &scriptedCompiler{pollsUntilDone: 1}
	h := newHarness(t, testProject("owner-1", 2, true), &fakeFactory{image: image, video: video, compile: compiler})

	job := h.drive(t, 60)

	// One shot failing permanently does not sink the job; the survivors
	// carry it to completion.
	if job.Phase != models.PhaseComplete {
		t.Fatalf("phase = %q, want complete (err=%v)", job.Phase, job.ErrorMessage)
	}
	if job.ErrorMessage != nil {
		t.Errorf("job error = %q, want none on partial success", *job.ErrorMessage)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}

	if job.Shots[0].Status != models.ShotFailed {
		t.Errorf("shot 0 status = %q, want failed", job.Shots[0].Status)
	}
	if job.Shots[0].ErrorMessage == nil {
		t.Error("failed shot should retain its error")
	}
	if job.Shots[1].Status != models.ShotComplete || job.Shots[1].VideoURL == nil {
		t.Errorf("healthy shot should complete: status=%q url=%v", job.Shots[1].Status, job.Shots[1].VideoURL)
	}

	// Compilation stitches only the clips that exist.
	if compiler.submits != 1 {
		t.Fatalf("compile submits = %d, want 1", compiler.submits)
	}
	if compiler.clipCounts[0] != 1 {
		t.Errorf("compiled %d clips, want 1", compiler.clipCounts[0])
	}
	if job.FinalArtifactURL == nil {
		t.Error("final artifact URL not set")
	}
}

func TestAllShotsFailedFailsJob(t *testing.T) {
	image := &scriptedImage{permanentFor: "-start"}
	video := newScriptedVideo(1, true)
	h := newHarness(t, testProject("owner-1", 2, false), &fakeFactory{image: image, video: video})

	job := h.drive(t, 60)

	if job.Phase != models.PhaseFailed {
		t.Fatalf("phase = %q, want failed", job.Phase)
	}
	if job.ErrorMessage == nil || !strings.Contains(*job.ErrorMessage, "2 of 2") {
		t.Errorf("error message = %v, want per-shot failure summary", job.ErrorMessage)
	}
	if video.submits != 0 {
		t.Errorf("video submits = %d, want 0 with no frames", video.submits)
	}
}

func TestRetryBudgetExhaustionFailsShot(t *testing.T) {
	image := &scriptedImage{failRemaining: map[string]int{"shot1-start": 100}}
	video := newScriptedVideo(1, true)
	h := newHarness(t, testProject("owner-1", 1, false), &fakeFactory{image: image, video: video})

	job := h.drive(t, 60)

	if job.Phase != models.PhaseFailed {
		t.Fatalf("phase = %q, want failed", job.Phase)
	}
	// 1 initial attempt + RetryBudget retries.
	if image.calls != 6 {
		t.Errorf("image calls = %d, want 6", image.calls)
	}
}

func TestVideoPollCeilingFailsWithoutFurtherPolling(t *testing.T) {
	image := &scriptedImage{}
	video := newScriptedVideo(0, true)
	video.neverDone = true
	h := newHarness(t, testProject("owner-1", 2, false), &fakeFactory{image: image, video: video})

	job := h.drive(t, 200)

	if job.Phase != models.PhaseFailed {
		t.Fatalf("phase = %q, want failed", job.Phase)
	}
	if job.ErrorMessage == nil || *job.ErrorMessage != "Timeout in GeneratingVideos" {
		t.Errorf("error = %v, want Timeout in GeneratingVideos", job.ErrorMessage)
	}
	if job.PollAttempts != 40 {
		t.Errorf("poll attempts = %d, want 40", job.PollAttempts)
	}
	// 40 poll ticks, 2 outstanding clips each. The failing wake-up issues
	// no provider calls at all.
	if video.polls != 80 {
		t.Errorf("video polls = %d, want 80", video.polls)
	}
}

func TestProviderReportedVideoFailureMarksShotFailed(t *testing.T) {
	image := &scriptedImage{}
	video := newScriptedVideo(1, true)
	video.failOncePer["vid-1"] = true
	h := newHarness(t, testProject("owner-1", 2, false), &fakeFactory{image: image, video: video})

	job := h.drive(t, 60)

	if job.Phase != models.PhaseComplete {
		t.Fatalf("phase = %q, want complete (err=%v)", job.Phase, job.ErrorMessage)
	}
	// The service accepted and then rejected the first clip: that verdict
	// is final, not grounds for another paid submission.
	if video.submits != 2 {
		t.Errorf("video submits = %d, want 2 (one per shot, no resubmission)", video.submits)
	}
	if job.Shots[0].Status != models.ShotFailed {
		t.Errorf("shot 0 status = %q, want failed", job.Shots[0].Status)
	}
	if job.Shots[0].ErrorMessage == nil || !strings.Contains(*job.Shots[0].ErrorMessage, "generation error") {
		t.Errorf("shot 0 error = %v, want the provider's message", job.Shots[0].ErrorMessage)
	}
	if job.Shots[1].Status != models.ShotComplete {
		t.Errorf("shot 1 status = %q, want complete", job.Shots[1].Status)
	}
}

func TestResumeDoesNotDuplicateSubmissions(t *testing.T) {
	image := &scriptedImage{}
	video := newScriptedVideo(1000, true) // stays running throughout
	h := newHarness(t, testProject("owner-1", 2, false), &fakeFactory{image: image, video: video})

	ctx := context.Background()
	h.orch.Wake(ctx, h.job.ID) // images + submit
	if video.submits != 2 {
		t.Fatalf("video submits = %d, want 2 after first wake", video.submits)
	}

	// A crashed-and-restarted worker re-wakes the same job. Handles are
	// already persisted, so no clip is submitted twice.
	for i := 0; i < 5; i++ {
		h.orch.Wake(ctx, h.job.ID)
	}
	if video.submits != 2 {
		t.Errorf("video submits = %d after resumes, want 2", video.submits)
	}

	job, _ := h.store.GetJob(ctx, h.job.ID)
	for i, shot := range job.Shots {
		if shot.VideoRequestHandle == nil {
			t.Errorf("shot %d lost its request handle", i)
		}
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	image := &scriptedImage{failRemaining: map[string]int{"shot2-end": 1}}
	video := newScriptedVideo(2, true)
	compiler := &scriptedCompiler{pollsUntilDone: 2}
	h := newHarness(t, testProject("owner-1", 3, true), &fakeFactory{image: image, video: video, compile: compiler})

	ctx := context.Background()
	last := -1
	h.orch.Wake(ctx, h.job.ID)
	for step := 0; step < 100; step++ {
		job, err := h.store.GetJob(ctx, h.job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Progress < last {
			t.Fatalf("progress went backwards: %d -> %d at step %d", last, job.Progress, step)
		}
		last = job.Progress
		if !h.timers.pop(h.job.ID) {
			break
		}
		h.orch.Wake(ctx, h.job.ID)
	}

	job, _ := h.store.GetJob(ctx, h.job.ID)
	if job.Phase != models.PhaseComplete {
		t.Fatalf("phase = %q, want complete (err=%v)", job.Phase, job.ErrorMessage)
	}
	if job.Progress != 100 {
		t.Errorf("final progress = %d, want 100", job.Progress)
	}
}

func TestCancelRequestedFailsJobAndDisarms(t *testing.T) {
	image := &scriptedImage{}
	video := newScriptedVideo(1000, true)
	h := newHarness(t, testProject("owner-1", 2, false), &fakeFactory{image: image, video: video})

	ctx := context.Background()
	h.orch.Wake(ctx, h.job.ID) // starts the pipeline

	h.store.mu.Lock()
	h.store.jobs[h.job.ID].CancelRequested = true
	h.store.mu.Unlock()

	h.orch.Wake(ctx, h.job.ID)

	job, _ := h.store.GetJob(ctx, h.job.ID)
	if job.Phase != models.PhaseFailed {
		t.Fatalf("phase = %q, want failed", job.Phase)
	}
	if job.ErrorMessage == nil || *job.ErrorMessage != "cancelled by user" {
		t.Errorf("error = %v, want cancellation message", job.ErrorMessage)
	}
	if h.timers.pop(h.job.ID) {
		t.Error("timer still armed after cancellation")
	}
}

func TestHeldLeaseExitsQuietly(t *testing.T) {
	image := &scriptedImage{}
	video := newScriptedVideo(1, true)
	h := newHarness(t, testProject("owner-1", 1, false), &fakeFactory{image: image, video: video})

	ctx := context.Background()
	h.store.mu.Lock()
	h.store.leaseOwner[h.job.ID] = "another-worker"
	h.store.leaseUntil[h.job.ID] = time.Now().Add(time.Minute)
	h.store.mu.Unlock()

	h.orch.Wake(ctx, h.job.ID)

	job, _ := h.store.GetJob(ctx, h.job.ID)
	if job.Phase != models.PhasePending {
		t.Errorf("phase = %q, loser of lease race must not advance the job", job.Phase)
	}
	if image.calls != 0 {
		t.Errorf("image calls = %d, want 0", image.calls)
	}
}

func TestTerminalJobWakeIsNoOp(t *testing.T) {
	image := &scriptedImage{}
	video := newScriptedVideo(1, true)
	h := newHarness(t, testProject("owner-1", 1, false), &fakeFactory{image: image, video: video})

	ctx := context.Background()
	h.store.mu.Lock()
	h.store.jobs[h.job.ID].Phase = models.PhaseComplete
	h.store.jobs[h.job.ID].Progress = 100
	h.store.mu.Unlock()

	h.orch.Wake(ctx, h.job.ID)

	if image.calls != 0 || video.submits != 0 {
		t.Error("terminal job must not trigger provider calls")
	}
	if h.timers.pop(h.job.ID) {
		t.Error("terminal job left a timer armed")
	}
}

func TestCompileTimeoutFailsJob(t *testing.T) {
	image := &scriptedImage{}
	video := newScriptedVideo(1, true)
	compiler := &scriptedCompiler{neverDone: true}
	h := newHarness(t, testProject("owner-1", 1, true), &fakeFactory{image: image, video: video, compile: compiler})

	job := h.drive(t, 300)

	if job.Phase != models.PhaseFailed {
		t.Fatalf("phase = %q, want failed", job.Phase)
	}
	if job.ErrorMessage == nil || *job.ErrorMessage != "Timeout in Compiling" {
		t.Errorf("error = %v, want Timeout in Compiling", job.ErrorMessage)
	}
	if job.CompilePollAttempts != 60 {
		t.Errorf("compile poll attempts = %d, want 60", job.CompilePollAttempts)
	}
}

func TestComputeProgress(t *testing.T) {
	url := "https://x.example/a"
	job := &models.Job{
		CompileEnabled: true,
		Shots: []models.ShotState{
			{StartImageURL: &url, EndImageURL: &url, VideoURL: &url}, // 3 units
			{StartImageURL: &url},                                    // 1 unit
			{},                                                       // 0 units
		},
	}
	// 4 of 10 units.
	if got := computeProgress(job); got != 40 {
		t.Errorf("progress = %d, want 40", got)
	}

	job.FinalArtifactURL = &url
	if got := computeProgress(job); got != 50 {
		t.Errorf("progress with artifact = %d, want 50", got)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	base, max := 2*time.Second, 60*time.Second
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(attempt, base, max)
		lo := time.Duration(float64(base) * 0.8)
		hi := time.Duration(float64(max) * 1.2)
		if d < lo || d > hi {
			t.Errorf("attempt %d: delay %s outside [%s, %s]", attempt, d, lo, hi)
		}
	}
	// Attempt 6 and beyond saturate at the cap (within jitter).
	d := backoffDelay(8, base, max)
	if d < time.Duration(float64(max)*0.8) {
		t.Errorf("late attempt delay %s below jittered cap", d)
	}
}
