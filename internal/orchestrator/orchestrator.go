package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bobarin/reelforge/internal/models"
	"github.com/bobarin/reelforge/internal/providers"
	"github.com/bobarin/reelforge/internal/store"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Job orchestrator: the durable state machine that drives a job from
// pending through image generation, video generation, and compilation.
// Every wake-up is lease-guarded, idempotent, and commits its progress
// before arming the next timer, so a crashed worker loses at most one
// uncommitted step.
// ---------------------------------------------------------------------------

type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	AcquireLease(ctx context.Context, jobID uuid.UUID, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, jobID uuid.UUID, owner string) error
	ExtendLease(ctx context.Context, jobID uuid.UUID, owner string, ttl time.Duration) error
	CommitJob(ctx context.Context, job *models.Job, leaseOwner string) error
}

type ProjectStore interface {
	GetProject(ctx context.Context, ownerID string, id uuid.UUID) (*models.Project, error)
}

type CredentialStore interface {
	GetCredentials(ctx context.Context, ownerID string) (map[providers.Capability]*providers.Credential, error)
}

// Timers is the durable wake-up source. One timer per job.
type Timers interface {
	ArmAt(ctx context.Context, jobID uuid.UUID, at time.Time) error
	Disarm(ctx context.Context, jobID uuid.UUID) error
}

type Config struct {
	PollInterval       time.Duration // spacing between provider poll ticks
	VideoPollCeiling   int           // max video poll ticks before giving up
	CompilePollCeiling int           // max compile poll ticks before giving up
	RetryBudget        int           // retries per shot operation
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	CallTimeout        time.Duration // per external call
	LeaseTTL           time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:       30 * time.Second,
		VideoPollCeiling:   40,
		CompilePollCeiling: 60,
		RetryBudget:        5,
		BackoffBase:        2 * time.Second,
		BackoffMax:         60 * time.Second,
		CallTimeout:        2 * time.Minute,
		LeaseTTL:           5 * time.Minute,
	}
}

type Orchestrator struct {
	jobs     JobStore
	projects ProjectStore
	creds    CredentialStore
	timers   Timers
	factory  providers.Factory
	cfg      Config
	workerID string
}

func New(jobs JobStore, projects ProjectStore, creds CredentialStore, timers Timers, factory providers.Factory, cfg Config) *Orchestrator {
	return &Orchestrator{
		jobs:     jobs,
		projects: projects,
		creds:    creds,
		timers:   timers,
		factory:  factory,
		cfg:      cfg,
		workerID: uuid.New().String(),
	}
}

// rearm values returned by the step functions.
const (
	rearmNone = time.Duration(-1) // terminal: disarm instead
	rearmNow  = time.Duration(0)  // more work immediately available
)

// Wake advances one job by one step. Safe to call concurrently for the
// same job: losers of the lease race exit quietly and the holder's timer
// chain continues alone.
func (o *Orchestrator) Wake(ctx context.Context, jobID uuid.UUID) {
	err := o.jobs.AcquireLease(ctx, jobID, o.workerID, o.cfg.LeaseTTL)
	if errors.Is(err, store.ErrLeaseHeld) {
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		o.timers.Disarm(ctx, jobID)
		return
	}
	if err != nil {
		log.Printf("[Orchestrator] Job %s: lease acquisition failed: %v", jobID, err)
		o.armIn(ctx, jobID, o.cfg.PollInterval)
		return
	}
	defer o.jobs.ReleaseLease(ctx, jobID, o.workerID)

	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		log.Printf("[Orchestrator] Job %s: load failed: %v", jobID, err)
		return
	}

	if job.Phase.Terminal() {
		o.timers.Disarm(ctx, jobID)
		return
	}

	if job.CancelRequested {
		job.Fail("cancelled by user")
		if err := o.jobs.CommitJob(ctx, job, o.workerID); err != nil {
			log.Printf("[Orchestrator] Job %s: cancel commit failed: %v", jobID, err)
		}
		o.timers.Disarm(ctx, jobID)
		log.Printf("[Orchestrator] Job %s cancelled", jobID)
		return
	}

	bundle, err := o.buildBundle(ctx, job)
	if err != nil {
		// Misconfigured providers cannot self-heal; fail the job.
		job.Fail(fmt.Sprintf("provider setup failed: %v", err))
		o.commitAndFinish(ctx, job)
		return
	}

	rearm := o.advance(ctx, job, bundle)

	if err := o.jobs.CommitJob(ctx, job, o.workerID); err != nil {
		if errors.Is(err, store.ErrStale) {
			log.Printf("[Orchestrator] Job %s: lease lost, discarding step", jobID)
			return
		}
		log.Printf("[Orchestrator] Job %s: commit failed: %v", jobID, err)
		o.armIn(ctx, jobID, o.cfg.PollInterval)
		return
	}

	if rearm == rearmNone || job.Phase.Terminal() {
		o.timers.Disarm(ctx, jobID)
		return
	}
	o.armIn(ctx, jobID, rearm)
}

func (o *Orchestrator) armIn(ctx context.Context, jobID uuid.UUID, d time.Duration) {
	if err := o.timers.ArmAt(ctx, jobID, time.Now().Add(d)); err != nil {
		log.Printf("[Orchestrator] Job %s: failed to arm timer: %v", jobID, err)
	}
}

func (o *Orchestrator) commitAndFinish(ctx context.Context, job *models.Job) {
	if err := o.jobs.CommitJob(ctx, job, o.workerID); err != nil {
		log.Printf("[Orchestrator] Job %s: terminal commit failed: %v", job.ID, err)
	}
	o.timers.Disarm(ctx, job.ID)
}

func (o *Orchestrator) buildBundle(ctx context.Context, job *models.Job) (*providers.Bundle, error) {
	project, err := o.projects.GetProject(ctx, job.OwnerID, job.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("project lookup: %w", err)
	}
	creds, err := o.creds.GetCredentials(ctx, job.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("credential lookup: %w", err)
	}
	return providers.BuildBundle(o.factory, project.Providers, creds)
}

// advance runs one step of the state machine and returns when to wake
// next. A panic inside a step marks the job failed with a generic message
// rather than leaking internals into a user-visible field.
func (o *Orchestrator) advance(ctx context.Context, job *models.Job, bundle *providers.Bundle) (rearm time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Orchestrator] Job %s: panic in step: %v", job.ID, r)
			job.Fail("internal error while processing job")
			rearm = rearmNone
		}
	}()

	switch job.Phase {
	case models.PhasePending:
		job.Phase = models.PhaseGeneratingImages
		log.Printf("[Orchestrator] Job %s started: %d shots, compile=%v", job.ID, len(job.Shots), job.CompileEnabled)
		return o.stepImages(ctx, job, bundle)
	case models.PhaseGeneratingImages, models.PhaseImagesComplete:
		return o.stepImages(ctx, job, bundle)
	case models.PhaseGeneratingVideos, models.PhaseVideosComplete:
		return o.stepVideos(ctx, job, bundle)
	case models.PhaseCompiling:
		return o.stepCompile(ctx, job, bundle)
	default:
		log.Printf("[Orchestrator] Job %s: unexpected phase %q", job.ID, job.Phase)
		return rearmNone
	}
}

// imagesDone reports whether a shot has both of its frames. Every shot
// gets a start and an end frame even when the video provider only
// consumes the start frame.
func imagesDone(shot *models.ShotState) bool {
	return shot.StartImageURL != nil && shot.EndImageURL != nil
}

// shotFailure applies one failed operation to a shot. Retryable errors
// consume the retry budget; permanent errors and an exhausted budget mark
// the shot failed. Returns the backoff delay when a retry is scheduled,
// or rearmNone when the shot is now terminal.
func (o *Orchestrator) shotFailure(job *models.Job, shot *models.ShotState, op string, err error) time.Duration {
	if providers.IsRetryable(err) && shot.RetryAttempts < o.cfg.RetryBudget {
		shot.RetryAttempts++
		delay := backoffDelay(shot.RetryAttempts, o.cfg.BackoffBase, o.cfg.BackoffMax)
		log.Printf("[Orchestrator] Job %s shot %d.%d: %s failed (retry %d/%d in %s): %v",
			job.ID, shot.SceneID, shot.ShotIndex, op, shot.RetryAttempts, o.cfg.RetryBudget, delay.Round(time.Millisecond), err)
		return delay
	}

	msg := fmt.Sprintf("%s failed: %v", op, err)
	shot.Status = models.ShotFailed
	shot.ErrorMessage = &msg
	log.Printf("[Orchestrator] Job %s shot %d.%d failed permanently: %s", job.ID, shot.SceneID, shot.ShotIndex, msg)
	return rearmNone
}

// stepImages generates missing start and end frames across all shots.
// Shots fail independently; the phase finishes once every shot either has
// its frames or is terminally failed.
func (o *Orchestrator) stepImages(ctx context.Context, job *models.Job, bundle *providers.Bundle) time.Duration {
	width, height := job.AspectRatio.Dimensions()

	minRetry := rearmNone
	pending := 0

	for i := range job.Shots {
		shot := &job.Shots[i]
		if shot.Status == models.ShotFailed || imagesDone(shot) {
			continue
		}

		if shot.StartImageURL == nil {
			shot.Status = models.ShotGeneratingStart
			url, err := o.synthesizeFrame(ctx, bundle, shot.StartPrompt, shot, width, height)
			if err != nil {
				if d := o.shotFailure(job, shot, "start frame", err); d != rearmNone && (minRetry == rearmNone || d < minRetry) {
					minRetry = d
				}
				if shot.Status != models.ShotFailed {
					pending++
				}
				continue
			}
			shot.StartImageURL = &url
			shot.RetryAttempts = 0
		}

		if shot.EndImageURL == nil {
			shot.Status = models.ShotGeneratingEnd
			url, err := o.synthesizeFrame(ctx, bundle, shot.EndPrompt, shot, width, height)
			if err != nil {
				if d := o.shotFailure(job, shot, "end frame", err); d != rearmNone && (minRetry == rearmNone || d < minRetry) {
					minRetry = d
				}
				if shot.Status != models.ShotFailed {
					pending++
				}
				continue
			}
			shot.EndImageURL = &url
			shot.RetryAttempts = 0
		}

		shot.Status = models.ShotSubmittingVideo

		// Image generation across many shots can outlive the initial lease.
		// On a lost lease the commit would be discarded anyway, so stop here
		// and let the next wake-up finish the remaining shots.
		if err := o.jobs.ExtendLease(ctx, job.ID, o.workerID, o.cfg.LeaseTTL); err != nil {
			log.Printf("[Orchestrator] Job %s: lease extension failed, stopping step: %v", job.ID, err)
			return o.cfg.PollInterval
		}
	}

	advanceProgress(job)

	if pending > 0 {
		if minRetry == rearmNone {
			minRetry = o.cfg.PollInterval
		}
		return minRetry
	}

	job.Phase = models.PhaseImagesComplete
	if !anyShotHealthy(job) {
		job.Fail(failureSummary(job, "image generation"))
		return rearmNone
	}

	job.Phase = models.PhaseGeneratingVideos
	log.Printf("[Orchestrator] Job %s: frames ready, moving to video generation", job.ID)
	return o.stepVideos(ctx, job, bundle)
}

// synthesizeFrame renders one still frame, folding the shot's lighting
// into the prompt.
func (o *Orchestrator) synthesizeFrame(ctx context.Context, bundle *providers.Bundle, prompt string, shot *models.ShotState, width, height int) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	full := prompt
	if shot.Lighting != "" {
		full = fmt.Sprintf("%s Lighting: %s.", prompt, shot.Lighting)
	}
	img, err := bundle.Image.Synthesize(callCtx, full, width, height, nil)
	if err != nil {
		return "", err
	}
	return img.URL, nil
}

// stepVideos submits clips for shots that have frames, then polls until
// every clip resolves. A wake-up either submits or polls, never both, so
// a fresh submission gets a full interval before its first poll.
func (o *Orchestrator) stepVideos(ctx context.Context, job *models.Job, bundle *providers.Bundle) time.Duration {
	needEnd := bundle.Video.SupportsEndFrame()

	// Ceiling first: a job that has already spent its polling budget fails
	// without issuing another round of provider calls.
	if job.PollAttempts >= o.cfg.VideoPollCeiling {
		log.Printf("[Orchestrator] Job %s: video polling ceiling hit after %d ticks", job.ID, job.PollAttempts)
		job.Fail("Timeout in GeneratingVideos")
		return rearmNone
	}

	minRetry := rearmNone
	submitted := 0
	awaiting := 0

	for i := range job.Shots {
		shot := &job.Shots[i]
		if shot.Status == models.ShotFailed || shot.VideoURL != nil {
			continue
		}
		if shot.VideoRequestHandle != nil {
			awaiting++
			continue
		}

		shot.Status = models.ShotSubmittingVideo
		handle, err := o.submitVideo(ctx, bundle, job, shot, needEnd)
		if err != nil {
			if d := o.shotFailure(job, shot, "video submission", err); d != rearmNone && (minRetry == rearmNone || d < minRetry) {
				minRetry = d
			}
			continue
		}
		shot.VideoRequestHandle = &handle
		shot.Status = models.ShotPollingVideo
		shot.RetryAttempts = 0
		submitted++
		awaiting++
	}

	if submitted > 0 {
		log.Printf("[Orchestrator] Job %s: %d clips submitted", job.ID, submitted)
		return o.cfg.PollInterval
	}
	if minRetry != rearmNone {
		return minRetry
	}

	if awaiting > 0 {
		job.PollAttempts++
		o.pollVideos(ctx, job, bundle)
	}

	advanceProgress(job)

	if !allShotsResolved(job) {
		return o.cfg.PollInterval
	}

	// Partial success is a normal outcome: as long as one clip made it,
	// the job carries on with whatever completed.
	job.Phase = models.PhaseVideosComplete
	if !anyShotHealthy(job) {
		job.Fail(failureSummary(job, "generation"))
		return rearmNone
	}

	if !job.CompileEnabled {
		job.Phase = models.PhaseComplete
		job.Progress = 100
		log.Printf("[Orchestrator] Job %s complete (no compilation)", job.ID)
		return rearmNone
	}

	job.Phase = models.PhaseCompiling
	log.Printf("[Orchestrator] Job %s: clips resolved, moving to compilation", job.ID)
	return o.stepCompile(ctx, job, bundle)
}

func (o *Orchestrator) submitVideo(ctx context.Context, bundle *providers.Bundle, job *models.Job, shot *models.ShotState, needEnd bool) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	req := providers.VideoSubmitRequest{
		MotionPrompt:  shot.MotionPrompt,
		StartImageURL: *shot.StartImageURL,
		Duration:      shot.Duration,
		AspectRatio:   job.AspectRatio,
	}
	if needEnd {
		req.EndImageURL = shot.EndImageURL
	}
	return bundle.Video.Submit(callCtx, req)
}

// pollVideos polls every outstanding clip once. A provider-reported
// failure is final for the shot: the service already accepted and then
// rejected the request, so it is recorded rather than resubmitted.
func (o *Orchestrator) pollVideos(ctx context.Context, job *models.Job, bundle *providers.Bundle) {
	for i := range job.Shots {
		shot := &job.Shots[i]
		if shot.Status == models.ShotFailed || shot.VideoURL != nil || shot.VideoRequestHandle == nil {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		result, err := bundle.Video.Poll(callCtx, *shot.VideoRequestHandle)
		cancel()
		if err != nil {
			// Transport hiccups ride the poll cadence; the ceiling bounds them.
			log.Printf("[Orchestrator] Job %s shot %d.%d: poll failed: %v", job.ID, shot.SceneID, shot.ShotIndex, err)
			continue
		}

		switch result.Status {
		case providers.VideoDone:
			url := result.URL
			shot.VideoURL = &url
			shot.Status = models.ShotComplete
			shot.RetryAttempts = 0
			log.Printf("[Orchestrator] Job %s shot %d.%d: clip ready", job.ID, shot.SceneID, shot.ShotIndex)
		case providers.VideoFailed:
			msg := fmt.Sprintf("video generation failed: %s", result.Message)
			shot.Status = models.ShotFailed
			shot.ErrorMessage = &msg
			log.Printf("[Orchestrator] Job %s shot %d.%d failed permanently: %s", job.ID, shot.SceneID, shot.ShotIndex, msg)
		}
	}
}

// stepCompile submits the stitch request once, then polls it to the final
// artifact.
func (o *Orchestrator) stepCompile(ctx context.Context, job *models.Job, bundle *providers.Bundle) time.Duration {
	if bundle.Compile == nil {
		job.Fail("compilation requested but no compiler configured")
		return rearmNone
	}

	if job.CompilePollAttempts >= o.cfg.CompilePollCeiling {
		log.Printf("[Orchestrator] Job %s: compile polling ceiling hit after %d ticks", job.ID, job.CompilePollAttempts)
		job.Fail("Timeout in Compiling")
		return rearmNone
	}

	if job.CompileRequestID == nil {
		// Failed shots have no clip; stitch whatever completed, in order.
		clips := make([]string, 0, len(job.Shots))
		for i := range job.Shots {
			if job.Shots[i].VideoURL != nil {
				clips = append(clips, *job.Shots[i].VideoURL)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		id, err := bundle.Compile.Submit(callCtx, clips, job.AspectRatio, providers.CompileOptions{})
		cancel()
		if err != nil {
			if !providers.IsRetryable(err) {
				job.Fail(fmt.Sprintf("compilation submission failed: %v", err))
				return rearmNone
			}
			log.Printf("[Orchestrator] Job %s: compile submission failed, retrying: %v", job.ID, err)
			return o.cfg.PollInterval
		}
		job.CompileRequestID = &id
		log.Printf("[Orchestrator] Job %s: compilation submitted: %s", job.ID, id)
		return o.cfg.PollInterval
	}

	job.CompilePollAttempts++
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	result, err := bundle.Compile.Poll(callCtx, *job.CompileRequestID)
	cancel()
	if err != nil {
		log.Printf("[Orchestrator] Job %s: compile poll failed: %v", job.ID, err)
		return o.cfg.PollInterval
	}

	switch result.Status {
	case providers.VideoDone:
		url := result.URL
		job.FinalArtifactURL = &url
		job.Phase = models.PhaseComplete
		job.Progress = 100
		log.Printf("[Orchestrator] Job %s complete: %s", job.ID, url)
		return rearmNone
	case providers.VideoFailed:
		job.Fail(fmt.Sprintf("compilation failed: %s", result.Message))
		return rearmNone
	default:
		return o.cfg.PollInterval
	}
}

func anyShotHealthy(job *models.Job) bool {
	for i := range job.Shots {
		if job.Shots[i].Status != models.ShotFailed {
			return true
		}
	}
	return false
}

// allShotsResolved reports whether every shot has either a clip or a
// terminal failure.
func allShotsResolved(job *models.Job) bool {
	for i := range job.Shots {
		shot := &job.Shots[i]
		if shot.Status != models.ShotFailed && shot.VideoURL == nil {
			return false
		}
	}
	return true
}

func failureSummary(job *models.Job, stage string) string {
	failed := 0
	var first string
	for i := range job.Shots {
		shot := &job.Shots[i]
		if shot.Status == models.ShotFailed {
			failed++
			if first == "" && shot.ErrorMessage != nil {
				first = *shot.ErrorMessage
			}
		}
	}
	if first != "" {
		return fmt.Sprintf("%s failed for %d of %d shots (first: %s)", stage, failed, len(job.Shots), first)
	}
	return fmt.Sprintf("%s failed for %d of %d shots", stage, failed, len(job.Shots))
}
