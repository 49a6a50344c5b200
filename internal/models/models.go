package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Enums

type AspectRatio string

const (
	AspectLandscape AspectRatio = "16:9"
	AspectPortrait  AspectRatio = "9:16"
	AspectSquare    AspectRatio = "1:1"
)

// Dimensions returns the pixel size used for image synthesis at this aspect ratio.
func (a AspectRatio) Dimensions() (width, height int) {
	switch a {
	case AspectLandscape:
		return 1920, 1080
	case AspectPortrait:
		return 1080, 1920
	case AspectSquare:
		return 1024, 1024
	}
	return 0, 0
}

func (a AspectRatio) Valid() bool {
	switch a {
	case AspectLandscape, AspectPortrait, AspectSquare:
		return true
	}
	return false
}

// CameraMove is the closed set of camera movements a shot may use.
type CameraMove string

const (
	CameraStatic     CameraMove = "static"
	CameraPushIn     CameraMove = "push_in"
	CameraPullOut    CameraMove = "pull_out"
	CameraPanLeft    CameraMove = "pan_left"
	CameraPanRight   CameraMove = "pan_right"
	CameraTiltUp     CameraMove = "tilt_up"
	CameraTiltDown   CameraMove = "tilt_down"
	CameraCraneUp    CameraMove = "crane_up"
	CameraCraneDown  CameraMove = "crane_down"
	CameraDollyLeft  CameraMove = "dolly_left"
	CameraDollyRight CameraMove = "dolly_right"
)

var cameraMoves = map[CameraMove]bool{
	CameraStatic: true, CameraPushIn: true, CameraPullOut: true,
	CameraPanLeft: true, CameraPanRight: true, CameraTiltUp: true,
	CameraTiltDown: true, CameraCraneUp: true, CameraCraneDown: true,
	CameraDollyLeft: true, CameraDollyRight: true,
}

func (c CameraMove) Valid() bool { return cameraMoves[c] }

// CameraMoveList returns the allowed camera moves in a stable order,
// used when enumerating the closed set inside the director's system prompt.
func CameraMoveList() []CameraMove {
	return []CameraMove{
		CameraStatic, CameraPushIn, CameraPullOut,
		CameraPanLeft, CameraPanRight, CameraTiltUp, CameraTiltDown,
		CameraCraneUp, CameraCraneDown, CameraDollyLeft, CameraDollyRight,
	}
}

// Transition is the closed set of shot-exit transitions.
type Transition string

const (
	TransitionCut       Transition = "cut"
	TransitionCrossfade Transition = "crossfade"
	TransitionFadeBlack Transition = "fade_black"
	TransitionFadeWhite Transition = "fade_white"
	TransitionWipeLeft  Transition = "wipe_left"
	TransitionWipeRight Transition = "wipe_right"
)

var transitions = map[Transition]bool{
	TransitionCut: true, TransitionCrossfade: true, TransitionFadeBlack: true,
	TransitionFadeWhite: true, TransitionWipeLeft: true, TransitionWipeRight: true,
}

func (t Transition) Valid() bool { return transitions[t] }

func TransitionList() []Transition {
	return []Transition{
		TransitionCut, TransitionCrossfade, TransitionFadeBlack,
		TransitionFadeWhite, TransitionWipeLeft, TransitionWipeRight,
	}
}

// Provider tags — closed variants resolved to concrete adapters at phase
// entry. Unknown tags are rejected when the project is created, never at
// phase entry.

type TextProvider string

const (
	TextOpenAI TextProvider = "openai"
)

func (p TextProvider) Valid() bool { return p == TextOpenAI }

type ImageProvider string

const (
	ImageOpenAI ImageProvider = "openai"
	ImageXAI    ImageProvider = "xai"
)

func (p ImageProvider) Valid() bool { return p == ImageOpenAI || p == ImageXAI }

type VideoProvider string

const (
	VideoXAI VideoProvider = "xai"
	VideoVeo VideoProvider = "veo"
)

func (p VideoProvider) Valid() bool { return p == VideoXAI || p == VideoVeo }

type CompileProvider string

const (
	CompileShotstack CompileProvider = "shotstack"
	CompileNone      CompileProvider = "none"
)

func (p CompileProvider) Valid() bool { return p == CompileShotstack || p == CompileNone }

// ProviderConfig selects the adapter for each capability of a project.
type ProviderConfig struct {
	Text    TextProvider    `json:"text"`
	Image   ImageProvider   `json:"image"`
	Video   VideoProvider   `json:"video"`
	Compile CompileProvider `json:"compile"`
}

// Validate reports the first invalid tag, or "" when all four are known.
func (c ProviderConfig) Validate() string {
	if !c.Text.Valid() {
		return "unknown text provider: " + string(c.Text)
	}
	if !c.Image.Valid() {
		return "unknown image provider: " + string(c.Image)
	}
	if !c.Video.Valid() {
		return "unknown video provider: " + string(c.Video)
	}
	if !c.Compile.Valid() {
		return "unknown compile provider: " + string(c.Compile)
	}
	return ""
}

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Plan is the validated, normalized shot decomposition of a concept.
// It is immutable once approved; jobs carry frozen copies of its prompts.

type Shot struct {
	ID            int        `json:"id"`
	Duration      float64    `json:"duration"` // seconds, 5.0–10.0, rounded to 0.1
	StartPrompt   string     `json:"start_prompt"`
	EndPrompt     string     `json:"end_prompt"`
	MotionPrompt  string     `json:"motion_prompt"`
	CameraMove    CameraMove `json:"camera_move"`
	Lighting      string     `json:"lighting"`
	ColorPalette  *string    `json:"color_palette,omitempty"`
	TransitionOut Transition `json:"transition_out,omitempty"`
}

type Scene struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Mood        string `json:"mood"`
	Shots       []Shot `json:"shots"`
}

type Plan struct {
	Title         string  `json:"title"`
	Narrative     string  `json:"narrative"`
	TotalDuration float64 `json:"total_duration"` // recomputed from shots
	Scenes        []Scene `json:"scenes"`
}

// ShotCount returns the number of shots across all scenes.
func (p *Plan) ShotCount() int {
	n := 0
	for _, sc := range p.Scenes {
		n += len(sc.Shots)
	}
	return n
}

// Job phases

type JobPhase string

const (
	PhasePending          JobPhase = "pending"
	PhaseGeneratingImages JobPhase = "generating_images"
	PhaseImagesComplete   JobPhase = "images_complete"
	PhaseGeneratingVideos JobPhase = "generating_videos"
	PhaseVideosComplete   JobPhase = "videos_complete"
	PhaseCompiling        JobPhase = "compiling"
	PhaseComplete         JobPhase = "complete"
	PhaseFailed           JobPhase = "failed"
)

// Terminal reports whether the phase is final — a terminal job is read-only.
func (p JobPhase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// Shot runtime state

type ShotStatus string

const (
	ShotPending         ShotStatus = "pending"
	ShotGeneratingStart ShotStatus = "generating_start"
	ShotGeneratingEnd   ShotStatus = "generating_end"
	ShotSubmittingVideo ShotStatus = "submitting_video"
	ShotPollingVideo    ShotStatus = "polling_video"
	ShotComplete        ShotStatus = "complete"
	ShotFailed          ShotStatus = "failed"
)

func (s ShotStatus) Terminal() bool {
	return s == ShotComplete || s == ShotFailed
}

// ShotState is the durable per-shot record inside a Job. It carries frozen
// copies of the prompts so a resumed job never depends on later plan edits.
type ShotState struct {
	SceneID      int        `json:"scene_id"`
	ShotIndex    int        `json:"shot_index"` // 1-based within the scene
	Status       ShotStatus `json:"status"`
	Duration     float64    `json:"duration"`
	StartPrompt  string     `json:"start_prompt"`
	EndPrompt    string     `json:"end_prompt"`
	MotionPrompt string     `json:"motion_prompt"`
	CameraMove   CameraMove `json:"camera_move"`
	Lighting     string     `json:"lighting"`

	StartImageURL      *string `json:"start_image_url,omitempty"`
	EndImageURL        *string `json:"end_image_url,omitempty"`
	VideoRequestHandle *string `json:"video_request_handle,omitempty"`
	VideoURL           *string `json:"video_url,omitempty"`
	RetryAttempts      int     `json:"retry_attempts,omitempty"`
	ErrorMessage       *string `json:"error_message,omitempty"`
}

// HasImages reports whether both frames have been generated.
func (s *ShotState) HasImages() bool {
	return s.StartImageURL != nil && s.EndImageURL != nil
}

// Job is the durable record of running an approved plan through the
// generation pipeline. It is mutated only by the orchestrator holding the
// job's write lease; terminal jobs are read-only.
type Job struct {
	ID          uuid.UUID   `json:"id"`
	ProjectID   uuid.UUID   `json:"project_id"`
	OwnerID     string      `json:"owner_id"`
	AspectRatio AspectRatio `json:"aspect_ratio"`

	Phase    JobPhase    `json:"phase"`
	Progress int         `json:"progress"` // 0–100
	Shots    []ShotState `json:"shots"`

	PollAttempts        int     `json:"poll_attempts"`
	CompileRequestID    *string `json:"compile_request_id,omitempty"`
	CompilePollAttempts int     `json:"compile_poll_attempts"`
	CompileEnabled      bool    `json:"compile_enabled"`
	CancelRequested     bool    `json:"cancel_requested"`

	FinalArtifactURL *string `json:"final_artifact_url,omitempty"`
	ErrorMessage     *string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJobFromPlan freezes an approved plan into a job record. Shots are laid
// out in scene-then-shot order, which is also the submission order.
func NewJobFromPlan(project *Project) *Job {
	job := &Job{
		ID:             uuid.New(),
		ProjectID:      project.ID,
		OwnerID:        project.OwnerID,
		AspectRatio:    project.AspectRatio,
		Phase:          PhasePending,
		CompileEnabled: project.Providers.Compile != CompileNone,
	}
	for _, scene := range project.Plan.Scenes {
		for _, shot := range scene.Shots {
			job.Shots = append(job.Shots, ShotState{
				SceneID:      scene.ID,
				ShotIndex:    shot.ID,
				Status:       ShotPending,
				Duration:     shot.Duration,
				StartPrompt:  shot.StartPrompt,
				EndPrompt:    shot.EndPrompt,
				MotionPrompt: shot.MotionPrompt,
				CameraMove:   shot.CameraMove,
				Lighting:     shot.Lighting,
			})
		}
	}
	return job
}

// Fail moves the job to its failed terminal phase with a message.
func (j *Job) Fail(message string) {
	j.Phase = PhaseFailed
	j.ErrorMessage = &message
}

// Project owns a plan and the provider selection used to run it.
type Project struct {
	ID             uuid.UUID      `json:"id"`
	OwnerID        string         `json:"owner_id"`
	Name           string         `json:"name"`
	Concept        string         `json:"concept"`
	Style          *string        `json:"style,omitempty"`
	TargetDuration int            `json:"target_duration"` // seconds
	AspectRatio    AspectRatio    `json:"aspect_ratio"`
	Providers      ProviderConfig `json:"providers"`
	Plan           *Plan          `json:"plan,omitempty"`
	PlanApproved   bool           `json:"plan_approved"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// API DTOs

// Envelope is the common response wrapper for all mutating endpoints.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type CreateProjectRequest struct {
	Name           string         `json:"name"`
	Concept        string         `json:"concept"`
	Style          *string        `json:"style,omitempty"`
	TargetDuration int            `json:"targetDuration"`
	AspectRatio    AspectRatio    `json:"aspectRatio"`
	Config         ProviderConfig `json:"config"`
}

type RefineRequest struct {
	Feedback string `json:"feedback"`
}

type GenerateResponse struct {
	JobID uuid.UUID `json:"jobId"`
}

// ShotSummary is the per-shot view returned from GET /api/jobs/{id}.
type ShotSummary struct {
	SceneID   int        `json:"sceneId"`
	ShotIndex int        `json:"shotIndex"`
	Status    ShotStatus `json:"status"`
	VideoURL  *string    `json:"videoUrl,omitempty"`
	Error     *string    `json:"error,omitempty"`
}

// JobSnapshot is the read-only job view for the external interface.
type JobSnapshot struct {
	ID               uuid.UUID     `json:"id"`
	ProjectID        uuid.UUID     `json:"projectId"`
	Phase            JobPhase      `json:"phase"`
	Progress         int           `json:"progress"`
	Shots            []ShotSummary `json:"shots"`
	FinalArtifactURL *string       `json:"finalArtifactUrl,omitempty"`
	ErrorMessage     *string       `json:"errorMessage,omitempty"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Snapshot builds the external view of a job.
func (j *Job) Snapshot() JobSnapshot {
	shots := make([]ShotSummary, len(j.Shots))
	for i, s := range j.Shots {
		shots[i] = ShotSummary{
			SceneID:   s.SceneID,
			ShotIndex: s.ShotIndex,
			Status:    s.Status,
			VideoURL:  s.VideoURL,
			Error:     s.ErrorMessage,
		}
	}
	return JobSnapshot{
		ID:               j.ID,
		ProjectID:        j.ProjectID,
		Phase:            j.Phase,
		Progress:         j.Progress,
		Shots:            shots,
		FinalArtifactURL: j.FinalArtifactURL,
		ErrorMessage:     j.ErrorMessage,
		UpdatedAt:        j.UpdatedAt,
	}
}
