package director

import (
	"fmt"
	"math"
	"strings"

	"github.com/bobarin/reelforge/internal/models"
)

// ValidationKind classifies why a plan was rejected.
type ValidationKind string

const (
	KindMalformed ValidationKind = "malformed"  // response was not parseable JSON
	KindSchema    ValidationKind = "schema"     // required field missing or empty
	KindValue     ValidationKind = "value"      // field outside its allowed set or range
	KindStructure ValidationKind = "structure"  // id sequencing or shape violation
	KindDuration  ValidationKind = "duration"   // total duration outside tolerance
	KindLimit     ValidationKind = "limit"      // caller constraint exceeded
)

// ValidationError reports the first rule a candidate plan violates, with
// enough location detail for the client to surface it.
type ValidationError struct {
	Kind    ValidationKind `json:"kind"`
	SceneID int            `json:"sceneId,omitempty"` // 0 when not scene-specific
	ShotID  int            `json:"shotId,omitempty"`  // 0 when not shot-specific
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message"`
}

func (e *ValidationError) Error() string {
	loc := ""
	if e.SceneID > 0 && e.ShotID > 0 {
		loc = fmt.Sprintf("scene %d shot %d: ", e.SceneID, e.ShotID)
	} else if e.SceneID > 0 {
		loc = fmt.Sprintf("scene %d: ", e.SceneID)
	}
	return fmt.Sprintf("plan validation failed (%s): %s%s", e.Kind, loc, e.Message)
}

func schemaErr(sceneID, shotID int, field, msg string) *ValidationError {
	return &ValidationError{Kind: KindSchema, SceneID: sceneID, ShotID: shotID, Field: field, Message: msg}
}

func valueErr(sceneID, shotID int, field, msg string) *ValidationError {
	return &ValidationError{Kind: KindValue, SceneID: sceneID, ShotID: shotID, Field: field, Message: msg}
}

// promptTokens counts whitespace-separated tokens.
func promptTokens(s string) int {
	return len(strings.Fields(s))
}

// round1 rounds to one decimal place, half away from zero.
func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// validatePlan checks a candidate plan against every structural rule and
// returns the first violation found. target is in seconds.
func validatePlan(p *models.Plan, target float64, c *Constraints) *ValidationError {
	if strings.TrimSpace(p.Title) == "" {
		return schemaErr(0, 0, "title", "title is required")
	}
	if strings.TrimSpace(p.Narrative) == "" {
		return schemaErr(0, 0, "narrative", "narrative is required")
	}
	if len(p.Scenes) == 0 {
		return schemaErr(0, 0, "scenes", "plan has no scenes")
	}
	if c != nil && c.MaxScenes > 0 && len(p.Scenes) > c.MaxScenes {
		return &ValidationError{
			Kind:    KindLimit,
			Field:   "scenes",
			Message: fmt.Sprintf("plan has %d scenes, maximum is %d", len(p.Scenes), c.MaxScenes),
		}
	}

	var total float64
	for i, scene := range p.Scenes {
		sceneID := i + 1
		if scene.ID != sceneID {
			return &ValidationError{
				Kind:    KindStructure,
				SceneID: sceneID,
				Field:   "id",
				Message: fmt.Sprintf("scene id is %d, expected %d", scene.ID, sceneID),
			}
		}
		if strings.TrimSpace(scene.Name) == "" {
			return schemaErr(sceneID, 0, "name", "scene name is required")
		}
		if strings.TrimSpace(scene.Description) == "" {
			return schemaErr(sceneID, 0, "description", "scene description is required")
		}
		if strings.TrimSpace(scene.Mood) == "" {
			return schemaErr(sceneID, 0, "mood", "scene mood is required")
		}
		if len(scene.Shots) == 0 {
			return schemaErr(sceneID, 0, "shots", "scene has no shots")
		}
		if c != nil && c.MaxShotsPerScene > 0 && len(scene.Shots) > c.MaxShotsPerScene {
			return &ValidationError{
				Kind:    KindLimit,
				SceneID: sceneID,
				Field:   "shots",
				Message: fmt.Sprintf("scene has %d shots, maximum is %d", len(scene.Shots), c.MaxShotsPerScene),
			}
		}

		for j, shot := range scene.Shots {
			shotID := j + 1
			if verr := validateShot(&shot, sceneID, shotID); verr != nil {
				return verr
			}
			total += round1(shot.Duration)
		}
	}

	total = round1(total)
	lo, hi := target*(1-durationTolerance), target*(1+durationTolerance)
	if total < lo || total > hi {
		return &ValidationError{
			Kind:  KindDuration,
			Field: "total_duration",
			Message: fmt.Sprintf("total duration %.1fs is outside %.1f–%.1fs (±%d%% of %.0fs target)",
				total, lo, hi, int(durationTolerance*100), target),
		}
	}

	return nil
}

func validateShot(shot *models.Shot, sceneID, shotID int) *ValidationError {
	if shot.ID != shotID {
		return &ValidationError{
			Kind:    KindStructure,
			SceneID: sceneID,
			ShotID:  shotID,
			Field:   "id",
			Message: fmt.Sprintf("shot id is %d, expected %d", shot.ID, shotID),
		}
	}
	if shot.Duration < minShotDuration || shot.Duration > maxShotDuration {
		return valueErr(sceneID, shotID, "duration",
			fmt.Sprintf("duration %.1fs is outside %.0f–%.0fs", shot.Duration, minShotDuration, maxShotDuration))
	}
	if n := promptTokens(shot.StartPrompt); n < minPromptTokens {
		return valueErr(sceneID, shotID, "start_prompt",
			fmt.Sprintf("start_prompt has %d words, minimum is %d", n, minPromptTokens))
	}
	if n := promptTokens(shot.EndPrompt); n < minPromptTokens {
		return valueErr(sceneID, shotID, "end_prompt",
			fmt.Sprintf("end_prompt has %d words, minimum is %d", n, minPromptTokens))
	}
	if n := promptTokens(shot.MotionPrompt); n < minPromptTokens {
		return valueErr(sceneID, shotID, "motion_prompt",
			fmt.Sprintf("motion_prompt has %d words, minimum is %d", n, minPromptTokens))
	}
	if !shot.CameraMove.Valid() {
		return valueErr(sceneID, shotID, "camera_move",
			fmt.Sprintf("unknown camera move %q", shot.CameraMove))
	}
	if shot.TransitionOut != "" && !shot.TransitionOut.Valid() {
		return valueErr(sceneID, shotID, "transition_out",
			fmt.Sprintf("unknown transition %q", shot.TransitionOut))
	}
	if strings.TrimSpace(shot.Lighting) == "" {
		return schemaErr(sceneID, shotID, "lighting", "lighting is required")
	}
	return nil
}

// Normalize canonicalizes a validated plan in place: trims text fields,
// rounds durations to 0.1s, renumbers ids sequentially, fills the default
// transition, and recomputes the total duration. Idempotent.
func Normalize(p *models.Plan) {
	p.Title = strings.TrimSpace(p.Title)
	p.Narrative = strings.TrimSpace(p.Narrative)

	var total float64
	for i := range p.Scenes {
		scene := &p.Scenes[i]
		scene.ID = i + 1
		scene.Name = strings.TrimSpace(scene.Name)
		scene.Description = strings.TrimSpace(scene.Description)
		scene.Mood = strings.TrimSpace(scene.Mood)

		for j := range scene.Shots {
			shot := &scene.Shots[j]
			shot.ID = j + 1
			shot.Duration = round1(shot.Duration)
			shot.StartPrompt = strings.TrimSpace(shot.StartPrompt)
			shot.EndPrompt = strings.TrimSpace(shot.EndPrompt)
			shot.MotionPrompt = strings.TrimSpace(shot.MotionPrompt)
			shot.Lighting = strings.TrimSpace(shot.Lighting)
			if shot.ColorPalette != nil {
				trimmed := strings.TrimSpace(*shot.ColorPalette)
				if trimmed == "" {
					shot.ColorPalette = nil
				} else {
					shot.ColorPalette = &trimmed
				}
			}
			if shot.TransitionOut == "" {
				shot.TransitionOut = models.TransitionCut
			}
			total += shot.Duration
		}
	}

	p.TotalDuration = round1(total)
}
