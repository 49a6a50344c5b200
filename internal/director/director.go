package director

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/bobarin/reelforge/internal/models"
	"github.com/bobarin/reelforge/internal/providers"
)

// ---------------------------------------------------------------------------
// AI Director: turns a free-form concept into a validated, normalized shot
// plan by prompting a text model for JSON and coercing the output into the
// strict Plan schema.
// ---------------------------------------------------------------------------

const (
	// Shot duration window in seconds.
	minShotDuration = 5.0
	maxShotDuration = 10.0

	// Total duration must land within ±10% of the requested target.
	durationTolerance = 0.10

	// Each prompt field must carry at least this many whitespace-separated tokens.
	minPromptTokens = 20
)

// Constraints bound the shape of a directed plan. Nil or zero fields are
// unconstrained.
type Constraints struct {
	MaxScenes        int      `json:"maxScenes,omitempty"`
	MaxShotsPerScene int      `json:"maxShotsPerScene,omitempty"`
	Include          []string `json:"include,omitempty"`
	Avoid            []string `json:"avoid,omitempty"`
}

// Request carries everything Direct needs to synthesize a plan.
type Request struct {
	Concept        string
	Style          string
	TargetDuration int // seconds
	AspectRatio    models.AspectRatio
	Constraints    *Constraints
}

type Director struct {
	text providers.TextCompletion
}

func New(text providers.TextCompletion) *Director {
	return &Director{text: text}
}

// Direct asks the text model for a shot plan and returns it validated and
// normalized. Validation errors are not retried here — the caller decides
// whether to re-invoke. Retryable provider errors bubble unchanged.
func (d *Director) Direct(ctx context.Context, req Request) (*models.Plan, error) {
	systemPrompt := buildSystemPrompt(req.TargetDuration, req.Constraints)
	userPrompt := buildUserPrompt(req)

	plan, err := d.invoke(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	target := float64(req.TargetDuration)
	if verr := validatePlan(plan, target, req.Constraints); verr != nil {
		log.Printf("[Director] plan rejected: %v", verr)
		return nil, verr
	}

	Normalize(plan)
	log.Printf("[Director] plan accepted: %d scenes, %d shots, total=%.1fs (target=%ds)",
		len(plan.Scenes), plan.ShotCount(), plan.TotalDuration, req.TargetDuration)
	return plan, nil
}

// Refine resubmits an existing plan with user feedback. The prior plan's
// total duration is the tolerance anchor, so feedback-driven re-pacing
// stays valid even when it drifts from the original target.
func (d *Director) Refine(ctx context.Context, prior *models.Plan, feedback string) (*models.Plan, error) {
	priorJSON, err := json.MarshalIndent(prior, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode prior plan: %w", err)
	}

	systemPrompt := buildSystemPrompt(int(prior.TotalDuration+0.5), nil)
	userPrompt := fmt.Sprintf(`Here is the current shot plan:

%s

Revise it according to this feedback, keeping the same JSON schema and all structural rules:

%s`, string(priorJSON), strings.TrimSpace(feedback))

	plan, err := d.invoke(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	if verr := validatePlan(plan, prior.TotalDuration, nil); verr != nil {
		log.Printf("[Director] refined plan rejected: %v", verr)
		return nil, verr
	}

	Normalize(plan)
	log.Printf("[Director] refined plan accepted: %d scenes, %d shots, total=%.1fs",
		len(plan.Scenes), plan.ShotCount(), plan.TotalDuration)
	return plan, nil
}

// invoke runs the chat call and parses the JSON body into a Plan.
func (d *Director) invoke(ctx context.Context, systemPrompt, userPrompt string) (*models.Plan, error) {
	resp, err := d.text.Chat(ctx, systemPrompt, userPrompt, providers.ChatOptions{
		JSONResponse: true,
		Temperature:  1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("direction request failed: %w", err)
	}

	var plan models.Plan
	if err := json.Unmarshal([]byte(resp.Content), &plan); err != nil {
		const maxLogLen = 2000
		raw := resp.Content
		if len(raw) > maxLogLen {
			raw = raw[:maxLogLen] + "..."
		}
		log.Printf("[Director] parse failed: %v (raw response: %s)", err, raw)
		return nil, &ValidationError{Kind: KindMalformed, Message: "model response is not valid JSON"}
	}

	return &plan, nil
}

func buildSystemPrompt(targetDuration int, c *Constraints) string {
	moves := make([]string, 0, len(models.CameraMoveList()))
	for _, m := range models.CameraMoveList() {
		moves = append(moves, string(m))
	}
	trans := make([]string, 0, len(models.TransitionList()))
	for _, t := range models.TransitionList() {
		trans = append(trans, string(t))
	}

	prompt := fmt.Sprintf(`You are an expert film director decomposing a promotional video concept into a precise shot plan.

Respond with a single JSON object matching this schema exactly:
{
  "title": string,
  "narrative": string,
  "total_duration": number,
  "scenes": [
    {
      "id": number,
      "name": string,
      "description": string,
      "mood": string,
      "shots": [
        {
          "id": number,
          "duration": number,
          "start_prompt": string,
          "end_prompt": string,
          "motion_prompt": string,
          "camera_move": string,
          "lighting": string,
          "color_palette": string (optional),
          "transition_out": string (optional)
        }
      ]
    }
  ]
}

HARD RULES — a plan violating any of these is rejected:
- Scene ids are 1, 2, 3... in order. Shot ids restart at 1 within each scene.
- Every shot duration is between %.0f and %.0f seconds.
- total_duration is the sum of all shot durations and must be within %d%% of %d seconds.
- camera_move must be one of: %s.
- transition_out, when present, must be one of: %s.
- start_prompt, end_prompt, and motion_prompt must each contain at least %d words.
- lighting must never be empty.

CONTINUITY — CRITICAL:
Each shot produces a start frame, an end frame, and a motion clip between
them. The end of shot N is the visual premise of shot N+1: write end_prompt
so the next shot's start_prompt picks up exactly where it leaves off. The
viewer should never feel a jarring jump inside a scene.

PROMPT WRITING:
- start_prompt and end_prompt are full still-frame descriptions: subject,
  pose, framing, background, lighting, atmosphere, depth layers.
- motion_prompt is a film director's shot description in present tense:
  subject motion, environmental motion, and the camera move in action.
- Keep the visual style coherent across every shot in the plan.`,
		minShotDuration, maxShotDuration,
		int(durationTolerance*100), targetDuration,
		strings.Join(moves, ", "), strings.Join(trans, ", "),
		minPromptTokens)

	if c != nil {
		if c.MaxScenes > 0 {
			prompt += fmt.Sprintf("\n- Use at most %d scenes.", c.MaxScenes)
		}
		if c.MaxShotsPerScene > 0 {
			prompt += fmt.Sprintf("\n- Use at most %d shots per scene.", c.MaxShotsPerScene)
		}
	}

	return prompt
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a shot plan for this concept: %q\n\n", strings.TrimSpace(req.Concept))
	fmt.Fprintf(&b, "Target duration: %d seconds\n", req.TargetDuration)
	fmt.Fprintf(&b, "Aspect ratio: %s\n", req.AspectRatio)
	if req.Style != "" {
		fmt.Fprintf(&b, "Visual style: %s\n", req.Style)
	}
	if c := req.Constraints; c != nil {
		if len(c.Include) > 0 {
			fmt.Fprintf(&b, "Must include: %s\n", strings.Join(c.Include, "; "))
		}
		if len(c.Avoid) > 0 {
			fmt.Fprintf(&b, "Must avoid: %s\n", strings.Join(c.Avoid, "; "))
		}
	}
	return b.String()
}
