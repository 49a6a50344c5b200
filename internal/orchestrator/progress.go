package orchestrator

import "github.com/bobarin/reelforge/internal/models"

// computeProgress maps completed work units onto 0–100. Each shot is worth
// three units (start frame, end frame, video clip); compilation, when
// enabled, is one more.
func computeProgress(job *models.Job) int {
	denom := 3 * len(job.Shots)
	if job.CompileEnabled {
		denom++
	}
	if denom == 0 {
		return 0
	}

	units := 0
	for i := range job.Shots {
		shot := &job.Shots[i]
		if shot.StartImageURL != nil {
			units++
		}
		if shot.EndImageURL != nil {
			units++
		}
		if shot.VideoURL != nil {
			units++
		}
	}
	if job.FinalArtifactURL != nil {
		units++
	}

	return (100*units + denom/2) / denom
}

// advanceProgress folds a freshly computed value into the job without ever
// moving backwards.
func advanceProgress(job *models.Job) {
	if p := computeProgress(job); p > job.Progress {
		job.Progress = p
	}
}
