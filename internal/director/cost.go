package director

import (
	"math"

	"github.com/bobarin/reelforge/internal/models"
	"github.com/bobarin/reelforge/internal/providers"
)

// Rough token volume of one direction round trip, for the text line item.
const (
	estimatedDirectionInputTokens  = 2500
	estimatedDirectionOutputTokens = 3000
)

// CostBreakdown is an upfront estimate of what executing a plan will cost,
// per pipeline stage. Figures are advisory; provider billing is authoritative.
type CostBreakdown struct {
	Direction   float64 `json:"direction"`
	Images      float64 `json:"images"`
	Videos      float64 `json:"videos"`
	Compilation float64 `json:"compilation"`
	Total       float64 `json:"total"`
	ShotCount   int     `json:"shotCount"`
}

// EstimateCost prices a plan against the providers that would execute it.
// Every shot needs a start and an end frame, one video clip of its duration,
// and compilation covers one clip per shot when a compiler is configured.
func EstimateCost(plan *models.Plan, bundle *providers.Bundle) CostBreakdown {
	shots := plan.ShotCount()

	bd := CostBreakdown{ShotCount: shots}
	bd.Direction = bundle.Text.EstimateTextCost(estimatedDirectionInputTokens, estimatedDirectionOutputTokens)
	bd.Images = float64(2*shots) * bundle.Image.EstimateImageCost()

	for _, scene := range plan.Scenes {
		for _, shot := range scene.Shots {
			bd.Videos += bundle.Video.EstimateVideoCost(shot.Duration)
		}
	}

	if bundle.Compile != nil {
		bd.Compilation = bundle.Compile.EstimateCompileCost(shots)
	}

	bd.Total = roundCents(bd.Direction + bd.Images + bd.Videos + bd.Compilation)
	bd.Direction = roundCents(bd.Direction)
	bd.Images = roundCents(bd.Images)
	bd.Videos = roundCents(bd.Videos)
	bd.Compilation = roundCents(bd.Compilation)
	return bd
}

func roundCents(x float64) float64 {
	return math.Round(x*100) / 100
}
