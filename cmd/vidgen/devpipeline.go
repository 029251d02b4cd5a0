package main

import (
	"context"
	"time"

	"github.com/phrazzld/vidgen/internal/domain"
	"github.com/phrazzld/vidgen/internal/generation"
)

// devPipeline stands in for the generation pipeline under serve --dev when
// no pipeline URL is configured. It picks the first personalization candidate
// and returns placeholder artifacts after delay.
func devPipeline(delay time.Duration) generation.Pipeline {
	return generation.PipelineFunc(func(ctx context.Context, req generation.Request) (*generation.Result, error) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, generation.NewTransientError(generation.DefaultStage, ctx.Err())
		case <-t.C:
		}

		var selected string
		if candidates := domain.Candidates(req.PersonalizationHint); len(candidates) > 0 {
			selected = candidates[0]
		}
		res := &generation.Result{SelectedValue: selected}
		res.ArtifactRef = "dev://videos/" + req.RequestID + ".mp4"
		res.ThumbnailRef = "dev://videos/" + req.RequestID + ".png"
		res.ScriptText = "Placeholder script about " + req.Query
		return res, nil
	})
}
