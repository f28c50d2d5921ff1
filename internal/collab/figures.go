package collab

import (
	"context"
	"errors"
	"fmt"

	"github.com/metalagman/lessonloop/internal/errs"
	"github.com/metalagman/lessonloop/internal/render"
	"github.com/metalagman/lessonloop/internal/unit"
)

// FigureRenderer draws a figure to a path below its output root.
type FigureRenderer interface {
	Render(ctx context.Context, fig render.Figure, target string) (render.Image, error)
}

// FigureStage renders the figures of every generated item before the
// artifact reaches the critic. A render failure fails the generation call.
type FigureStage struct {
	next     unit.Generator
	renderer FigureRenderer
}

// NewFigureStage wraps next.
func NewFigureStage(next unit.Generator, renderer FigureRenderer) *FigureStage {
	return &FigureStage{next: next, renderer: renderer}
}

// Generate implements unit.Generator.
func (s *FigureStage) Generate(ctx context.Context, req unit.Request) (unit.Result, error) {
	res, err := s.next.Generate(ctx, req)
	if err != nil {
		return res, err
	}
	for i := range res.Artifact.Items {
		item := &res.Artifact.Items[i]
		if item.Figure == nil {
			continue
		}
		fig, err := render.DecodeFigure(*item.Figure)
		if err == nil {
			var img render.Image
			target := fmt.Sprintf("%s/i%02d-item%02d.png", req.Spec.ID, req.Iteration, i+1)
			img, err = s.renderer.Render(ctx, fig, target)
			item.Image = img.Path
		}
		if err != nil {
			return unit.Result{}, renderError(i, err)
		}
	}
	return res, nil
}

func renderError(index int, err error) error {
	out := errs.NewCollaboratorError("renderer", fmt.Sprintf("render item %d", index+1), err)
	var rerr *render.Error
	if errors.As(err, &rerr) {
		out = out.WithCode(rerr.Code)
	}
	return out
}
