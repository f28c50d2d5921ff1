// Package render turns structured figure specs attached to items into image
// files through external drawing tools.
package render

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/metalagman/lessonloop/internal/content"
)

// Figure type tags as they appear in item figure specs.
const (
	TypeFunctionPlot   = "function_plot"
	TypeGeometryPlot   = "geometry_plot"
	TypeCoordinatePlot = "coordinate_plot"
	TypeStatChart      = "stat_chart"
	TypeSceneImage     = "scene_image"
)

// Render tools. Plots are drawn by the plot tool, scenes by the image tool.
const (
	ToolPlot  = "plot"
	ToolImage = "image"
)

// Figure is a validated drawing request.
type Figure interface {
	Type() string
	Tool() string
	Validate() error
}

// Range is a closed numeric interval.
type Range struct {
	Min float64 `mapstructure:"min" json:"min"`
	Max float64 `mapstructure:"max" json:"max"`
}

func (r Range) valid() bool { return r.Min < r.Max }

// FunctionPlot draws one or more functions of x.
type FunctionPlot struct {
	Functions []string `mapstructure:"functions" json:"functions"`
	X         Range    `mapstructure:"x"         json:"x"`
	Y         *Range   `mapstructure:"y"         json:"y,omitempty"`
	Title     string   `mapstructure:"title"     json:"title,omitempty"`
	Grid      bool     `mapstructure:"grid"      json:"grid,omitempty"`
}

func (FunctionPlot) Type() string { return TypeFunctionPlot }
func (FunctionPlot) Tool() string { return ToolPlot }

func (f FunctionPlot) Validate() error {
	if len(f.Functions) == 0 {
		return invalidSpec("function_plot needs at least one function", "add an expression such as \"2*x+1\" to functions")
	}
	for _, fn := range f.Functions {
		if strings.TrimSpace(fn) == "" {
			return invalidSpec("function_plot has an empty function", "remove empty entries from functions")
		}
	}
	if !f.X.valid() {
		return invalidSpec("function_plot x range is empty", "set x.min below x.max")
	}
	if f.Y != nil && !f.Y.valid() {
		return invalidSpec("function_plot y range is empty", "set y.min below y.max or omit y")
	}
	return nil
}

// Point is a labelled point in the plane.
type Point struct {
	X     float64 `mapstructure:"x"     json:"x"`
	Y     float64 `mapstructure:"y"     json:"y"`
	Label string  `mapstructure:"label" json:"label,omitempty"`
}

// Shape is a geometric primitive.
type Shape struct {
	Kind   string  `mapstructure:"kind"   json:"kind"`
	Points []Point `mapstructure:"points" json:"points"`
	Radius float64 `mapstructure:"radius" json:"radius,omitempty"`
	Label  string  `mapstructure:"label"  json:"label,omitempty"`
}

var shapePoints = map[string]int{
	"segment":  2,
	"line":     2,
	"ray":      2,
	"triangle": 3,
	"polygon":  3,
	"circle":   1,
	"angle":    3,
}

// GeometryPlot draws shapes without axes.
type GeometryPlot struct {
	Shapes []Shape `mapstructure:"shapes" json:"shapes"`
	Title  string  `mapstructure:"title"  json:"title,omitempty"`
}

func (GeometryPlot) Type() string { return TypeGeometryPlot }
func (GeometryPlot) Tool() string { return ToolPlot }

func (g GeometryPlot) Validate() error {
	if len(g.Shapes) == 0 {
		return invalidSpec("geometry_plot needs at least one shape", "add a shape such as {kind: triangle, points: [...]}")
	}
	for i, s := range g.Shapes {
		need, ok := shapePoints[s.Kind]
		if !ok {
			return invalidSpec(fmt.Sprintf("geometry_plot shape %d has unknown kind %q", i, s.Kind), "use one of segment, line, ray, triangle, polygon, circle, angle")
		}
		if len(s.Points) < need {
			return invalidSpec(fmt.Sprintf("geometry_plot %s %d needs %d points, got %d", s.Kind, i, need, len(s.Points)), "")
		}
		if s.Kind == "circle" && s.Radius <= 0 {
			return invalidSpec(fmt.Sprintf("geometry_plot circle %d needs a positive radius", i), "")
		}
	}
	return nil
}

// CoordinatePlot draws points and segments on labelled axes.
type CoordinatePlot struct {
	Points   []Point  `mapstructure:"points"   json:"points"`
	Segments [][2]int `mapstructure:"segments" json:"segments,omitempty"`
	X        Range    `mapstructure:"x"        json:"x"`
	Y        Range    `mapstructure:"y"        json:"y"`
	Grid     bool     `mapstructure:"grid"     json:"grid,omitempty"`
	Title    string   `mapstructure:"title"    json:"title,omitempty"`
}

func (CoordinatePlot) Type() string { return TypeCoordinatePlot }
func (CoordinatePlot) Tool() string { return ToolPlot }

func (c CoordinatePlot) Validate() error {
	if len(c.Points) == 0 {
		return invalidSpec("coordinate_plot needs at least one point", "")
	}
	if !c.X.valid() || !c.Y.valid() {
		return invalidSpec("coordinate_plot axis range is empty", "set min below max on both axes")
	}
	for _, p := range c.Points {
		if p.X < c.X.Min || p.X > c.X.Max || p.Y < c.Y.Min || p.Y > c.Y.Max {
			return invalidSpec(fmt.Sprintf("point (%g, %g) lies outside the axes", p.X, p.Y), "widen the axis ranges")
		}
	}
	for _, seg := range c.Segments {
		for _, idx := range seg {
			if idx < 0 || idx >= len(c.Points) {
				return invalidSpec(fmt.Sprintf("segment refers to missing point %d", idx), "segments index into points from 0")
			}
		}
	}
	return nil
}

// StatChart draws a bar, line, pie chart or histogram.
type StatChart struct {
	Chart  string    `mapstructure:"chart"  json:"chart"`
	Labels []string  `mapstructure:"labels" json:"labels,omitempty"`
	Values []float64 `mapstructure:"values" json:"values"`
	Title  string    `mapstructure:"title"  json:"title,omitempty"`
	XLabel string    `mapstructure:"x_label" json:"x_label,omitempty"`
	YLabel string    `mapstructure:"y_label" json:"y_label,omitempty"`
}

func (StatChart) Type() string { return TypeStatChart }
func (StatChart) Tool() string { return ToolPlot }

func (s StatChart) Validate() error {
	switch s.Chart {
	case "bar", "line", "pie", "histogram":
	default:
		return invalidSpec(fmt.Sprintf("stat_chart has unknown chart %q", s.Chart), "use one of bar, line, pie, histogram")
	}
	if len(s.Values) == 0 {
		return invalidSpec("stat_chart needs values", "")
	}
	if s.Chart != "histogram" && len(s.Labels) != len(s.Values) {
		return invalidSpec(fmt.Sprintf("stat_chart has %d labels for %d values", len(s.Labels), len(s.Values)), "give one label per value")
	}
	if s.Chart == "pie" {
		for _, v := range s.Values {
			if v < 0 {
				return invalidSpec("pie chart values must not be negative", "")
			}
		}
	}
	return nil
}

// SceneImage is an illustration described in words.
type SceneImage struct {
	Description string `mapstructure:"description" json:"description"`
	Style       string `mapstructure:"style"       json:"style,omitempty"`
	Width       int    `mapstructure:"width"       json:"width,omitempty"`
	Height      int    `mapstructure:"height"      json:"height,omitempty"`
}

func (SceneImage) Type() string { return TypeSceneImage }
func (SceneImage) Tool() string { return ToolImage }

func (s SceneImage) Validate() error {
	if strings.TrimSpace(s.Description) == "" {
		return invalidSpec("scene_image needs a description", "")
	}
	if s.Width < 0 || s.Height < 0 || s.Width > 4096 || s.Height > 4096 {
		return invalidSpec("scene_image size out of range", "keep width and height within 0..4096")
	}
	return nil
}

// DecodeFigure builds and validates the figure variant named by spec.Type.
func DecodeFigure(spec content.FigureSpec) (Figure, error) {
	var fig Figure
	switch spec.Type {
	case TypeFunctionPlot:
		fig = &FunctionPlot{}
	case TypeGeometryPlot:
		fig = &GeometryPlot{}
	case TypeCoordinatePlot:
		fig = &CoordinatePlot{}
	case TypeStatChart:
		fig = &StatChart{}
	case TypeSceneImage:
		fig = &SceneImage{}
	default:
		return nil, invalidSpec(fmt.Sprintf("unknown figure type %q", spec.Type),
			"use one of function_plot, geometry_plot, coordinate_plot, stat_chart, scene_image")
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           fig,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create figure decoder: %w", err)
	}
	if err := dec.Decode(spec.Data); err != nil {
		return nil, invalidSpec(fmt.Sprintf("decode %s: %v", spec.Type, err), "")
	}
	fig = deref(fig)
	if err := fig.Validate(); err != nil {
		return nil, err
	}
	return fig, nil
}

func deref(fig Figure) Figure {
	switch f := fig.(type) {
	case *FunctionPlot:
		return *f
	case *GeometryPlot:
		return *f
	case *CoordinatePlot:
		return *f
	case *StatChart:
		return *f
	case *SceneImage:
		return *f
	}
	return fig
}
