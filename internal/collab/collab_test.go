package collab

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/metalagman/lessonloop/internal/content"
	"github.com/metalagman/lessonloop/internal/errs"
	"github.com/metalagman/lessonloop/internal/llm"
	"github.com/metalagman/lessonloop/internal/merge"
	"github.com/metalagman/lessonloop/internal/quality"
	"github.com/metalagman/lessonloop/internal/render"
	"github.com/metalagman/lessonloop/internal/unit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	reply    string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeCompleter) Describe() llm.Info { return llm.Info{Type: "fake"} }

func testSpec() unit.Spec {
	return unit.Spec{
		ID:          "quiz/u02",
		DocumentID:  "quiz",
		Position:    2,
		StartNumber: 6,
		Section:     content.SectionSpec{Title: "Graphs", ItemKind: "short_answer", Count: 1, PointsEach: 4},
		Context:     content.DocumentContext{DocumentID: "quiz", Kind: content.KindExamPaper, Title: "Quiz", TotalUnits: 3},
	}
}

const artifactReply = `{"title":"Graphs","items":[{"number":6,"kind":"short_answer","points":4,"prompt":"Sketch y = 2x + 1","answer":"line through (0,1)"}],"summary":{"total_items":1,"total_points":4}}`

func TestGeneratorGenerate(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{reply: "Here you go:\n```json\n" + artifactReply + "\n```"}
	g := NewGenerator(zerolog.Nop(), fc)

	res, err := g.Generate(context.Background(), unit.Request{
		Spec:      testSpec(),
		Directive: unit.NewOverhaul([]string{"wrong topic"}, "start over"),
		Iteration: 2,
	})
	require.NoError(t, err)
	require.Len(t, res.Artifact.Items, 1)
	assert.Equal(t, "Sketch y = 2x + 1", res.Artifact.Items[0].Prompt)
	require.NotNil(t, res.Artifact.Reported)

	require.Len(t, fc.requests, 1)
	data, err := json.Marshal(fc.requests[0].Input)
	require.NoError(t, err)
	var input map[string]any
	require.NoError(t, json.Unmarshal(data, &input))
	assert.EqualValues(t, 2, input["iteration"])
	assert.Equal(t, "overhaul", input["directive"].(map[string]any)["kind"])
	assert.EqualValues(t, 6, input["unit"].(map[string]any)["start_number"])
	assert.Equal(t, artifactSchema, fc.requests[0].OutputSchema)
}

func TestGeneratorErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fc   *fakeCompleter
		code string
	}{
		{name: "transport", fc: &fakeCompleter{err: errors.New("503")}},
		{name: "not json", fc: &fakeCompleter{reply: "I cannot help with that."}, code: codeProtocol},
		{name: "schema mismatch", fc: &fakeCompleter{reply: `{"items":[{"kind":"mc"}]}`}, code: codeProtocol},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewGenerator(zerolog.Nop(), tc.fc).Generate(context.Background(), unit.Request{Spec: testSpec(), Iteration: 1})
			var collabErr *errs.CollaboratorError
			require.ErrorAs(t, err, &collabErr)
			assert.Equal(t, roleGenerator, collabErr.Role)
			assert.Equal(t, tc.code, collabErr.Code)
		})
	}
}

func TestCriticCritique(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{reply: `{"decision":"refine","final_score":0.83,"dimension_scores":{"accuracy":0.9,"alignment":0.8,"clarity":0.8,"format":0.8},"specific_changes":["label the axes"]}`}
	c := NewCritic(zerolog.Nop(), fc, quality.DefaultSchedule())

	crit, err := c.Critique(context.Background(), content.Artifact{Items: []content.Item{{Kind: "x", Prompt: "y"}}}, testSpec(), 3)
	require.NoError(t, err)
	assert.Equal(t, quality.DecisionRefine, crit.Decision)
	assert.InDelta(t, 0.83, crit.FinalScore, 1e-9)
	assert.Equal(t, []string{"label the axes"}, crit.SpecificChanges)
	assert.Contains(t, fc.requests[0].Instructions, "0.80")
}

func TestCriticProtocolErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
	}{
		{name: "unknown decision", reply: `{"decision":"MAYBE","final_score":0.5}`},
		{name: "score out of range", reply: `{"decision":"ACCEPT","final_score":1.5}`},
		{name: "missing score", reply: `{"decision":"ACCEPT"}`},
		{name: "missing dimension scores", reply: `{"decision":"ACCEPT","final_score":0.9}`},
		{name: "missing one dimension", reply: `{"decision":"ACCEPT","final_score":0.9,"dimension_scores":{"accuracy":0.9,"alignment":0.9,"clarity":0.9}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := NewCritic(zerolog.Nop(), &fakeCompleter{reply: tc.reply}, quality.DefaultSchedule())
			_, err := c.Critique(context.Background(), content.Artifact{}, testSpec(), 1)
			var collabErr *errs.CollaboratorError
			require.ErrorAs(t, err, &collabErr)
			assert.Equal(t, codeProtocol, collabErr.Code)
		})
	}
}

func TestCriticTransportErrorIsCollaboratorError(t *testing.T) {
	t.Parallel()

	c := NewCritic(zerolog.Nop(), &fakeCompleter{err: context.DeadlineExceeded}, quality.DefaultSchedule())
	_, err := c.Critique(context.Background(), content.Artifact{}, testSpec(), 1)
	require.ErrorIs(t, err, errs.ErrCollaborator)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDocumentCritic(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{reply: `{"decision":"ACCEPT_WITH_NOTES","final_score":0.9,"dimension_scores":{"accuracy":0.9,"alignment":0.9,"clarity":0.9,"format":0.9},"notes":"fine"}`}
	c := NewDocumentCritic(zerolog.Nop(), fc, quality.DefaultSchedule())

	crit, err := c.CritiqueDocument(context.Background(), merge.Document{ID: "quiz", Title: "Quiz"}, 1)
	require.NoError(t, err)
	assert.Equal(t, quality.DecisionAcceptWithNotes, crit.Decision)

	data, err := json.Marshal(fc.requests[0].Input)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"document":{"id":"quiz"`)
}

type stubGenerator struct {
	res unit.Result
}

func (s stubGenerator) Generate(context.Context, unit.Request) (unit.Result, error) {
	return s.res, nil
}

type stubRenderer struct {
	targets []string
	err     error
}

func (s *stubRenderer) Render(_ context.Context, fig render.Figure, target string) (render.Image, error) {
	s.targets = append(s.targets, target)
	if s.err != nil {
		return render.Image{}, s.err
	}
	return render.Image{Path: "/figures/" + target, Type: fig.Type()}, nil
}

func figureResult() unit.Result {
	return unit.Result{Artifact: content.Artifact{Items: []content.Item{
		{Kind: "short_answer", Prompt: "no figure"},
		{Kind: "short_answer", Prompt: "with figure", Figure: &content.FigureSpec{
			Type: render.TypeStatChart,
			Data: map[string]any{"chart": "bar", "labels": []any{"a", "b"}, "values": []any{1, 2}},
		}},
	}}}
}

func TestFigureStageRendersFigures(t *testing.T) {
	t.Parallel()

	r := &stubRenderer{}
	stage := NewFigureStage(stubGenerator{res: figureResult()}, r)

	res, err := stage.Generate(context.Background(), unit.Request{Spec: testSpec(), Iteration: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"quiz/u02/i02-item02.png"}, r.targets)
	assert.Empty(t, res.Artifact.Items[0].Image)
	assert.Equal(t, "/figures/quiz/u02/i02-item02.png", res.Artifact.Items[1].Image)
}

func TestFigureStageFailures(t *testing.T) {
	t.Parallel()

	t.Run("renderer unavailable", func(t *testing.T) {
		t.Parallel()
		r := &stubRenderer{err: &render.Error{Code: render.CodeUnavailable, Message: "no plot tool"}}
		_, err := NewFigureStage(stubGenerator{res: figureResult()}, r).Generate(context.Background(), unit.Request{Spec: testSpec(), Iteration: 1})
		var collabErr *errs.CollaboratorError
		require.ErrorAs(t, err, &collabErr)
		assert.Equal(t, "renderer", collabErr.Role)
		assert.Equal(t, render.CodeUnavailable, collabErr.Code)
	})

	t.Run("invalid figure spec", func(t *testing.T) {
		t.Parallel()
		res := figureResult()
		res.Artifact.Items[1].Figure.Data["chart"] = "radar"
		r := &stubRenderer{}
		_, err := NewFigureStage(stubGenerator{res: res}, r).Generate(context.Background(), unit.Request{Spec: testSpec(), Iteration: 1})
		var collabErr *errs.CollaboratorError
		require.ErrorAs(t, err, &collabErr)
		assert.Equal(t, render.CodeInvalidSpec, collabErr.Code)
		assert.Empty(t, r.targets)
	})
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	got, ok := extractJSON([]byte("prefix {\"a\":{\"b\":1}} suffix"))
	require.True(t, ok)
	assert.Equal(t, `{"a":{"b":1}}`, string(got))

	_, ok = extractJSON([]byte("no json here"))
	assert.False(t, ok)
}
