package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalagman/lessonloop/internal/content"
	"github.com/metalagman/lessonloop/internal/db"
	"github.com/metalagman/lessonloop/internal/merge"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	docs map[string]db.StoredDocument
	runs []db.RunInfo
}

func (f *fakeStore) ListDocuments(context.Context) ([]db.DocumentInfo, error) {
	var out []db.DocumentInfo
	for _, d := range f.docs {
		out = append(out, d.DocumentInfo)
	}
	return out, nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (db.StoredDocument, error) {
	d, ok := f.docs[id]
	if !ok {
		return db.StoredDocument{}, fmt.Errorf("document %s: %w", id, db.ErrNotFound)
	}
	return d, nil
}

func (f *fakeStore) ListRuns(_ context.Context, documentID string, _ int) ([]db.RunInfo, error) {
	var out []db.RunInfo
	for _, r := range f.runs {
		if documentID == "" || r.DocumentID == documentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, figuresDir string) *httptest.Server {
	t.Helper()
	doc := merge.Document{
		ID:    "quiz",
		Title: "Fractions <quiz>",
		Sections: []merge.Section{{
			Title: "Basics",
			Items: []content.Item{{Number: 1, Kind: "short_answer", Prompt: "What is 1/2 + 1/4?", Answer: "3/4"}},
		}},
		Summary: merge.Summary{TotalItems: 1},
	}
	md := doc.Markdown() + "\n![figure 1](" + filepath.Join(figuresDir, "quiz", "u01", "i01-item01.png") + ")\n<script>alert(1)</script>\n"
	store := &fakeStore{
		docs: map[string]db.StoredDocument{
			"quiz": {
				DocumentInfo: db.DocumentInfo{ID: "quiz", Title: doc.Title, Kind: "exam_paper", Score: 0.91, TotalItems: 1, UpdatedAt: time.Now()},
				Document:     doc,
				Markdown:     md,
			},
		},
		runs: []db.RunInfo{{RunID: "20260101-000000-abcdef", DocumentID: "quiz", Status: db.StatusAccepted, Passes: 2, BestScore: 0.91}},
	}
	srv, err := NewServer(zerolog.Nop(), store, figuresDir)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestIndexAndRuns(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, t.TempDir())

	code, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `href="/documents/quiz"`)
	assert.Contains(t, body, "Fractions &lt;quiz&gt;")
	assert.Contains(t, body, "0.91")

	code, body = get(t, ts.URL+"/runs?document=quiz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "20260101-000000-abcdef")
}

func TestDocumentPage(t *testing.T) {
	t.Parallel()

	figures := t.TempDir()
	ts := newTestServer(t, figures)

	code, body := get(t, ts.URL+"/documents/quiz")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "<h2>Basics</h2>")
	assert.Contains(t, body, `src="/figures/quiz/u01/i01-item01.png"`)
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "best 0.91")

	code, body = get(t, ts.URL+"/documents/quiz/json")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"id":"quiz"`)

	code, body = get(t, ts.URL+"/documents/quiz/markdown")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "## Answer key")

	code, _ = get(t, ts.URL+"/documents/missing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFigures(t *testing.T) {
	t.Parallel()

	figures := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(figures, "quiz", "u01"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(figures, "quiz", "u01", "i01-item01.png"), []byte("png"), 0o644))
	ts := newTestServer(t, figures)

	code, body := get(t, ts.URL+"/figures/quiz/u01/i01-item01.png")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "png", body)
}
