// Package web serves stored documents over HTTP.
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/metalagman/lessonloop/internal/db"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Store is the read side of the document store.
type Store interface {
	ListDocuments(ctx context.Context) ([]db.DocumentInfo, error)
	GetDocument(ctx context.Context, id string) (db.StoredDocument, error)
	ListRuns(ctx context.Context, documentID string, limit int) ([]db.RunInfo, error)
}

// Server provides the web handlers.
type Server struct {
	store      Store
	figuresDir string
	tmpl       *template.Template
	md         goldmark.Markdown
	logger     zerolog.Logger
}

//go:embed templates/*.html
var templatesFS embed.FS

// NewServer creates a server. Figures below figuresDir are served under
// /figures/.
func NewServer(logger zerolog.Logger, store Store, figuresDir string) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Server{
		store:      store,
		figuresDir: figuresDir,
		tmpl:       tmpl,
		md:         goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)),
		logger:     logger.With().Str("component", "web").Logger(),
	}, nil
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /documents/{id}", s.handleDocument)
	mux.HandleFunc("GET /documents/{id}/json", s.handleDocumentJSON)
	mux.HandleFunc("GET /documents/{id}/markdown", s.handleDocumentMarkdown)
	mux.HandleFunc("GET /runs", s.handleRuns)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if s.figuresDir != "" {
		mux.Handle("GET /figures/", http.StripPrefix("/figures/", http.FileServer(http.Dir(s.figuresDir))))
	}
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.render(w, "index.html", docs)
}

type documentPage struct {
	db.DocumentInfo
	Body template.HTML
	Runs []db.RunInfo
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(s.linkFigures(doc.Markdown)), &buf); err != nil {
		s.fail(w, fmt.Errorf("convert markdown: %w", err))
		return
	}
	runs, err := s.store.ListRuns(r.Context(), doc.ID, 10)
	if err != nil {
		s.fail(w, err)
		return
	}
	// goldmark omits raw HTML from the source.
	s.render(w, "document.html", documentPage{DocumentInfo: doc.DocumentInfo, Body: template.HTML(buf.String()), Runs: runs})
}

func (s *Server) handleDocumentJSON(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	body, err := doc.Document.JSON()
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handleDocumentMarkdown(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(doc.Markdown))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), r.URL.Query().Get("document"), 100)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.render(w, "runs.html", runs)
}

// linkFigures points image links below the figure directory at /figures/.
func (s *Server) linkFigures(md string) string {
	if s.figuresDir == "" {
		return md
	}
	prefix := "](" + filepath.ToSlash(filepath.Clean(s.figuresDir)) + "/"
	return strings.ReplaceAll(md, prefix, "](/figures/")
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.logger.Error().Err(err).Msg("request failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
