// Package config provides configuration loading and management for lessonloop.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/metalagman/lessonloop/internal/quality"
)

// Collaborator backend types.
const (
	TypeOpenAI = "openai"
	TypeGemini = "gemini"
	TypeExec   = "exec"
)

// Dir is the project directory holding config, database, locks and figures.
const Dir = ".lessonloop"

// Config is the root configuration.
type Config struct {
	Collaborators Collaborators   `json:"collaborators" mapstructure:"collaborators"`
	Renderer      RendererConfig  `json:"renderer"      mapstructure:"renderer"`
	Budgets       Budgets         `json:"budgets"       mapstructure:"budgets"`
	Thresholds    Thresholds      `json:"thresholds"    mapstructure:"thresholds"`
	Retention     RetentionPolicy `json:"retention"     mapstructure:"retention"`
}

// Collaborators names the backend of every collaborator role.
type Collaborators struct {
	Generator      CollaboratorConfig `json:"generator"       mapstructure:"generator"`
	Critic         CollaboratorConfig `json:"critic"          mapstructure:"critic"`
	DocumentCritic CollaboratorConfig `json:"document_critic" mapstructure:"document_critic"`
}

// CollaboratorConfig describes how to reach one model backend.
type CollaboratorConfig struct {
	Type      string        `json:"type"                  mapstructure:"type"`
	Model     string        `json:"model,omitempty"       mapstructure:"model"`
	BaseURL   string        `json:"base_url,omitempty"    mapstructure:"base_url"`
	APIKey    string        `json:"api_key,omitempty"     mapstructure:"api_key"`
	APIKeyEnv string        `json:"api_key_env,omitempty" mapstructure:"api_key_env"`
	Cmd       []string      `json:"cmd,omitempty"         mapstructure:"cmd"`
	UseTTY    *bool         `json:"use_tty,omitempty"     mapstructure:"use_tty"`
	Timeout   time.Duration `json:"timeout,omitempty"     mapstructure:"timeout"`
}

// RendererConfig configures figure rendering.
type RendererConfig struct {
	// Commands maps a render tool (plot, image) to the command run for it.
	Commands  map[string][]string `json:"commands,omitempty"   mapstructure:"commands"`
	Timeout   time.Duration       `json:"timeout,omitempty"    mapstructure:"timeout"`
	OutputDir string              `json:"output_dir,omitempty" mapstructure:"output_dir"`
}

// Budgets defines run limits.
type Budgets struct {
	MaxIterations         int           `json:"max_iterations"                    mapstructure:"max_iterations"`
	MaxDocumentIterations int           `json:"max_document_iterations"           mapstructure:"max_document_iterations"`
	MaxConcurrency        int           `json:"max_concurrency,omitempty"         mapstructure:"max_concurrency"`
	CallTimeout           time.Duration `json:"call_timeout,omitempty"            mapstructure:"call_timeout"`
}

// Thresholds overrides the acceptance schedule.
type Thresholds struct {
	Schedule []float64 `json:"schedule,omitempty" mapstructure:"schedule"`
	Floor    *float64  `json:"floor,omitempty"    mapstructure:"floor"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// Validate checks semantic constraints the schema cannot express.
func (c Config) Validate() error {
	if c.Budgets.MaxIterations <= 0 {
		return fmt.Errorf("budgets.max_iterations must be > 0")
	}
	if c.Budgets.MaxDocumentIterations <= 0 {
		return fmt.Errorf("budgets.max_document_iterations must be > 0")
	}
	if c.Budgets.MaxConcurrency < 0 {
		return fmt.Errorf("budgets.max_concurrency must be >= 0")
	}
	roles := map[string]CollaboratorConfig{
		"generator":       c.Collaborators.Generator,
		"critic":          c.Collaborators.Critic,
		"document_critic": c.Collaborators.DocumentCritic,
	}
	for _, role := range []string{"generator", "critic", "document_critic"} {
		if err := roles[role].validate(); err != nil {
			return fmt.Errorf("collaborators.%s: %w", role, err)
		}
	}
	if _, err := c.Thresholds.Build(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	return nil
}

func (c CollaboratorConfig) validate() error {
	switch c.Type {
	case TypeOpenAI, TypeGemini:
		if c.Model == "" {
			return fmt.Errorf("%s backend requires model", c.Type)
		}
	case TypeExec:
		if len(c.Cmd) == 0 {
			return fmt.Errorf("exec backend requires cmd")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown type %q", c.Type)
	}
	return nil
}

// TTY reports whether an exec backend should run under a pseudo terminal.
func (c CollaboratorConfig) TTY() bool {
	return c.UseTTY != nil && *c.UseTTY
}

// Build returns the acceptance schedule, falling back to the defaults for
// unset parts.
func (t Thresholds) Build() (quality.Schedule, error) {
	table := t.Schedule
	if len(table) == 0 {
		table = quality.DefaultTable
	}
	floor := min(quality.DefaultFloor, table[len(table)-1])
	if t.Floor != nil {
		floor = *t.Floor
	}
	return quality.NewSchedule(table, floor)
}

// FigureDir returns the directory rendered figures are written to.
func (r RendererConfig) FigureDir(root string) string {
	dir := r.OutputDir
	if dir == "" {
		dir = filepath.Join(Dir, "figures")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return dir
}

// Default returns the configuration installed by `lessonloop init`.
func Default() map[string]any {
	return map[string]any{
		"collaborators": map[string]any{
			"generator":       map[string]any{"type": TypeOpenAI, "model": "gpt-5-mini", "api_key_env": "OPENAI_API_KEY", "timeout": "3m"},
			"critic":          map[string]any{"type": TypeGemini, "model": "gemini-2.5-flash", "api_key_env": "GEMINI_API_KEY", "timeout": "2m"},
			"document_critic": map[string]any{"type": TypeGemini, "model": "gemini-2.5-pro", "api_key_env": "GEMINI_API_KEY", "timeout": "3m"},
		},
		"renderer": map[string]any{
			"commands": map[string]any{
				"plot":  []string{"python3", "-m", "lessonloop_plot"},
				"image": []string{"python3", "-m", "lessonloop_image"},
			},
			"timeout":    "1m",
			"output_dir": filepath.Join(Dir, "figures"),
		},
		"budgets": map[string]any{
			"max_iterations":          5,
			"max_document_iterations": 3,
			"max_concurrency":         4,
			"call_timeout":            "5m",
		},
		"thresholds": map[string]any{
			"schedule": quality.DefaultTable,
			"floor":    quality.DefaultFloor,
		},
		"retention": map[string]any{
			"keep_last": 50,
			"keep_days": 30,
		},
	}
}
