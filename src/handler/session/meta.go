package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Meta is the serialized session description persisted as meta.json next to
// the output log. It is written at creation and again at termination.
type Meta struct {
	SessionID   string            `json:"session_id"`
	Alias       string            `json:"alias,omitempty"`
	Argv        []string          `json:"argv"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	CreatedBy   string            `json:"created_by"`
	Visibility  string            `json:"visibility"`
	Interactive bool              `json:"interactive"`
	LoadHistory bool              `json:"load_history"`
	SaveHistory bool              `json:"save_history"`
	CreatedAt   time.Time         `json:"created_at"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
	ExitCode    *int              `json:"exit_code,omitempty"`
}

// writeMeta snapshots the session metadata atomically (tmp + rename) so a
// crash mid-write never leaves a torn meta.json.
func (s *Session) writeMeta() error {
	s.mu.Lock()
	meta := Meta{
		SessionID:   s.ID,
		Alias:       s.Alias,
		Argv:        s.Spec.Argv,
		Cwd:         s.Spec.Cwd,
		Env:         s.Spec.Env,
		CreatedBy:   s.CreatedBy,
		Visibility:  s.Spec.Visibility,
		Interactive: s.Spec.Interactive,
		LoadHistory: s.Spec.LoadHistory,
		SaveHistory: s.Spec.SaveHistory,
		CreatedAt:   s.createdAt,
	}
	if s.state == StateTerminated {
		ended := s.endedAt
		code := s.exitCode
		meta.EndedAt = &ended
		meta.ExitCode = &code
	}
	s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}

	path := filepath.Join(s.dir, "meta.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write meta: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename meta: %w", err)
	}
	return nil
}
