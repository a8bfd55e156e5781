// Package models defines the security-review note data model shared by every
// storage backend. JSON field names match the collaboration server's wire
// format, so the HTTP backend and the local JSON document use one
// serialization.
package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// NoteState classifies a reviewed line
type NoteState string

const (
	StateVulnerable    NoteState = "vulnerable"
	StateNotVulnerable NoteState = "not_vulnerable"
	StateTodo          NoteState = "todo"
)

func (s NoteState) Valid() bool {
	switch s {
	case StateVulnerable, StateNotVulnerable, StateTodo:
		return true
	}
	return false
}

// Severity grades a vulnerable finding
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityInfo   Severity = "info"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Source tags where a note came from
const (
	SourceNative      = "native"
	SourceSARIFImport = "sarif-import"
)

var cweRe = regexp.MustCompile(`^CWE-\d+$`)

// ImportMetadata is present only on imported notes
type ImportMetadata struct {
	Tool       string `json:"tool" gorm:"column:tool"`
	File       string `json:"file,omitempty" gorm:"column:file"`
	RuleID     string `json:"rule_id,omitempty" gorm:"column:rule_id"`
	Confidence string `json:"confidence,omitempty" gorm:"column:confidence"`
}

// Reply is a threaded comment owned by exactly one note. Deleting the note
// cascades to its replies.
type Reply struct {
	ID        ReplyID   `json:"id" gorm:"type:text;primaryKey"`
	ParentID  NoteID    `json:"parent_id" gorm:"type:text;not null;index"`
	Author    string    `json:"author" gorm:"not null"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment" gorm:"not null"`
	UserID    string    `json:"user_id,omitempty" gorm:"column:user_id"`
}

func (r *Reply) Validate() error {
	if r.Comment == "" {
		return errors.New("reply comment must not be empty")
	}
	if r.Author == "" {
		return errors.New("reply author must not be empty")
	}
	return nil
}

// Note is a security annotation attached to a source line. Identity and
// creation metadata are immutable after creation; updates refresh UpdatedAt
// and bump Version, nothing else touches them. Multiple notes may share one
// (file, line) location.
type Note struct {
	ID          NoteID          `json:"id" gorm:"type:text;primaryKey"`
	FilePath    string          `json:"file_path" gorm:"not null;index:idx_note_location"`
	LineNumber  int             `json:"line_number" gorm:"not null;index:idx_note_location"`
	Author      string          `json:"author" gorm:"not null"`
	Timestamp   time.Time       `json:"timestamp"`
	// Touch is the sole writer; gorm must not treat this as its own
	// auto-tracking column or creates would stamp it too.
	UpdatedAt   *time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime:false"`
	Comment     string          `json:"comment" gorm:"not null"`
	Description string          `json:"description,omitempty"`
	CWE         string          `json:"cwe,omitempty" gorm:"column:cwe"`
	State       NoteState       `json:"state" gorm:"not null"`
	Severity    Severity        `json:"severity,omitempty"`
	Source      string          `json:"source" gorm:"not null;default:native"`
	ImportMeta  *ImportMetadata `json:"import_metadata,omitempty" gorm:"embedded;embeddedPrefix:import_"`
	ProjectName string          `json:"project_name,omitempty" gorm:"index"`
	UserID      string          `json:"user_id,omitempty" gorm:"column:user_id"`
	Version     int             `json:"version" gorm:"not null;default:1"`
	Replies     []Reply         `json:"replies,omitempty" gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE"`
}

// Validate checks all field invariants. It is called by backends before
// persisting and by the server before accepting writes.
func (n *Note) Validate() error {
	if n.ID.IsZero() {
		return errors.New("note id must be set")
	}
	if n.FilePath == "" {
		return errors.New("note file_path must not be empty")
	}
	if n.LineNumber <= 0 {
		return fmt.Errorf("note line_number must be positive, got %d", n.LineNumber)
	}
	if n.Comment == "" {
		return errors.New("note comment must not be empty")
	}
	if n.Author == "" {
		return errors.New("note author must not be empty")
	}
	if !n.State.Valid() {
		return fmt.Errorf("invalid note state %q", n.State)
	}
	if n.State == StateVulnerable && n.Severity == "" {
		return errors.New("severity is required when state is vulnerable")
	}
	if n.Severity != "" && !n.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", n.Severity)
	}
	if n.CWE != "" && !cweRe.MatchString(n.CWE) {
		return fmt.Errorf("invalid CWE identifier %q, want CWE-<digits>", n.CWE)
	}
	for i := range n.Replies {
		if err := n.Replies[i].Validate(); err != nil {
			return fmt.Errorf("reply %d: %w", i, err)
		}
	}
	return nil
}

// IsImported reports whether the note came from an external importer rather
// than native creation.
func (n *Note) IsImported() bool {
	return n.Source != "" && n.Source != SourceNative
}

// Touch refreshes UpdatedAt and bumps the version counter. Backends call it
// on every upsert of an existing record.
func (n *Note) Touch(now time.Time) {
	t := now.UTC()
	n.UpdatedAt = &t
	n.Version++
}

// Clone returns a deep copy, so cached snapshots cannot be mutated through
// shared reply slices.
func (n *Note) Clone() *Note {
	c := *n
	if n.UpdatedAt != nil {
		t := *n.UpdatedAt
		c.UpdatedAt = &t
	}
	if n.ImportMeta != nil {
		m := *n.ImportMeta
		c.ImportMeta = &m
	}
	if n.Replies != nil {
		c.Replies = make([]Reply, len(n.Replies))
		copy(c.Replies, n.Replies)
	}
	return &c
}
