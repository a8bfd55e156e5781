package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validNote() *Note {
	return &Note{
		ID:          NewNoteID(),
		FilePath:    "src/auth/login.go",
		LineNumber:  42,
		Author:      "marco",
		Timestamp:   time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Comment:     "password compared without constant-time equality",
		State:       StateVulnerable,
		Severity:    SeverityHigh,
		CWE:         "CWE-208",
		Source:      SourceNative,
		ProjectName: "audit",
		Version:     1,
	}
}

func TestNoteValidate(t *testing.T) {
	t.Run("valid note", func(t *testing.T) {
		assert.NoError(t, validNote().Validate())
	})

	t.Run("severity required when vulnerable", func(t *testing.T) {
		n := validNote()
		n.Severity = ""
		err := n.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "severity is required")
	})

	t.Run("severity optional otherwise", func(t *testing.T) {
		n := validNote()
		n.State = StateTodo
		n.Severity = ""
		assert.NoError(t, n.Validate())
	})

	t.Run("rejects malformed CWE", func(t *testing.T) {
		for _, cwe := range []string{"208", "cwe-208", "CWE-", "CWE-79x"} {
			n := validNote()
			n.CWE = cwe
			assert.Error(t, n.Validate(), "cwe %q", cwe)
		}
	})

	t.Run("accepts empty CWE", func(t *testing.T) {
		n := validNote()
		n.CWE = ""
		assert.NoError(t, n.Validate())
	})

	t.Run("rejects non-positive line", func(t *testing.T) {
		n := validNote()
		n.LineNumber = 0
		assert.Error(t, n.Validate())
		n.LineNumber = -3
		assert.Error(t, n.Validate())
	})

	t.Run("rejects unknown state", func(t *testing.T) {
		n := validNote()
		n.State = "maybe"
		assert.Error(t, n.Validate())
	})

	t.Run("rejects zero id", func(t *testing.T) {
		n := validNote()
		n.ID = NoteID{}
		assert.Error(t, n.Validate())
	})

	t.Run("validates embedded replies", func(t *testing.T) {
		n := validNote()
		n.Replies = []Reply{{ID: NewReplyID(), ParentID: n.ID, Author: "sara", Comment: ""}}
		err := n.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reply 0")
	})
}

func TestNoteTouch(t *testing.T) {
	n := validNote()
	require.Nil(t, n.UpdatedAt)
	require.Equal(t, 1, n.Version)

	now := time.Date(2025, 6, 2, 9, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	n.Touch(now)

	require.NotNil(t, n.UpdatedAt)
	assert.Equal(t, now.UTC(), *n.UpdatedAt)
	assert.Equal(t, time.UTC, n.UpdatedAt.Location())
	assert.Equal(t, 2, n.Version)
}

func TestNoteIsImported(t *testing.T) {
	n := validNote()
	assert.False(t, n.IsImported())

	n.Source = SourceSARIFImport
	assert.True(t, n.IsImported())

	// Source defaulting to empty counts as native.
	n.Source = ""
	assert.False(t, n.IsImported())
}

func TestNoteClone(t *testing.T) {
	n := validNote()
	n.Touch(time.Now())
	n.ImportMeta = &ImportMetadata{Tool: "semgrep", RuleID: "go.lang.security.audit"}
	n.Replies = []Reply{{ID: NewReplyID(), ParentID: n.ID, Author: "sara", Comment: "agreed", Timestamp: time.Now()}}

	c := n.Clone()
	require.Equal(t, n, c)

	c.Replies[0].Comment = "changed"
	c.ImportMeta.Tool = "gosec"
	*c.UpdatedAt = time.Time{}

	assert.Equal(t, "agreed", n.Replies[0].Comment)
	assert.Equal(t, "semgrep", n.ImportMeta.Tool)
	assert.False(t, n.UpdatedAt.IsZero())
}

func TestNoteJSONWireFormat(t *testing.T) {
	n := validNote()
	n.ImportMeta = &ImportMetadata{Tool: "semgrep", RuleID: "rule-1"}

	data, err := json.Marshal(n)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	assert.Contains(t, m, "file_path")
	assert.Contains(t, m, "line_number")
	assert.Contains(t, m, "import_metadata")
	assert.Contains(t, m, "project_name")
	assert.Equal(t, n.ID.String(), m["id"])
	assert.NotContains(t, m, "updated_at", "omitted until first update")

	var back Note
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, n.ID, back.ID)
	assert.Equal(t, n.CWE, back.CWE)
	assert.Equal(t, "semgrep", back.ImportMeta.Tool)
}

func TestTypedIDs(t *testing.T) {
	t.Run("parse round trip", func(t *testing.T) {
		id := NewNoteID()
		parsed, err := ParseNoteID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseNoteID("not-a-uuid")
		assert.Error(t, err)
	})

	t.Run("zero detection", func(t *testing.T) {
		assert.True(t, NoteID{}.IsZero())
		assert.False(t, NewNoteID().IsZero())
	})

	t.Run("record id tables", func(t *testing.T) {
		nid := NewNoteID()
		rid := nid.RecordID()
		assert.Equal(t, "note", rid.Table)
		assert.Equal(t, nid.String(), rid.ID)

		rrid := NewReplyID().RecordID()
		assert.Equal(t, "reply", rrid.Table)
	})
}
