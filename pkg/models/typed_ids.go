package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	surrealdb_models "github.com/surrealdb/surrealdb.go/pkg/models"
)

// NoteID is a typed ID for notes. It marshals as a plain UUID string in JSON
// (the wire and file format), as a RecordID in CBOR (SurrealDB), and as a
// string in SQL databases.
type NoteID struct {
	uuid uuid.UUID
}

func NewNoteID() NoteID {
	return NoteID{uuid: uuid.New()}
}

func ParseNoteID(s string) (NoteID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NoteID{}, fmt.Errorf("invalid note ID: %w", err)
	}
	return NoteID{uuid: id}, nil
}

func (n NoteID) UUID() uuid.UUID { return n.uuid }
func (n NoteID) String() string  { return n.uuid.String() }
func (n NoteID) IsZero() bool    { return n.uuid == uuid.Nil }

func (n NoteID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{
		Table: "note",
		ID:    n.uuid.String(),
	}
}

func (n NoteID) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.uuid.String())
}

func (n *NoteID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	n.uuid = id
	return nil
}

func (n NoteID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(n.RecordID())
}

func (n *NoteID) UnmarshalCBOR(data []byte) error {
	var rid surrealdb_models.RecordID
	if err := cbor.Unmarshal(data, &rid); err == nil {
		if s, ok := rid.ID.(string); ok {
			id, err := uuid.Parse(s)
			if err != nil {
				return err
			}
			n.uuid = id
			return nil
		}
	}
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	n.uuid = id
	return nil
}

// Value implements driver.Valuer for SQL storage
func (n NoteID) Value() (driver.Value, error) {
	return n.uuid.String(), nil
}

// Scan implements sql.Scanner for SQL retrieval
func (n *NoteID) Scan(value any) error {
	switch v := value.(type) {
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		n.uuid = id
		return nil
	case []byte:
		id, err := uuid.Parse(string(v))
		if err != nil {
			return err
		}
		n.uuid = id
		return nil
	default:
		return fmt.Errorf("cannot scan %T into NoteID", value)
	}
}

// ReplyID is a typed ID for replies
type ReplyID struct {
	uuid uuid.UUID
}

func NewReplyID() ReplyID {
	return ReplyID{uuid: uuid.New()}
}

func ParseReplyID(s string) (ReplyID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ReplyID{}, fmt.Errorf("invalid reply ID: %w", err)
	}
	return ReplyID{uuid: id}, nil
}

func (r ReplyID) UUID() uuid.UUID { return r.uuid }
func (r ReplyID) String() string  { return r.uuid.String() }
func (r ReplyID) IsZero() bool    { return r.uuid == uuid.Nil }

func (r ReplyID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{
		Table: "reply",
		ID:    r.uuid.String(),
	}
}

func (r ReplyID) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.uuid.String())
}

func (r *ReplyID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	r.uuid = id
	return nil
}

func (r ReplyID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(r.RecordID())
}

func (r *ReplyID) UnmarshalCBOR(data []byte) error {
	var rid surrealdb_models.RecordID
	if err := cbor.Unmarshal(data, &rid); err == nil {
		if s, ok := rid.ID.(string); ok {
			id, err := uuid.Parse(s)
			if err != nil {
				return err
			}
			r.uuid = id
			return nil
		}
	}
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	r.uuid = id
	return nil
}

func (r ReplyID) Value() (driver.Value, error) {
	return r.uuid.String(), nil
}

func (r *ReplyID) Scan(value any) error {
	switch v := value.(type) {
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		r.uuid = id
		return nil
	case []byte:
		id, err := uuid.Parse(string(v))
		if err != nil {
			return err
		}
		r.uuid = id
		return nil
	default:
		return fmt.Errorf("cannot scan %T into ReplyID", value)
	}
}
