// Package sqlitestore implements the local-embedded-db backend on SQLite via
// GORM. The schema mirrors the collaboration server's relational layout:
// notes, replies and projects tables, with (project, file, line) deliberately
// not unique — duplicates are classified by the collision resolver, never
// rejected by the database.
package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/h0pes/screw.nvim-sub001/pkg/models"
	"github.com/h0pes/screw.nvim-sub001/pkg/store"
)

// Project is a bookkeeping row for each workspace seen by this database.
type Project struct {
	Name      string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Project) TableName() string { return "projects" }

// Store is the embedded relational backend.
type Store struct {
	path    string
	project string
	logger  zerolog.Logger
	db      *gorm.DB
}

var _ store.Store = (*Store)(nil)

func New(path, projectName string, logger zerolog.Logger) *Store {
	return &Store{
		path:    path,
		project: projectName,
		logger:  logger.With().Str("store", "sqlite").Logger(),
	}
}

func (s *Store) Kind() store.Kind { return store.KindLocalDB }

// Connect opens the database file and migrates the schema. Idempotent.
func (s *Store) Connect(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("sqlitestore: mkdir %s: %w", dir, err)
		}
	}
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("sqlitestore: open %s: %w", s.path, err)
	}
	if err := db.AutoMigrate(&Project{}, &models.Note{}, &models.Reply{}); err != nil {
		return fmt.Errorf("sqlitestore: migrate schema: %w", err)
	}
	if err := db.WithContext(ctx).
		Where(Project{Name: s.project}).
		FirstOrCreate(&Project{Name: s.project}).Error; err != nil {
		return fmt.Errorf("sqlitestore: register project: %w", err)
	}
	s.db = db
	s.logger.Debug().Str("path", s.path).Msg("connected")
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.db = nil
	return sqlDB.Close()
}

func (s *Store) LoadAll(ctx context.Context) ([]*models.Note, error) {
	if s.db == nil {
		return nil, store.ErrNotConnected
	}
	var notes []*models.Note
	err := s.db.WithContext(ctx).
		Preload("Replies").
		Where("project_name = ?", s.project).
		Find(&notes).Error
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load notes: %w", err)
	}
	return notes, nil
}

func (s *Store) Save(ctx context.Context, note *models.Note) error {
	if s.db == nil {
		return store.ErrNotConnected
	}
	if err := note.Validate(); err != nil {
		return fmt.Errorf("sqlitestore: %w", err)
	}

	stored := note.Clone()
	if stored.ProjectName == "" {
		stored.ProjectName = s.project
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Note
		err := tx.First(&existing, "id = ?", stored.ID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Omit("Replies").Create(stored).Error; err != nil {
				return fmt.Errorf("sqlitestore: insert note: %w", err)
			}
		case err != nil:
			return fmt.Errorf("sqlitestore: lookup note: %w", err)
		default:
			stored.Timestamp = existing.Timestamp
			stored.Author = existing.Author
			stored.Version = existing.Version
			stored.Touch(time.Now())
			if err := tx.Omit("Replies").Save(stored).Error; err != nil {
				return fmt.Errorf("sqlitestore: update note: %w", err)
			}
		}

		// Replies are owned by the note: replace the set wholesale.
		if err := tx.Where("parent_id = ?", stored.ID).Delete(&models.Reply{}).Error; err != nil {
			return fmt.Errorf("sqlitestore: clear replies: %w", err)
		}
		for i := range stored.Replies {
			r := stored.Replies[i]
			r.ParentID = stored.ID
			if err := tx.Create(&r).Error; err != nil {
				return fmt.Errorf("sqlitestore: insert reply: %w", err)
			}
		}
		// Reflect server-assigned mutations back to the caller's note.
		note.UpdatedAt = stored.UpdatedAt
		note.Version = stored.Version
		return nil
	})
}

// Delete removes the note and cascades to its replies. Unknown ids are a
// no-op success.
func (s *Store) Delete(ctx context.Context, id models.NoteID) error {
	if s.db == nil {
		return store.ErrNotConnected
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("parent_id = ?", id).Delete(&models.Reply{}).Error; err != nil {
			return fmt.Errorf("sqlitestore: delete replies: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Note{}).Error; err != nil {
			return fmt.Errorf("sqlitestore: delete note: %w", err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id models.NoteID) (*models.Note, error) {
	if s.db == nil {
		return nil, store.ErrNotConnected
	}
	var note models.Note
	err := s.db.WithContext(ctx).Preload("Replies").First(&note, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get note: %w", err)
	}
	return &note, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, store.ErrNotConnected
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Note{}).
		Where("project_name = ?", s.project).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: count notes: %w", err)
	}
	return int(count), nil
}
