// Package server implements the screwnoted collaboration server: the shared
// HTTP store that network-http sessions talk to. Routes, payload shapes and
// edge behaviors (uuid assignment on create, updated_at refresh on update,
// cascade reply deletes, 404 semantics) match the REST API the clients
// expect.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/h0pes/screw.nvim-sub001/pkg/models"
)

// Open connects to the backing PostgreSQL database.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("server: connect to database: %w", err)
	}
	return db, nil
}

// Project is a bookkeeping row per known project.
type Project struct {
	Name      string    `gorm:"primaryKey" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Project) TableName() string { return "projects" }

// Server holds the router and store for one screwnoted instance.
type Server struct {
	db     *gorm.DB
	router *mux.Router
	logger zerolog.Logger
}

// New migrates the schema and wires the routes.
func New(db *gorm.DB, logger zerolog.Logger) (*Server, error) {
	if err := db.AutoMigrate(&Project{}, &models.Note{}, &models.Reply{}); err != nil {
		return nil, fmt.Errorf("server: migrate schema: %w", err)
	}

	s := &Server{
		db:     db,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "server").Logger(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.logRequests)

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// The literal "note" segment must register before the project-scoped
	// routes so note lookups don't match as a project named "note".
	api.HandleFunc("/notes/note/{id}", s.handleGetNote).Methods(http.MethodGet)

	api.HandleFunc("/notes", s.handleCreateNote).Methods(http.MethodPost)
	api.HandleFunc("/notes/{id}", s.handleUpdateNote).Methods(http.MethodPut)
	api.HandleFunc("/notes/{parent_id}/replies", s.handleCreateReply).Methods(http.MethodPost)

	api.HandleFunc("/notes/{project}", s.handleProjectNotes).Methods(http.MethodGet)
	api.HandleFunc("/notes/{project}/file", s.handleFileNotes).Methods(http.MethodGet)
	api.HandleFunc("/notes/{project}/line", s.handleLineNotes).Methods(http.MethodGet)
	api.HandleFunc("/notes/{project}/replace", s.handleReplaceAll).Methods(http.MethodPut)

	// DELETE /notes/{x} is ambiguous between a note id and a project name;
	// the handler disambiguates by trying the note id first, as the
	// original server's URL space implies.
	api.HandleFunc("/notes/{id}", s.handleDelete).Methods(http.MethodDelete)

	api.HandleFunc("/stats/{project}", s.handleStats).Methods(http.MethodGet)
}

// Router exposes the handler for HTTP servers and tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"server":    "screwnoted",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleProjectNotes(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	var notes []*models.Note
	err := s.db.WithContext(r.Context()).
		Preload("Replies").
		Where("project_name = ?", project).
		Find(&notes).Error
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (s *Server) handleFileNotes(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	path := r.URL.Query().Get("path")
	var notes []*models.Note
	err := s.db.WithContext(r.Context()).
		Preload("Replies").
		Where("project_name = ? AND file_path = ?", project, path).
		Find(&notes).Error
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (s *Server) handleLineNotes(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	path := r.URL.Query().Get("path")
	var line int
	fmt.Sscanf(r.URL.Query().Get("line"), "%d", &line)
	var notes []*models.Note
	err := s.db.WithContext(r.Context()).
		Preload("Replies").
		Where("project_name = ? AND file_path = ? AND line_number = ?", project, path, line).
		Find(&notes).Error
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseNoteID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var note models.Note
	err = s.db.WithContext(r.Context()).Preload("Replies").First(&note, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.writeError(w, http.StatusNotFound, "Note not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"note": &note})
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var note models.Note
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if note.ID.IsZero() {
		note.ID = models.NewNoteID()
	}
	if note.Timestamp.IsZero() {
		note.Timestamp = time.Now().UTC()
	}
	if note.Version == 0 {
		note.Version = 1
	}
	if err := note.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if note.ProjectName != "" {
			if err := tx.Where(Project{Name: note.ProjectName}).
				FirstOrCreate(&Project{Name: note.ProjectName}).Error; err != nil {
				return err
			}
		}
		if err := tx.Omit("Replies").Create(&note).Error; err != nil {
			return err
		}
		return saveReplies(tx, &note)
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"note": &note})
}

// saveReplies persists a note's embedded replies, assigning ids and
// timestamps the same way standalone reply creation does.
func saveReplies(tx *gorm.DB, note *models.Note) error {
	for i := range note.Replies {
		reply := note.Replies[i]
		reply.ParentID = note.ID
		if reply.ID.IsZero() {
			reply.ID = models.NewReplyID()
		}
		if reply.Timestamp.IsZero() {
			reply.Timestamp = time.Now().UTC()
		}
		if err := tx.Create(&reply).Error; err != nil {
			return err
		}
		note.Replies[i] = reply
	}
	return nil
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseNoteID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var incoming models.Note
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var existing models.Note
	err = s.db.WithContext(r.Context()).First(&existing, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.writeError(w, http.StatusNotFound, "Note not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Identity, creation timestamp and author never change on update.
	incoming.ID = existing.ID
	incoming.Timestamp = existing.Timestamp
	incoming.Author = existing.Author
	incoming.Version = existing.Version
	if incoming.ProjectName == "" {
		incoming.ProjectName = existing.ProjectName
	}
	incoming.Touch(time.Now())

	if err := incoming.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Replies").Save(&incoming).Error; err != nil {
			return err
		}
		if incoming.Replies == nil {
			return nil
		}
		if err := tx.Where("parent_id = ?", incoming.ID).Delete(&models.Reply{}).Error; err != nil {
			return err
		}
		return saveReplies(tx, &incoming)
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"note": &incoming})
}

// handleDelete serves both DELETE /notes/{id} (single note, cascading its
// replies) and DELETE /notes/{project} (clear a whole project).
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	if id, err := models.ParseNoteID(raw); err == nil {
		s.deleteNote(w, r, id)
		return
	}
	s.clearProject(w, r, raw)
}

func (s *Server) deleteNote(w http.ResponseWriter, r *http.Request, id models.NoteID) {
	var deleted bool
	err := s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("parent_id = ?", id).Delete(&models.Reply{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Note{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		s.writeError(w, http.StatusNotFound, "Note not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) clearProject(w http.ResponseWriter, r *http.Request, project string) {
	var count int64
	err := s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.Note{}).
			Where("project_name = ?", project).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("parent_id IN ?", ids).Delete(&models.Reply{}).Error; err != nil {
			return err
		}
		res := tx.Where("project_name = ?", project).Delete(&models.Note{})
		count = res.RowsAffected
		return res.Error
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted_count": count})
}

func (s *Server) handleCreateReply(w http.ResponseWriter, r *http.Request) {
	parentID, err := models.ParseNoteID(mux.Vars(r)["parent_id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var reply models.Reply
	if err := json.NewDecoder(r.Body).Decode(&reply); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var parent models.Note
	err = s.db.WithContext(r.Context()).First(&parent, "id = ?", parentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.writeError(w, http.StatusNotFound, "Parent note not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	reply.ParentID = parentID
	if reply.ID.IsZero() {
		reply.ID = models.NewReplyID()
	}
	if reply.Timestamp.IsZero() {
		reply.Timestamp = time.Now().UTC()
	}
	if err := reply.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.WithContext(r.Context()).Create(&reply).Error; err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reply": &reply})
}

func (s *Server) handleReplaceAll(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	var body struct {
		Notes []*models.Note `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.Note{}).
			Where("project_name = ?", project).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := tx.Where("parent_id IN ?", ids).Delete(&models.Reply{}).Error; err != nil {
				return err
			}
			if err := tx.Where("project_name = ?", project).Delete(&models.Note{}).Error; err != nil {
				return err
			}
		}
		for _, note := range body.Notes {
			if note.ID.IsZero() {
				note.ID = models.NewNoteID()
			}
			if note.Timestamp.IsZero() {
				note.Timestamp = time.Now().UTC()
			}
			if note.Version == 0 {
				note.Version = 1
			}
			note.ProjectName = project
			if err := note.Validate(); err != nil {
				return err
			}
			if err := tx.Omit("Replies").Create(note).Error; err != nil {
				return err
			}
			if err := saveReplies(tx, note); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(body.Notes)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	var count int64
	err := s.db.WithContext(r.Context()).
		Model(&models.Note{}).
		Where("project_name = ?", project).
		Count(&count).Error
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"total_notes":  count,
		"project_name": project,
	})
}
