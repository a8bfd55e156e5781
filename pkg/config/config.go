// Package config loads and validates session configuration from the
// environment. The backend kind is a closed enum checked here, at parse time,
// so an unsupported name fails fast instead of at first use.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/h0pes/screw.nvim-sub001/pkg/store"
)

// Environment variable names consumed by FromEnv. Collaborative mode
// requires the endpoint matching the backend kind plus the user identity;
// their absence is a fatal configuration error naming the variable.
const (
	EnvBackend       = "SCREWNOTE_BACKEND"
	EnvCollaboration = "SCREWNOTE_COLLABORATION"
	EnvAPIURL        = "SCREWNOTE_API_URL"
	EnvDBURL         = "SCREWNOTE_DB_URL"
	EnvUserEmail     = "SCREWNOTE_USER_EMAIL"
	EnvDBNamespace   = "SCREWNOTE_DB_NS"
	EnvDBName        = "SCREWNOTE_DB_NAME"
	EnvDBUser        = "SCREWNOTE_DB_USER"
	EnvDBPass        = "SCREWNOTE_DB_PASS"
)

// Config carries everything a session needs to open its backend. It is an
// explicit value passed to constructors, never process-global state.
type Config struct {
	// Backend is the active backend kind. Mode detection overwrites it with
	// the resolved selection before the session starts.
	Backend store.Kind

	// Collaboration is tri-state: nil means "detect", otherwise an explicit
	// pin that skips probing.
	Collaboration *bool

	// ProjectName scopes notes on shared backends. Defaults to the
	// workspace directory name.
	ProjectName string

	// NotesFile is the local JSON document path.
	NotesFile string
	// DBFile is the embedded SQLite database path.
	DBFile string

	// APIURL is the screwnoted endpoint for the network-http backend.
	APIURL string
	// DBURL is the SurrealDB WebSocket endpoint for the network-db backend.
	DBURL string
	// DBNamespace, DBName, DBUser, DBPass configure the SurrealDB session.
	DBNamespace string
	DBName      string
	DBUser      string
	DBPass      string

	// UserEmail identifies the author on shared backends.
	UserEmail string
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// FromEnv builds a Config for the given workspace directory, overlaying
// SCREWNOTE_* environment variables on defaults. It validates the backend
// name but defers credential checks to Validate, because they only bind when
// collaborative mode is requested.
func FromEnv(workspaceDir string) (*Config, error) {
	cfg := &Config{
		ProjectName: filepath.Base(workspaceDir),
		NotesFile:   filepath.Join(workspaceDir, ".screwnote", "notes.json"),
		DBFile:      filepath.Join(workspaceDir, ".screwnote", "notes.db"),
		APIURL:      os.Getenv(EnvAPIURL),
		DBURL:       os.Getenv(EnvDBURL),
		DBNamespace: getEnvOrDefault(EnvDBNamespace, "screwnote"),
		DBName:      getEnvOrDefault(EnvDBName, "notes"),
		DBUser:      os.Getenv(EnvDBUser),
		DBPass:      os.Getenv(EnvDBPass),
		UserEmail:   os.Getenv(EnvUserEmail),
	}

	if v := os.Getenv(EnvBackend); v != "" {
		kind := store.Kind(v)
		if !kind.Valid() {
			return nil, fmt.Errorf("config: %s=%q is not a supported backend (want local-file, local-embedded-db, network-http or network-db)", EnvBackend, v)
		}
		cfg.Backend = kind
	} else {
		cfg.Backend = store.KindLocalFile
	}

	switch os.Getenv(EnvCollaboration) {
	case "true", "1":
		b := true
		cfg.Collaboration = &b
	case "false", "0":
		b := false
		cfg.Collaboration = &b
	case "":
		// unset: mode detection decides
	default:
		return nil, fmt.Errorf("config: %s must be true, false or unset", EnvCollaboration)
	}

	return cfg, nil
}

// CollaborationPinned reports whether collaboration is explicitly configured,
// and to what.
func (c *Config) CollaborationPinned() (pinned, enabled bool) {
	if c.Collaboration == nil {
		return false, false
	}
	return true, *c.Collaboration
}

// Validate enforces the credential rules for the configured backend. It is a
// fatal setup error for collaborative mode to lack an endpoint or a user
// identity; the error names the missing variable.
func (c *Config) Validate() error {
	if !c.Backend.Valid() {
		return fmt.Errorf("config: unsupported backend %q", c.Backend)
	}
	if !c.Backend.IsNetwork() {
		return nil
	}
	if c.UserEmail == "" {
		return fmt.Errorf("config: collaborative mode requires a user identity: set %s", EnvUserEmail)
	}
	switch c.Backend {
	case store.KindNetworkHTTP:
		if c.APIURL == "" {
			return fmt.Errorf("config: collaborative mode requires a server endpoint: set %s", EnvAPIURL)
		}
	case store.KindNetworkDB:
		if c.DBURL == "" {
			return fmt.Errorf("config: collaborative mode requires a database endpoint: set %s", EnvDBURL)
		}
	}
	return nil
}

// RemoteKind returns the network backend kind this config can reach,
// preferring the explicit backend when it is already a network kind. It
// reports false when no remote endpoint is configured at all.
func (c *Config) RemoteKind() (store.Kind, bool) {
	if c.Backend.IsNetwork() {
		return c.Backend, true
	}
	if c.DBURL != "" {
		return store.KindNetworkDB, true
	}
	if c.APIURL != "" {
		return store.KindNetworkHTTP, true
	}
	return "", false
}

// LocalKind returns the local backend kind, preferring the explicit backend
// when it is already local.
func (c *Config) LocalKind() store.Kind {
	if c.Backend == store.KindLocalDB {
		return store.KindLocalDB
	}
	return store.KindLocalFile
}
