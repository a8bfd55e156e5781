// Package mode decides, once per session, whether a workspace runs against a
// local or a shared backend. The detector only recommends: it never mutates
// storage, and Apply is the single writer of the resolved selection into the
// session configuration.
package mode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/h0pes/screw.nvim-sub001/pkg/config"
	"github.com/h0pes/screw.nvim-sub001/pkg/store"
)

// Mode is the resolved storage mode for the session.
type Mode string

const (
	ModeLocal         Mode = "local"
	ModeCollaborative Mode = "collaborative"
)

// Choice is one selectable option in an ambiguous-mode prompt.
type Choice string

const (
	ChooseLocal         Choice = "local"
	ChooseCollaborative Choice = "collaborative"
	ChooseMigrate       Choice = "migrate-to-remote"
	ChooseExport        Choice = "export-from-remote"
	// ChoiceCancelled is returned by prompters when the user dismissed the
	// prompt. The detector treats it as the local default.
	ChoiceCancelled Choice = ""
)

// Direction names a migration direction attached to a detection result.
type Direction string

const (
	DirectionNone          Direction = ""
	DirectionLocalToRemote Direction = "local-to-remote"
	DirectionRemoteToLocal Direction = "remote-to-local"
)

// ProbeResult describes one side of the workspace's storage state.
type ProbeResult struct {
	// Available is false when the store cannot be reached at all. Local
	// probes are always available.
	Available bool
	// Found is true when a non-empty note collection exists.
	Found bool
	Count int
}

// Prober inspects one backend without claiming it for the session.
// Unreachability must degrade to Available=false, never an error out of
// Detect.
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// Prompter resolves ambiguous detection outcomes. A cancelled or failed
// prompt yields ChoiceCancelled and the detector falls back to local.
type Prompter interface {
	ChooseMode(ctx context.Context, reason string, options []Choice) Choice
}

// DefaultPrompter is the non-interactive prompter: it always picks def.
// Batch and scripted sessions use it so detection never blocks on input.
type DefaultPrompter struct {
	Default Choice
}

func (p DefaultPrompter) ChooseMode(ctx context.Context, reason string, options []Choice) Choice {
	for _, o := range options {
		if o == p.Default {
			return o
		}
	}
	return ChoiceCancelled
}

// DetectionResult is the ephemeral outcome of one detection run. It is
// recomputed each session and never persisted.
type DetectionResult struct {
	Mode            Mode      `json:"mode"`
	Reason          string    `json:"reason"`
	MigrationNeeded bool      `json:"migration_needed"`
	Direction       Direction `json:"direction,omitempty"`
	LocalCount      int       `json:"local_count"`
	RemoteCount     int       `json:"remote_count"`
	// UserChoice records the explicit selection if a prompt occurred.
	UserChoice Choice `json:"user_choice,omitempty"`
	Prompted   bool   `json:"prompted"`
}

// Detector runs the decision procedure over the two probes.
type Detector struct {
	Local    Prober
	Remote   Prober
	Prompter Prompter
	Logger   zerolog.Logger
}

// Detect applies the decision table, first match wins. It never returns an
// error for connectivity problems; those degrade inside the probes.
func (d *Detector) Detect(ctx context.Context) *DetectionResult {
	local := d.Local.Probe(ctx)
	remote := d.Remote.Probe(ctx)

	res := &DetectionResult{
		LocalCount:  local.Count,
		RemoteCount: remote.Count,
	}

	switch {
	case local.Found && remote.Found:
		d.prompt(ctx, res, "both local and remote notes exist",
			[]Choice{ChooseLocal, ChooseCollaborative, ChooseMigrate, ChooseExport})

	case local.Found && !remote.Found && remote.Available:
		d.prompt(ctx, res, "local notes exist and a remote is reachable",
			[]Choice{ChooseLocal, ChooseCollaborative, ChooseMigrate})

	case local.Found && !remote.Available:
		res.Mode = ModeLocal
		res.Reason = "no remote available"

	case !local.Found && remote.Found:
		res.Mode = ModeCollaborative
		res.Reason = "remote data present"

	case !local.Found && !remote.Found && remote.Available:
		d.prompt(ctx, res, "fresh workspace with a reachable remote",
			[]Choice{ChooseLocal, ChooseCollaborative})

	default:
		res.Mode = ModeLocal
		res.Reason = "new workspace, no remote"
	}

	d.Logger.Info().
		Str("mode", string(res.Mode)).
		Str("reason", res.Reason).
		Bool("migration_needed", res.MigrationNeeded).
		Int("local_count", res.LocalCount).
		Int("remote_count", res.RemoteCount).
		Msg("mode detected")
	return res
}

func (d *Detector) prompt(ctx context.Context, res *DetectionResult, reason string, options []Choice) {
	res.Prompted = true
	choice := ChoiceCancelled
	if d.Prompter != nil {
		choice = d.Prompter.ChooseMode(ctx, reason, options)
	}
	res.UserChoice = choice

	switch choice {
	case ChooseCollaborative:
		res.Mode = ModeCollaborative
		res.Reason = "user chose collaborative"
	case ChooseMigrate:
		res.Mode = ModeCollaborative
		res.Reason = "user chose to migrate local notes to the remote"
		res.MigrationNeeded = true
		res.Direction = DirectionLocalToRemote
	case ChooseExport:
		res.Mode = ModeLocal
		res.Reason = "user chose to export remote notes locally"
		res.MigrationNeeded = true
		res.Direction = DirectionRemoteToLocal
	case ChooseLocal:
		res.Mode = ModeLocal
		res.Reason = "user chose local"
	default:
		res.Mode = ModeLocal
		res.Reason = "prompt cancelled, defaulting to local"
	}
}

// Pinned builds the detection result for an explicitly configured mode,
// skipping probing entirely. Collaborative pins additionally require the
// endpoint and user identity credentials; their absence is a fatal
// configuration error.
func Pinned(cfg *config.Config) (*DetectionResult, error) {
	pinned, enabled := cfg.CollaborationPinned()
	if !pinned {
		return nil, fmt.Errorf("mode: collaboration is not explicitly configured")
	}
	res := &DetectionResult{Reason: "explicitly configured"}
	if !enabled {
		res.Mode = ModeLocal
		return res, nil
	}

	// The backend field still holds the local default at this point, so the
	// remote credential checks run against the endpoint configuration
	// directly rather than through cfg.Validate.
	kind, ok := cfg.RemoteKind()
	if !ok {
		return nil, fmt.Errorf("mode: collaborative mode requires a remote endpoint: set %s or %s",
			config.EnvAPIURL, config.EnvDBURL)
	}
	if cfg.UserEmail == "" {
		return nil, fmt.Errorf("mode: collaborative mode requires a user identity: set %s", config.EnvUserEmail)
	}
	probe := *cfg
	probe.Backend = kind
	if err := probe.Validate(); err != nil {
		return nil, err
	}
	res.Mode = ModeCollaborative
	return res, nil
}

// Apply writes the resolved mode into the session configuration. It is the
// sole writer of the backend selection prior to session start.
func Apply(cfg *config.Config, res *DetectionResult) {
	enabled := res.Mode == ModeCollaborative
	cfg.Collaboration = &enabled
	if enabled {
		if kind, ok := cfg.RemoteKind(); ok {
			cfg.Backend = kind
		}
	} else {
		cfg.Backend = cfg.LocalKind()
	}
}

// StoreProber probes a concrete backend by connecting and counting.
// Connectivity failures degrade to an unavailable result.
type StoreProber struct {
	Store  store.Store
	Logger zerolog.Logger
}

func (p StoreProber) Probe(ctx context.Context) ProbeResult {
	if err := p.Store.Connect(ctx); err != nil {
		p.Logger.Debug().Err(err).Str("kind", string(p.Store.Kind())).Msg("probe: store unreachable")
		return ProbeResult{}
	}
	count, err := p.Store.Count(ctx)
	if err != nil {
		p.Logger.Debug().Err(err).Str("kind", string(p.Store.Kind())).Msg("probe: count failed")
		return ProbeResult{}
	}
	return ProbeResult{Available: true, Found: count > 0, Count: count}
}

// ProbeFunc adapts a plain function to the Prober interface.
type ProbeFunc func(ctx context.Context) ProbeResult

func (f ProbeFunc) Probe(ctx context.Context) ProbeResult { return f(ctx) }
