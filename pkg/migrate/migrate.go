// Package migrate transfers note records between two backends in either
// direction. Transfers are best-effort bulk operations: a single record's
// failure is logged and counted, never aborting the batch, and re-running a
// migration skips records the target already holds.
package migrate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/h0pes/screw.nvim-sub001/pkg/store"
)

// Result aggregates one migration run.
type Result struct {
	Total    int
	Migrated int
	Skipped  int
	Failed   int
	Errors   []error
}

func (r Result) String() string {
	return fmt.Sprintf("migrated %d/%d notes (%d skipped, %d failed)",
		r.Migrated, r.Total, r.Skipped, r.Failed)
}

// Predicate decides whether a finished run counts as an overall success.
// Callers that cannot tolerate partial loss use ZeroErrors; setup paths that
// only need the remote seeded use AtLeastOne. On predicate failure the caller
// must fall back to local mode rather than keep an inconsistent session.
type Predicate func(Result) bool

// AtLeastOne passes when any record made it across, or there was nothing to
// migrate.
func AtLeastOne(r Result) bool {
	return r.Total == 0 || r.Migrated > 0 || r.Skipped == r.Total
}

// ZeroErrors passes only for a run without per-record failures.
func ZeroErrors(r Result) bool {
	return r.Failed == 0
}

// Migrator copies notes from Source to Target. Direction is fixed by which
// store sits where; local-to-remote and remote-to-local are the same code
// path with the operands swapped.
type Migrator struct {
	Source store.Store
	Target store.Store
	Logger zerolog.Logger

	// Progress, when set, is invoked after each record with the running
	// counts, so large transfers can report incrementally.
	Progress func(done, total int)
}

// Run enumerates the source's notes and writes each missing one to the
// target, verifying per-record success. Records already present in the
// target (by id) are skipped, which makes re-runs no-ops for migrated data.
func (m *Migrator) Run(ctx context.Context) (Result, error) {
	var res Result

	if err := m.Source.Connect(ctx); err != nil {
		return res, fmt.Errorf("migrate: connect source: %w", err)
	}
	if err := m.Target.Connect(ctx); err != nil {
		return res, fmt.Errorf("migrate: connect target: %w", err)
	}

	notes, err := m.Source.LoadAll(ctx)
	if err != nil {
		return res, fmt.Errorf("migrate: load source notes: %w", err)
	}
	res.Total = len(notes)

	for i, note := range notes {
		if existing, err := m.Target.Get(ctx, note.ID); err == nil && existing != nil {
			res.Skipped++
			m.report(i+1, res.Total)
			continue
		}

		if err := m.Target.Save(ctx, note.Clone()); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("note %s: %w", note.ID, err))
			m.Logger.Warn().
				Err(err).
				Str("note_id", note.ID.String()).
				Str("file", note.FilePath).
				Int("line", note.LineNumber).
				Msg("migration: record failed")
			m.report(i+1, res.Total)
			continue
		}

		res.Migrated++
		m.report(i+1, res.Total)
	}

	m.Logger.Info().
		Str("source", string(m.Source.Kind())).
		Str("target", string(m.Target.Kind())).
		Int("total", res.Total).
		Int("migrated", res.Migrated).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("migration finished")
	return res, nil
}

func (m *Migrator) report(done, total int) {
	if m.Progress != nil {
		m.Progress(done, total)
	}
}
