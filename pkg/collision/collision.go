// Package collision classifies and resolves notes landing on a (file, line)
// location that is already occupied, during import or migration. Collisions
// are expected control flow, not errors: native note creation is never
// subject to collision handling, only imported and migrated records are.
package collision

import (
	"context"
	"fmt"

	"github.com/h0pes/screw.nvim-sub001/pkg/models"
)

// Kind classifies the relationship between an incoming note and the existing
// notes at its location.
type Kind string

const (
	// KindNone: no existing note at the location.
	KindNone Kind = "none"
	// KindDuplicate: the same import tool and rule id already produced a
	// note here. Duplicates are never re-imported.
	KindDuplicate Kind = "duplicate"
	// KindCollision: a different tool or rule id occupies the location.
	KindCollision Kind = "collision"
	// KindNativeVsImport: a natively created note occupies the location.
	KindNativeVsImport Kind = "native_vs_import"
)

// Strategy selects how non-duplicate collisions are resolved.
type Strategy string

const (
	// StrategySkip leaves the existing note and discards the incoming one.
	StrategySkip Strategy = "skip"
	// StrategyOverwrite deletes the existing notes, then inserts the
	// incoming one.
	StrategyOverwrite Strategy = "overwrite"
	// StrategyAsk prompts per collision. Batch use must configure the
	// prompter's non-interactive default instead.
	StrategyAsk Strategy = "ask"
	// StrategyKeepBoth inserts the incoming note alongside the existing
	// ones. The location is deliberately not unique.
	StrategyKeepBoth Strategy = "keep_both"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategySkip, StrategyOverwrite, StrategyAsk, StrategyKeepBoth:
		return true
	}
	return false
}

// Classification is the outcome of classifying one incoming note.
type Classification struct {
	Kind Kind
	// Existing holds the notes already at the location, empty for KindNone.
	Existing []*models.Note
}

// Classify inspects the notes already at the incoming note's (file, line)
// location. existing may contain notes from other locations; they are
// filtered here.
func Classify(existing []*models.Note, incoming *models.Note) Classification {
	var at []*models.Note
	for _, n := range existing {
		if n.FilePath == incoming.FilePath && n.LineNumber == incoming.LineNumber {
			at = append(at, n)
		}
	}
	if len(at) == 0 {
		return Classification{Kind: KindNone}
	}

	for _, n := range at {
		if !n.IsImported() {
			return Classification{Kind: KindNativeVsImport, Existing: at}
		}
	}

	if incoming.ImportMeta != nil {
		for _, n := range at {
			if n.ImportMeta != nil &&
				n.ImportMeta.Tool == incoming.ImportMeta.Tool &&
				n.ImportMeta.RuleID == incoming.ImportMeta.RuleID {
				return Classification{Kind: KindDuplicate, Existing: at}
			}
		}
	}

	return Classification{Kind: KindCollision, Existing: at}
}

// Resolution is the deterministic action list produced for one incoming
// note: which existing notes to delete and whether to insert the incoming
// one.
type Resolution struct {
	Kind           Kind
	Insert         bool
	DeleteExisting []models.NoteID
}

// Prompter resolves ask-strategy collisions. The returned strategy must be
// one of skip, overwrite or keep_both; anything else is treated as skip.
type Prompter interface {
	ResolveCollision(ctx context.Context, c Classification, incoming *models.Note) Strategy
}

// SkipPrompter is the non-interactive default for scripted imports.
type SkipPrompter struct{}

func (SkipPrompter) ResolveCollision(ctx context.Context, c Classification, incoming *models.Note) Strategy {
	return StrategySkip
}

// Resolver applies a configured strategy to classified collisions.
type Resolver struct {
	Strategy Strategy
	// Prompter is consulted only under StrategyAsk; nil falls back to
	// SkipPrompter.
	Prompter Prompter
}

// Resolve classifies incoming against existing and returns the actions to
// take. Duplicates are always discarded regardless of strategy; for every
// strategy other than ask the outcome is deterministic.
func (r *Resolver) Resolve(ctx context.Context, existing []*models.Note, incoming *models.Note) (Resolution, error) {
	if !r.Strategy.Valid() {
		return Resolution{}, fmt.Errorf("collision: unsupported strategy %q", r.Strategy)
	}

	c := Classify(existing, incoming)
	res := Resolution{Kind: c.Kind}

	switch c.Kind {
	case KindNone:
		res.Insert = true
		return res, nil
	case KindDuplicate:
		return res, nil
	}

	strategy := r.Strategy
	if strategy == StrategyAsk {
		p := r.Prompter
		if p == nil {
			p = SkipPrompter{}
		}
		strategy = p.ResolveCollision(ctx, c, incoming)
		if strategy == StrategyAsk || !strategy.Valid() {
			strategy = StrategySkip
		}
	}

	switch strategy {
	case StrategyOverwrite:
		res.Insert = true
		for _, n := range c.Existing {
			res.DeleteExisting = append(res.DeleteExisting, n.ID)
		}
	case StrategyKeepBoth:
		res.Insert = true
	default: // skip
	}
	return res, nil
}
