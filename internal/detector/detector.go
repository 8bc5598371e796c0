// Package detector decides whether a notification is warranted by
// comparing newly resolved addresses against the persisted prior state.
package detector

import (
	"ipwatch/internal/types"
)

// Detect compares the resolved addresses against the saved state and
// returns the set of changes. Comparison is exact string equality of
// validated addresses. A nil saved state marks every resolved address as
// changed (baseline establishment); whether that first run triggers a
// notification is the orchestrator's policy, not this package's.
func Detect(saved *types.SavedState, external, local *types.ResolvedAddress) types.ChangeSet {
	cs := types.ChangeSet{FirstRun: saved == nil}
	if saved == nil {
		saved = &types.SavedState{}
	}

	if external != nil && external.Value != saved.External {
		cs.External = &types.Change{
			Source: types.SourceExternal,
			Old:    saved.External,
			New:    external.Value,
		}
	}

	if local != nil && local.Value != saved.Local {
		cs.Local = &types.Change{
			Source: types.SourceLocal,
			Old:    saved.Local,
			New:    local.Value,
		}
	}

	return cs
}
