// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package slots

import (
	"sort"
	"strings"
)

// =============================================================================
// SPARSE DIFF
// =============================================================================

// Diff is the sparse slot update sent to the advisor: only values the user
// actually changed, plus an explicit reset list for slots cleared back to
// empty. Clearing is an instruction, not an omission; the advisor cannot
// tell "no change" from "forget this" without it.
type Diff struct {
	Values map[string]string `json:"slots"`
	Resets []string          `json:"reset_slots"`
}

// Empty reports whether the diff carries no changes. Empty diffs
// short-circuit the save without a network call.
func (d Diff) Empty() bool {
	return len(d.Values) == 0 && len(d.Resets) == 0
}

// BuildDiff compares the edited values against the baseline:
//
//   - changed to a non-empty value: appears in Values
//   - non-empty baseline cleared to empty: appears in Resets, never Values
//   - unchanged (after trimming): omitted entirely
//
// Keys are normalized; slots the catalog does not know are dropped. Resets
// are ordered by catalog position so payloads are deterministic.
func (c *Catalog) BuildDiff(baseline, edited map[string]string) Diff {
	normalizedBaseline := normalizeKeys(baseline)

	diff := Diff{Values: make(map[string]string)}
	for name, value := range edited {
		normalized := NormalizeName(name)
		if _, known := c.index[normalized]; !known {
			continue
		}

		trimmed := strings.TrimSpace(value)
		before := strings.TrimSpace(normalizedBaseline[normalized])

		switch {
		case trimmed == before:
			// No change.
		case trimmed == "":
			diff.Resets = append(diff.Resets, normalized)
		default:
			diff.Values[normalized] = trimmed
		}
	}

	sort.Slice(diff.Resets, func(i, j int) bool {
		pi, _ := c.Position(diff.Resets[i])
		pj, _ := c.Position(diff.Resets[j])
		return pi < pj
	})

	return diff
}

// Apply returns a copy of values with the diff applied locally: changed
// values set, reset slots removed. Used for optimistic local state while
// the save is in flight.
func (d Diff) Apply(values map[string]string) map[string]string {
	out := make(map[string]string, len(values)+len(d.Values))
	for name, value := range values {
		out[NormalizeName(name)] = value
	}
	for name, value := range d.Values {
		out[name] = value
	}
	for _, name := range d.Resets {
		delete(out, name)
	}
	return out
}
