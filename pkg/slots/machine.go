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
	"strings"
	"sync"
)

// =============================================================================
// SLOT STATE MACHINE
// =============================================================================

// ServerUpdate carries the slot fields of an advisor answer. A nil map or
// slice means the server omitted that field, and the previous state is
// retained; a present-but-empty one replaces the state with empty.
type ServerUpdate struct {
	Slots           *map[string]string
	SlotPrompts     *map[string]string
	SlotErrors      *map[string]string
	SlotSuggestions *[]string
}

// PanelState is everything the profile panel needs to render: the current
// values, what is still missing, the prompt and error to show per slot, and
// any suggested example answers.
type PanelState struct {
	Values          map[string]string `json:"slots"`
	MissingSlots    []string          `json:"missing_slots"`
	SlotPrompts     map[string]string `json:"slot_prompts"`
	SlotErrors      map[string]string `json:"slot_errors"`
	SlotSuggestions []string          `json:"slot_suggestions"`
}

// Coaching is a single nudge toward the next unfilled required slot.
type Coaching struct {
	Slot   string `json:"slot"`
	Prompt string `json:"prompt"`
}

// Machine tracks the client's view of the student profile across turns:
// values from the server, optimistic local edits, per-slot prompts and
// errors, and the coaching hint state. Safe for concurrent use.
type Machine struct {
	catalog  *Catalog
	language string

	mu            sync.Mutex
	values        map[string]string
	serverPrompts map[string]string
	serverErrors  map[string]string
	localErrors   map[string]string
	suggestions   []string
	dismissed     map[string]bool
}

// NewMachine returns a Machine over the given catalog. The language selects
// which prompt text coaching uses; see Catalog.Prompt.
func NewMachine(catalog *Catalog, language string) *Machine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Machine{
		catalog:       catalog,
		language:      language,
		values:        make(map[string]string),
		serverPrompts: make(map[string]string),
		serverErrors:  make(map[string]string),
		localErrors:   make(map[string]string),
		dismissed:     make(map[string]bool),
	}
}

// Catalog returns the catalog the machine validates against.
func (m *Machine) Catalog() *Catalog {
	return m.catalog
}

// ApplyServer folds an advisor answer's slot fields into the machine. Each
// present field replaces the corresponding state wholesale; absent fields
// leave it untouched. Server values pass through FilterValid, so blank and
// unknown slots never enter the state. A server update clears any stale
// local validation errors.
func (m *Machine) ApplyServer(update ServerUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if update.Slots != nil {
		m.values = m.catalog.FilterValid(*update.Slots)
	}
	if update.SlotPrompts != nil {
		m.serverPrompts = normalizeKeys(*update.SlotPrompts)
	}
	if update.SlotErrors != nil {
		m.serverErrors = normalizeKeys(*update.SlotErrors)
	}
	if update.SlotSuggestions != nil {
		m.suggestions = append([]string(nil), (*update.SlotSuggestions)...)
	}
	if update.Slots != nil || update.SlotErrors != nil {
		m.localErrors = make(map[string]string)
	}
}

// ApplyDiff optimistically applies a local edit before the server confirms
// it: changed values are set, reset slots removed. Local errors for the
// touched slots are cleared.
func (m *Machine) ApplyDiff(diff Diff) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values = diff.Apply(m.values)
	for name := range diff.Values {
		delete(m.localErrors, name)
	}
	for _, name := range diff.Resets {
		delete(m.localErrors, name)
	}
}

// Replace swaps the machine's values wholesale. Used to roll back an
// optimistic edit the server rejected.
func (m *Machine) Replace(values map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = m.catalog.FilterValid(values)
}

// SetLocalErrors records client-side validation failures for display. They
// merge over server errors in the panel and are cleared by the next server
// update.
func (m *Machine) SetLocalErrors(errs map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localErrors = normalizeKeys(errs)
}

// Values returns a copy of the current slot values.
func (m *Machine) Values() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneValues(m.values)
}

// Panel assembles the render state for the profile panel. Missing slots are
// recomputed locally from the current values, so an optimistic edit updates
// the checklist before the server answers. Per-slot prompts prefer the
// server's phrasing and fall back to the catalog; local errors override
// server errors for the same slot.
func (m *Machine) Panel() PanelState {
	m.mu.Lock()
	defer m.mu.Unlock()

	missing := m.catalog.Missing(m.values)

	prompts := make(map[string]string, len(missing))
	for _, name := range missing {
		if p, ok := m.serverPrompts[name]; ok && p != "" {
			prompts[name] = p
			continue
		}
		prompts[name] = m.catalog.Prompt(name, m.language)
	}

	errs := make(map[string]string, len(m.serverErrors)+len(m.localErrors))
	for name, msg := range m.serverErrors {
		errs[name] = msg
	}
	for name, msg := range m.localErrors {
		errs[name] = msg
	}

	return PanelState{
		Values:          cloneValues(m.values),
		MissingSlots:    missing,
		SlotPrompts:     prompts,
		SlotErrors:      errs,
		SlotSuggestions: append([]string(nil), m.suggestions...),
	}
}

// Coaching returns the nudge for the first missing required slot, or false
// when nothing is missing or the user dismissed the hint for this exact set
// of gaps. Dismissal is keyed on the full missing set: filling a slot
// changes the set, so the hint resurfaces for the remaining gaps, while
// returning to a previously dismissed set stays quiet.
func (m *Machine) Coaching() (Coaching, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	missing := m.catalog.Missing(m.values)
	if len(missing) == 0 {
		return Coaching{}, false
	}
	if m.dismissed[dismissalKey(missing)] {
		return Coaching{}, false
	}

	slot := missing[0]
	return Coaching{
		Slot:   slot,
		Prompt: m.catalog.Prompt(slot, m.language),
	}, true
}

// DismissCoaching hides the hint for the current set of missing slots.
func (m *Machine) DismissCoaching() {
	m.mu.Lock()
	defer m.mu.Unlock()

	missing := m.catalog.Missing(m.values)
	if len(missing) == 0 {
		return
	}
	m.dismissed[dismissalKey(missing)] = true
}

func dismissalKey(missing []string) string {
	return strings.Join(missing, "|")
}

func cloneValues(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
