// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package slots drives the slot-filling side of an advising conversation:
// the catalog of structured facts the assistant needs (target country,
// degree level, budget, ...), which of them are still missing, local
// validation of user edits, and the sparse diffs sent to the advisor when
// slots change.
//
// Slot names are normalized (trimmed, lowercased, spaces to underscores)
// at every entry point, so "Target Country" and "target_country" address
// the same slot.
package slots

import (
	"strings"
)

// Slot value types.
const (
	ValueTypeString = "string"
	ValueTypeNumber = "number"
	ValueTypeChoice = "choice"
)

// =============================================================================
// SLOT DEFINITION
// =============================================================================

// SlotDefinition describes one structured fact the conversation should
// collect. Definitions come from the advisor's catalog endpoint or the
// built-in defaults; this package never mutates them.
type SlotDefinition struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
	PromptZh    string   `json:"prompt_zh,omitempty"`
	ValueType   string   `json:"value_type,omitempty"`
	Choices     []string `json:"choices,omitempty"`
	MinValue    *float64 `json:"min_value,omitempty"`
	MaxValue    *float64 `json:"max_value,omitempty"`
}

// NormalizeName canonicalizes a slot name: trim, lowercase, spaces to
// underscores.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is an ordered, immutable set of slot definitions. Catalog order
// is the coaching order: the first missing required slot per this order is
// the one the user is prompted for next.
type Catalog struct {
	defs  []SlotDefinition
	index map[string]int
}

// NewCatalog builds a catalog from definitions, preserving their order.
// Names are normalized; a repeated name replaces the earlier definition in
// place, keeping its original position.
func NewCatalog(defs []SlotDefinition) *Catalog {
	catalog := &Catalog{
		defs:  make([]SlotDefinition, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}

	for _, def := range defs {
		def.Name = NormalizeName(def.Name)
		if def.Name == "" {
			continue
		}
		if def.ValueType == "" {
			def.ValueType = ValueTypeString
		}
		if pos, ok := catalog.index[def.Name]; ok {
			catalog.defs[pos] = def
			continue
		}
		catalog.index[def.Name] = len(catalog.defs)
		catalog.defs = append(catalog.defs, def)
	}

	return catalog
}

// Definitions returns the definitions in catalog order.
func (c *Catalog) Definitions() []SlotDefinition {
	return append([]SlotDefinition(nil), c.defs...)
}

// Definition looks up one slot by (normalized) name.
func (c *Catalog) Definition(name string) (SlotDefinition, bool) {
	pos, ok := c.index[NormalizeName(name)]
	if !ok {
		return SlotDefinition{}, false
	}
	return c.defs[pos], true
}

// Position returns a slot's catalog position.
func (c *Catalog) Position(name string) (int, bool) {
	pos, ok := c.index[NormalizeName(name)]
	return pos, ok
}

// Len returns the number of slots in the catalog.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// Prompt returns the coaching prompt for a slot in the requested language.
// Chinese-tagged languages prefer the zh prompt; otherwise the English
// prompt wins, then the zh prompt, then the description, then the name.
func (c *Catalog) Prompt(name, language string) string {
	def, ok := c.Definition(name)
	if !ok {
		return ""
	}

	lang := strings.ToLower(language)
	if strings.HasPrefix(lang, "zh") && def.PromptZh != "" {
		return def.PromptZh
	}
	if def.Prompt != "" {
		return def.Prompt
	}
	if def.PromptZh != "" {
		return def.PromptZh
	}
	if def.Description != "" {
		return def.Description
	}
	return def.Name
}

// Missing returns the required slots whose current value is empty, in
// catalog order. Arrival or fill order never matters here: position in the
// catalog decides which slot is coached first.
func (c *Catalog) Missing(values map[string]string) []string {
	filled := c.FilterValid(values)

	var missing []string
	for _, def := range c.defs {
		if !def.Required {
			continue
		}
		if _, ok := filled[def.Name]; !ok {
			missing = append(missing, def.Name)
		}
	}
	return missing
}

// FilterValid normalizes keys and drops empty values and slots the catalog
// does not know.
func (c *Catalog) FilterValid(values map[string]string) map[string]string {
	cleaned := make(map[string]string, len(values))
	for name, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		normalized := NormalizeName(name)
		if _, ok := c.index[normalized]; ok {
			cleaned[normalized] = value
		}
	}
	return cleaned
}

// =============================================================================
// DEFAULT CATALOG
// =============================================================================

// DefaultCatalog returns the built-in study-abroad advising catalog, used
// until the advisor's catalog endpoint has been fetched.
func DefaultCatalog() *Catalog {
	return NewCatalog([]SlotDefinition{
		{
			Name:        "student_name",
			Description: "Preferred name so the assistant can address the student personally",
			Required:    true,
			Prompt:      "May I have the name you'd like me to use when addressing you?",
			PromptZh:    "我该如何称呼你？",
		},
		{
			Name:        "contact_email",
			Description: "Email address for sending follow-up materials",
			Prompt:      "Where can I email follow-up checklists or resources?",
			PromptZh:    "如果需要后续发送材料，请提供一个邮箱。",
		},
		{
			Name:        "target_country",
			Description: "Destination country for the study-abroad plan",
			Required:    true,
			Prompt:      "Which country are you hoping to study in?",
			PromptZh:    "你计划申请哪个国家？",
		},
		{
			Name:        "degree_level",
			Description: "Degree level (e.g., undergraduate, postgraduate)",
			Prompt:      "What degree level are you working toward (e.g., undergraduate, postgraduate)?",
			PromptZh:    "你计划申请什么学历层级（如本科、硕士）？",
		},
		{
			Name:        "discipline",
			Description: "Intended major or field of study",
			Prompt:      "Which major or discipline are you most interested in exploring?",
			PromptZh:    "你最想申请的专业或方向是什么？",
		},
		{
			Name:        "gpa",
			Description: "Current GPA or equivalent academic score",
			Prompt:      "What is your latest GPA or average score?",
			PromptZh:    "你目前的平均成绩/GPA 是多少？",
			ValueType:   ValueTypeNumber,
			MinValue:    f64(0.0),
			MaxValue:    f64(4.0),
		},
		{
			Name:        "ielts",
			Description: "IELTS overall score (or other English test score)",
			Prompt:      "What is your IELTS (or equivalent) score?",
			PromptZh:    "你的雅思或其他英语成绩是多少？",
			ValueType:   ValueTypeNumber,
			MinValue:    f64(0.0),
			MaxValue:    f64(9.0),
		},
		{
			Name:        "budget",
			Description: "Approximate annual budget in local currency",
			Prompt:      "What is your annual budget for study abroad?",
			PromptZh:    "你的留学预算（每年）是多少？",
			ValueType:   ValueTypeNumber,
			MinValue:    f64(0.0),
		},
		{
			Name:        "timeframe",
			Description: "Target intake or start date (e.g., 2025 Fall)",
			Prompt:      "When do you plan to start your studies?",
			PromptZh:    "你打算什么时候开始留学？",
		},
		{
			Name:        "current_stage",
			Description: "Where the student is in the application journey (researching, applying, admitted, etc.)",
			Prompt:      "Which stage are you currently in (researching schools, preparing documents, already applying)?",
			PromptZh:    "你目前处于哪个阶段（如了解项目、准备材料、已经在申请）？",
		},
		{
			Name:        "priority_concern",
			Description: "Top concern or blocker the student wants help with",
			Prompt:      "What is the biggest concern you'd like me to focus on?",
			PromptZh:    "你现在最希望我帮你解决的核心问题是什么？",
		},
	})
}

func f64(v float64) *float64 { return &v }
