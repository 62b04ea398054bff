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
	"fmt"
	"strconv"
	"strings"

	"github.com/go-openapi/strfmt"
)

// =============================================================================
// LOCAL VALIDATION
// =============================================================================

// ValidateValue checks one value against its catalog definition and
// returns a short lowercase message, or "" when the value is acceptable.
// Unknown slots validate clean; the advisor is the authority on anything
// outside the catalog.
//
// Rules, in order:
//   - empty value: "required" for required slots, fine otherwise
//   - number slots: parseable, then min/max bounds
//   - choice slots: membership in the declared choices
//   - email-shaped names (containing "email"): well-formed address
func (c *Catalog) ValidateValue(name, value string) string {
	def, ok := c.Definition(name)
	if !ok {
		return ""
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if def.Required {
			return "required"
		}
		return ""
	}

	switch def.ValueType {
	case ValueTypeNumber:
		number, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return "must be a number"
		}
		if def.MinValue != nil && number < *def.MinValue {
			return fmt.Sprintf("must be ≥ %g", *def.MinValue)
		}
		if def.MaxValue != nil && number > *def.MaxValue {
			return fmt.Sprintf("must be ≤ %g", *def.MaxValue)
		}

	case ValueTypeChoice:
		if len(def.Choices) == 0 {
			return ""
		}
		for _, choice := range def.Choices {
			if trimmed == choice {
				return ""
			}
		}
		return "invalid choice"
	}

	if strings.Contains(def.Name, "email") && !strfmt.Default.Validates("email", trimmed) {
		return "must be a valid email"
	}

	return ""
}

// ValidateChanged runs local validation over exactly the fields the user
// changed from the baseline. Untouched fields are never re-validated, so a
// pre-existing odd value does not block an unrelated edit. A field cleared
// back to empty is a reset instruction, not a validation subject. Returns
// a non-empty map when the edit must not be saved.
func (c *Catalog) ValidateChanged(baseline, edited map[string]string) map[string]string {
	normalizedBaseline := normalizeKeys(baseline)

	errors := make(map[string]string)
	for name, value := range edited {
		normalized := NormalizeName(name)
		trimmed := strings.TrimSpace(value)
		if trimmed == strings.TrimSpace(normalizedBaseline[normalized]) {
			continue
		}
		if trimmed == "" {
			continue
		}
		if message := c.ValidateValue(normalized, value); message != "" {
			errors[normalized] = message
		}
	}

	if len(errors) == 0 {
		return nil
	}
	return errors
}

func normalizeKeys(values map[string]string) map[string]string {
	normalized := make(map[string]string, len(values))
	for name, value := range values {
		normalized[NormalizeName(name)] = value
	}
	return normalized
}
