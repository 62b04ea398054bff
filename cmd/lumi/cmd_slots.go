// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
	"github.com/AleutianAI/LumiAdvisor/pkg/ux"
)

// runShowSlots prints the slot catalog, or a session's profile when
// --session is given.
func runShowSlots(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := newAdvisorClient()
	language := effectiveLanguage()
	catalog := loadCatalog(ctx, client, language)

	if slotsSessionID == "" {
		printCatalog(catalog, language)
		return
	}

	session, err := client.GetSession(ctx, slotsSessionID)
	if err != nil {
		if errors.Is(err, advisor.ErrSessionNotFound) {
			log.Fatalf("Session %s not found. Find ids with: lumi sessions list", slotsSessionID)
		}
		log.Fatalf("Error: %v", err)
	}

	ui := ux.NewChatUI()
	ui.SlotPanel(catalog, slots.PanelState{
		Values:       session.Slots,
		MissingSlots: catalog.Missing(session.Slots),
		SlotErrors:   session.SlotErrors,
	})
}

// printCatalog lists the fields the advisor can collect.
func printCatalog(catalog *slots.Catalog, language string) {
	p := ux.GetPersonality()
	if p.Level == ux.PersonalityMachine {
		for _, def := range catalog.Definitions() {
			fmt.Printf("FIELD: name=%s required=%v type=%s choices=%q\n",
				def.Name, def.Required, slotValueType(def), strings.Join(def.Choices, ","))
		}
		return
	}

	ux.Title("Student profile fields")
	for _, def := range catalog.Definitions() {
		marker := " "
		if def.Required {
			marker = "*"
		}
		fmt.Printf(" %s %-18s %-8s %s\n", marker, def.Name, slotValueType(def), catalog.Prompt(def.Name, language))
	}
	ux.Muted("\n * required. Fill a field with: lumi slots set --session <id> <name> <value>")
}

// runEditSlots walks the whole profile in an interactive form and saves
// the delta.
func runEditSlots(cmd *cobra.Command, args []string) {
	sessionID := requireSlotsSession()
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		log.Fatalf("slots edit needs an interactive terminal. Use: lumi slots set")
	}

	client := newAdvisorClient()
	language := effectiveLanguage()

	fetchCtx, cancelFetch := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelFetch()

	catalog := loadCatalog(fetchCtx, client, language)
	session, err := client.GetSession(fetchCtx, sessionID)
	if err != nil {
		if errors.Is(err, advisor.ErrSessionNotFound) {
			log.Fatalf("Session %s not found. Find ids with: lumi sessions list", sessionID)
		}
		log.Fatalf("Error: %v", err)
	}

	baseline := catalog.FilterValid(session.Slots)
	edited, err := runSlotForm(catalog, language, baseline)
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			ux.Info("Edit cancelled, nothing saved.")
			return
		}
		log.Fatalf("Error: %v", err)
	}

	diff := catalog.BuildDiff(baseline, edited)
	if diff.Empty() {
		ux.Info("No changes.")
		return
	}
	if errs := catalog.ValidateChanged(baseline, edited); len(errs) > 0 {
		for name, msg := range errs {
			ux.Error(fmt.Sprintf("%s: %s", name, msg))
		}
		os.Exit(1)
	}

	saveCtx, cancelSave := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelSave()

	updated, err := client.UpdateSlots(saveCtx, sessionID, diff)
	if err != nil {
		log.Fatalf("Error: save profile: %v", err)
	}
	reportProfile(catalog, updated)
}

// runSlotForm collects a value for every catalog field. Clearing a
// field is allowed; BuildDiff turns that into a reset.
func runSlotForm(catalog *slots.Catalog, language string, baseline map[string]string) (map[string]string, error) {
	defs := catalog.Definitions()
	values := make([]string, len(defs))
	fields := make([]huh.Field, 0, len(defs))

	for i, def := range defs {
		values[i] = baseline[def.Name]
		title := def.Name
		if def.Required {
			title += " (required)"
		}

		if def.ValueType == slots.ValueTypeChoice && len(def.Choices) > 0 {
			options := make([]huh.Option[string], 0, len(def.Choices)+1)
			options = append(options, huh.NewOption("(leave empty)", ""))
			for _, choice := range def.Choices {
				options = append(options, huh.NewOption(choice, choice))
			}
			fields = append(fields, huh.NewSelect[string]().
				Title(title).
				Description(catalog.Prompt(def.Name, language)).
				Options(options...).
				Value(&values[i]))
			continue
		}

		name := def.Name
		fields = append(fields, huh.NewInput().
			Title(title).
			Description(catalog.Prompt(def.Name, language)).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return nil
				}
				if msg := catalog.ValidateValue(name, s); msg != "" {
					return errors.New(msg)
				}
				return nil
			}).
			Value(&values[i]))
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return nil, err
	}

	edited := make(map[string]string, len(defs))
	for i, def := range defs {
		edited[def.Name] = strings.TrimSpace(values[i])
	}
	return edited, nil
}

// runSetSlot saves one field without opening the form.
func runSetSlot(cmd *cobra.Command, args []string) {
	sessionID := requireSlotsSession()
	name, value := args[0], args[1]

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := newAdvisorClient()
	catalog := loadCatalog(ctx, client, effectiveLanguage())

	if _, known := catalog.Definition(name); !known {
		log.Fatalf("Unknown field %q. Known fields: %s", name, strings.Join(slotNames(catalog), ", "))
	}
	if msg := catalog.ValidateValue(name, value); msg != "" {
		log.Fatalf("Invalid value for %s: %s", name, msg)
	}

	diff := slots.Diff{Values: map[string]string{slots.NormalizeName(name): value}}
	updated, err := client.UpdateSlots(ctx, sessionID, diff)
	if err != nil {
		if errors.Is(err, advisor.ErrSessionNotFound) {
			log.Fatalf("Session %s not found. Find ids with: lumi sessions list", sessionID)
		}
		log.Fatalf("Error: %v", err)
	}
	reportProfile(catalog, updated)
}

// runResetSlots clears the named fields.
func runResetSlots(cmd *cobra.Command, args []string) {
	sessionID := requireSlotsSession()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := newAdvisorClient()
	catalog := loadCatalog(ctx, client, effectiveLanguage())

	resets := make([]string, 0, len(args))
	for _, name := range args {
		if _, known := catalog.Definition(name); !known {
			log.Fatalf("Unknown field %q. Known fields: %s", name, strings.Join(slotNames(catalog), ", "))
		}
		resets = append(resets, slots.NormalizeName(name))
	}

	updated, err := client.UpdateSlots(ctx, sessionID, slots.Diff{Resets: resets})
	if err != nil {
		if errors.Is(err, advisor.ErrSessionNotFound) {
			log.Fatalf("Session %s not found. Find ids with: lumi sessions list", sessionID)
		}
		log.Fatalf("Error: %v", err)
	}
	reportProfile(catalog, updated)
}

// reportProfile prints the post-save fill state.
func reportProfile(catalog *slots.Catalog, session *advisor.Session) {
	required := requiredCount(catalog)
	filled := required - len(catalog.Missing(session.Slots))

	p := ux.GetPersonality()
	if p.Level == ux.PersonalityMachine {
		fmt.Printf("SLOTS_SAVED: session=%s filled=%d required=%d\n", session.SessionID, filled, required)
		return
	}
	ux.Success(fmt.Sprintf("Profile saved. %d/%d required fields filled.", filled, required))
}

func slotValueType(def slots.SlotDefinition) string {
	if def.ValueType == "" {
		return slots.ValueTypeString
	}
	return def.ValueType
}

func slotNames(catalog *slots.Catalog) []string {
	defs := catalog.Definitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

func requiredCount(catalog *slots.Catalog) int {
	n := 0
	for _, def := range catalog.Definitions() {
		if def.Required {
			n++
		}
	}
	return n
}
