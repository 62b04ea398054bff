// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisorsim

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/wire"
)

// =============================================================================
// SCRIPTED ANSWERS
// =============================================================================

// ScriptedAnswer is one canned response. The first script whose Match is a
// case-insensitive substring of the question wins; an empty Match matches
// everything, so a catch-all belongs last.
type ScriptedAnswer struct {
	// Match is the question substring that selects this answer.
	Match string

	// Text is the full answer. It is chunked for streaming and repeated
	// verbatim in the completed frame.
	Text string

	// Slots are values the simulated model "extracted" from this turn,
	// merged into the session before the citations frame is built.
	Slots map[string]string

	// Citations override the canned corpus for this answer.
	Citations []wire.Citation

	// Suggestions populate slot_suggestions on the citations frame.
	Suggestions []string

	// FailAfterChunks, when > 0, aborts the stream with an error event
	// after that many chunk frames. The text written so far stays on the
	// wire, which is exactly the partial-answer case clients must handle.
	FailAfterChunks int

	// FailCode and FailMessage fill the error event. Defaults are
	// "sim_scripted_failure" and a generic message.
	FailCode    string
	FailMessage string
}

func (a ScriptedAnswer) matches(question string) bool {
	if a.Match == "" {
		return true
	}
	return strings.Contains(strings.ToLower(question), strings.ToLower(a.Match))
}

// turnPlan is everything the stream handler needs to play one answer.
type turnPlan struct {
	text        string
	chunks      []string
	citations   []wire.Citation
	diagnostics wire.Diagnostics
	extracted   map[string]string
	suggestions []string

	failAfter   int
	failCode    string
	failMessage string
}

// planTurn resolves the answer for a question: a script hit if any, the
// echo composer otherwise. session carries the state after this turn's
// slot diff was applied.
func (s *Server) planTurn(req advisor.QueryRequest, session advisor.Session) turnPlan {
	for _, scripted := range s.cfg.Script {
		if !scripted.matches(req.Question) {
			continue
		}

		plan := turnPlan{
			text:        scripted.Text,
			citations:   scripted.Citations,
			extracted:   scripted.Slots,
			suggestions: scripted.Suggestions,
			failAfter:   scripted.FailAfterChunks,
			failCode:    scripted.FailCode,
			failMessage: scripted.FailMessage,
		}
		if plan.citations == nil {
			plan.citations = s.cannedCitations(req.KCite)
		}
		if plan.failAfter > 0 {
			if plan.failCode == "" {
				plan.failCode = "sim_scripted_failure"
			}
			if plan.failMessage == "" {
				plan.failMessage = "the simulator was scripted to fail this stream"
			}
		}
		plan.chunks = splitChunks(plan.text, s.cfg.ChunkSize)
		plan.diagnostics = cannedDiagnostics(len(plan.citations))
		return plan
	}

	plan := turnPlan{
		text:      s.echoAnswer(req, session),
		citations: s.cannedCitations(req.KCite),
	}
	plan.chunks = splitChunks(plan.text, s.cfg.ChunkSize)
	plan.diagnostics = cannedDiagnostics(len(plan.citations))
	return plan
}

// echoAnswer composes a deterministic answer from the question and the
// session's slot state, so unscripted tests still get text that reflects
// the conversation.
func (s *Server) echoAnswer(req advisor.QueryRequest, session advisor.Session) string {
	var b strings.Builder

	if req.ExplainLikeNew {
		b.WriteString("Starting from the basics: ")
	}
	if name := session.Slots["student_name"]; name != "" {
		fmt.Fprintf(&b, "%s, here is what I found. ", name)
	}

	fmt.Fprintf(&b, "You asked: %q. ", strings.TrimSpace(req.Question))

	if country := session.Slots["target_country"]; country != "" {
		fmt.Fprintf(&b,
			"For %s, check program deadlines early and confirm the visa processing window before committing to an intake. ",
			country)
	} else {
		b.WriteString("Once I know your target country I can point at concrete programs and deadlines. ")
	}
	if len(req.Attachments) > 0 {
		fmt.Fprintf(&b, "I also looked at the %d file(s) you attached. ", len(req.Attachments))
	}
	b.WriteString("This is a simulated answer for development use.")

	return b.String()
}

// cannedCitations returns up to kCite citations, preferring documents that
// were ingested through the upload flow and padding from the built-in
// corpus.
func (s *Server) cannedCitations(kCite int) []wire.Citation {
	if kCite <= 0 {
		kCite = 4
	}

	citations := make([]wire.Citation, 0, kCite)
	for _, doc := range s.store.ingestedDocs() {
		if len(citations) == kCite {
			return citations
		}
		citations = append(citations, wire.Citation{
			ChunkID:    fmt.Sprintf("%s-c0", doc.DocID),
			DocID:      doc.DocID,
			Snippet:    fmt.Sprintf("Excerpt from %s.", doc.SourceName),
			Score:      0.97,
			SourceName: doc.SourceName,
		})
	}

	for i, doc := range simCorpus {
		if len(citations) == kCite {
			break
		}
		citation := doc
		citation.Score = 0.92 - 0.07*float64(i)
		citations = append(citations, citation)
	}
	return citations
}

// simCorpus is the built-in citation inventory. Scores are assigned by
// position when served.
var simCorpus = []wire.Citation{
	{
		ChunkID:    "visa-handbook-c12",
		DocID:      "doc-visa-handbook",
		Snippet:    "Most student visa categories require proof of funds covering the first year of tuition and living costs.",
		SourceName: "visa-handbook.pdf",
		Domain:     "immigration",
	},
	{
		ChunkID:    "tuition-guide-c4",
		DocID:      "doc-tuition-guide",
		Snippet:    "Tuition at public universities varies widely by province and program; budget reviews should precede shortlisting.",
		SourceName: "tuition-guide.md",
		Domain:     "finance",
	},
	{
		ChunkID:    "ielts-primer-c7",
		DocID:      "doc-ielts-primer",
		Snippet:    "An overall IELTS band of 6.5 with no component below 6.0 satisfies most postgraduate entry requirements.",
		SourceName: "ielts-primer.txt",
		Domain:     "testing",
	},
	{
		ChunkID:    "scholarship-index-c2",
		DocID:      "doc-scholarship-index",
		Snippet:    "Entrance scholarships are typically automatic, while named awards need a separate application by the January deadline.",
		SourceName: "scholarship-index.md",
		Domain:     "finance",
	},
	{
		ChunkID:    "coop-programs-c9",
		DocID:      "doc-coop-programs",
		Snippet:    "Co-op placements alternate study and paid work terms, usually starting in the second year.",
		SourceName: "coop-programs.pdf",
		Domain:     "academics",
	},
}

func cannedDiagnostics(citationCount int) wire.Diagnostics {
	coverage := 0.8
	if citationCount == 0 {
		coverage = 0
	}
	return wire.Diagnostics{
		RetrievalMs:      12.5,
		RerankMs:         3.2,
		GenerationMs:     41.0,
		EndToEndMs:       60.4,
		CitationCoverage: coverage,
	}
}

// splitChunks cuts text into rune-aware pieces of at most size runes.
// Concatenating the pieces reproduces the text exactly.
func splitChunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
