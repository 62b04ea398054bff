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
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/answer"
	"github.com/AleutianAI/LumiAdvisor/pkg/attach"
	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
	"github.com/AleutianAI/LumiAdvisor/pkg/ux"
	"github.com/AleutianAI/LumiAdvisor/pkg/wire"
)

// =============================================================================
// Mock Implementations
// =============================================================================

// mockChatService implements ChatService for testing.
//
// Allows configuring responses and tracking calls for verification.
type mockChatService struct {
	sendMessageFunc func(ctx context.Context, msg string, attachments []string) (answer.Outcome, error)
	resumeFunc      func(ctx context.Context, sessionID string) (*advisor.Session, []advisor.Message, error)
	updateSlotsFunc func(ctx context.Context, diff slots.Diff) error
	machine         *slots.Machine
	sessionID       string
	stopReturns     bool
	closeErr        error
	closed          bool
	messagesSent    []string
	attachmentsSent [][]string
	diffsSaved      []slots.Diff
	stopCalls       int
}

func (m *mockChatService) SendMessage(ctx context.Context, message string, attachments []string) (answer.Outcome, error) {
	m.messagesSent = append(m.messagesSent, message)
	m.attachmentsSent = append(m.attachmentsSent, attachments)
	if m.sendMessageFunc != nil {
		return m.sendMessageFunc(ctx, message, attachments)
	}
	return answer.Outcome{
		Status: answer.StatusCompleted,
		Answer: answer.AggregateAnswer{
			Text:      "Mock response",
			SessionID: m.sessionID,
			Status:    answer.StatusCompleted,
		},
	}, nil
}

func (m *mockChatService) Stop() bool {
	m.stopCalls++
	return m.stopReturns
}

func (m *mockChatService) GetSessionID() string {
	return m.sessionID
}

func (m *mockChatService) Machine() *slots.Machine {
	return m.machine
}

func (m *mockChatService) UpdateSlots(ctx context.Context, diff slots.Diff) error {
	m.diffsSaved = append(m.diffsSaved, diff)
	if m.updateSlotsFunc != nil {
		return m.updateSlotsFunc(ctx, diff)
	}
	return nil
}

func (m *mockChatService) ResumeSession(ctx context.Context, sessionID string) (*advisor.Session, []advisor.Message, error) {
	if m.resumeFunc != nil {
		return m.resumeFunc(ctx, sessionID)
	}
	return nil, nil, advisor.ErrSessionNotFound
}

func (m *mockChatService) Close() error {
	m.closed = true
	return m.closeErr
}

// newTestRunner wires a runner around buffered output so tests can
// assert on what the user would see.
func newTestRunner(t *testing.T, service ChatService, inputs []string, personality ux.PersonalityLevel) (*AdvisorChatRunner, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	runner, err := NewAdvisorChatRunner(AdvisorChatRunnerConfig{
		Service: service,
		UI:      ux.NewChatUIWithWriter(&buf, personality),
		Input:   NewMockInputReader(inputs),
		Writer:  &buf,
	})
	if err != nil {
		t.Fatalf("NewAdvisorChatRunner() returned error: %v", err)
	}
	return runner, &buf
}

// =============================================================================
// InputReader Tests
// =============================================================================

func TestStdinReader_ImplementsInterface(t *testing.T) {
	var _ InputReader = &StdinReader{}
}

func TestMockInputReader_ReadLine_ReturnsInputsInOrder(t *testing.T) {
	inputs := []string{"first", "second", "third"}
	reader := NewMockInputReader(inputs)

	for i, expected := range inputs {
		got, err := reader.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine() %d: unexpected error: %v", i, err)
		}
		if got != expected {
			t.Errorf("ReadLine() %d: got %q, want %q", i, got, expected)
		}
	}
}

func TestMockInputReader_ReadLine_ReturnsEOFWhenExhausted(t *testing.T) {
	reader := NewMockInputReader([]string{"only"})

	// First read succeeds
	_, err := reader.ReadLine()
	if err != nil {
		t.Fatalf("first ReadLine(): unexpected error: %v", err)
	}

	// Second read returns EOF
	_, err = reader.ReadLine()
	if err != io.EOF {
		t.Errorf("second ReadLine(): got error %v, want io.EOF", err)
	}
}

func TestMockInputReader_ReadLine_EmptyInputs(t *testing.T) {
	reader := NewMockInputReader([]string{})

	_, err := reader.ReadLine()
	if err != io.EOF {
		t.Errorf("ReadLine() on empty: got error %v, want io.EOF", err)
	}
}

// =============================================================================
// isExitCommand / isSlashCommand Tests
// =============================================================================

func TestIsExitCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"exit", true},
		{"quit", true},
		{"EXIT", false}, // Case-sensitive
		{"QUIT", false},
		{"Exit", false},
		{"hello", false},
		{"", false},
		{"exit please", false},
		{"please exit", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := isExitCommand(tt.input)
			if got != tt.want {
				t.Errorf("isExitCommand(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsSlashCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"/help", true},
		{"/slots set gpa 3.5", true},
		{"/", true},
		{"help", false},
		{"", false},
		{"what is /help", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := isSlashCommand(tt.input)
			if got != tt.want {
				t.Errorf("isSlashCommand(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// =============================================================================
// AdvisorChatRunner Tests
// =============================================================================

func TestNewAdvisorChatRunner_RequiresService(t *testing.T) {
	_, err := NewAdvisorChatRunner(AdvisorChatRunnerConfig{})
	if err == nil {
		t.Fatal("NewAdvisorChatRunner() with no service should fail")
	}
}

func TestAdvisorChatRunner_Run_ExitCommand(t *testing.T) {
	service := &mockChatService{sessionID: "sess-123"}
	runner, _ := newTestRunner(t, service, []string{"exit"}, ux.PersonalityStandard)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	// Exit before any message.
	if len(service.messagesSent) != 0 {
		t.Errorf("expected 0 messages sent, got %d", len(service.messagesSent))
	}
}

func TestAdvisorChatRunner_Run_QuitCommand(t *testing.T) {
	service := &mockChatService{sessionID: "sess-456"}
	runner, _ := newTestRunner(t, service, []string{"quit"}, ux.PersonalityStandard)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
}

func TestAdvisorChatRunner_Run_SendsMessage(t *testing.T) {
	service := &mockChatService{sessionID: "sess-789"}
	runner, _ := newTestRunner(t, service, []string{"hello", "exit"}, ux.PersonalityStandard)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if len(service.messagesSent) != 1 {
		t.Fatalf("expected 1 message sent, got %d", len(service.messagesSent))
	}
	if service.messagesSent[0] != "hello" {
		t.Errorf("message sent = %q, want %q", service.messagesSent[0], "hello")
	}
}

func TestAdvisorChatRunner_Run_SkipsEmptyInput(t *testing.T) {
	service := &mockChatService{sessionID: "sess-empty"}
	runner, _ := newTestRunner(t, service, []string{"", "", "exit"}, ux.PersonalityStandard)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if len(service.messagesSent) != 0 {
		t.Errorf("expected 0 messages sent, got %d", len(service.messagesSent))
	}
}

func TestAdvisorChatRunner_Run_ServiceError_ContinuesLoop(t *testing.T) {
	callCount := 0
	service := &mockChatService{
		sessionID: "sess-err",
		sendMessageFunc: func(ctx context.Context, msg string, attachments []string) (answer.Outcome, error) {
			callCount++
			if callCount == 1 {
				return answer.Outcome{Status: answer.StatusFailed}, errors.New("temporary error")
			}
			return answer.Outcome{Status: answer.StatusCompleted}, nil
		},
	}
	runner, _ := newTestRunner(t, service, []string{"first", "second", "exit"}, ux.PersonalityStandard)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	// A failed turn is rendered by the service; the loop keeps going.
	if len(service.messagesSent) != 2 {
		t.Errorf("expected 2 messages sent, got %d", len(service.messagesSent))
	}
}

func TestAdvisorChatRunner_Run_ContextCancellation(t *testing.T) {
	// All MockInputReader inputs are processed synchronously, so only a
	// pre-cancelled context exercises the shutdown path deterministically.
	service := &mockChatService{sessionID: "sess-cancel"}
	runner, _ := newTestRunner(t, service, []string{"msg1", "msg2"}, ux.PersonalityStandard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runner.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestAdvisorChatRunner_Run_EOFExitsGracefully(t *testing.T) {
	service := &mockChatService{sessionID: "sess-eof"}
	// No exit command, just EOF after one message.
	runner, _ := newTestRunner(t, service, []string{"hello"}, ux.PersonalityStandard)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if len(service.messagesSent) != 1 {
		t.Errorf("expected 1 message sent, got %d", len(service.messagesSent))
	}
}

func TestAdvisorChatRunner_Run_HelpCommand(t *testing.T) {
	service := &mockChatService{}
	runner, buf := newTestRunner(t, service, []string{"/help", "exit"}, ux.PersonalityStandard)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"/slots", "/attach", "/stop", "/exit"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q, got: %s", want, output)
		}
	}
}

func TestAdvisorChatRunner_Run_SlashExitEndsSession(t *testing.T) {
	service := &mockChatService{}
	runner, _ := newTestRunner(t, service, []string{"/exit", "never sent"}, ux.PersonalityStandard)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if len(service.messagesSent) != 0 {
		t.Errorf("expected 0 messages after /exit, got %d", len(service.messagesSent))
	}
}

func TestAdvisorChatRunner_Run_SlotsPanel(t *testing.T) {
	service := &mockChatService{machine: slots.NewMachine(nil, "en")}
	runner, buf := newTestRunner(t, service, []string{"/slots", "exit"}, ux.PersonalityMachine)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if !strings.Contains(buf.String(), "SLOT: name=") {
		t.Errorf("expected slot panel rows, got: %s", buf.String())
	}
}

func TestAdvisorChatRunner_Run_SlotsPanel_NoMachine(t *testing.T) {
	service := &mockChatService{}
	runner, buf := newTestRunner(t, service, []string{"/slots", "exit"}, ux.PersonalityMachine)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if !strings.Contains(buf.String(), "CHAT_ERROR:") {
		t.Errorf("expected an error for missing profile, got: %s", buf.String())
	}
}

func TestAdvisorChatRunner_Run_SlotsSet_SavesDiff(t *testing.T) {
	service := &mockChatService{machine: slots.NewMachine(nil, "en")}
	runner, _ := newTestRunner(t, service, []string{"/slots set gpa 3.5", "exit"}, ux.PersonalityMachine)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if len(service.diffsSaved) != 1 {
		t.Fatalf("expected 1 diff saved, got %d", len(service.diffsSaved))
	}
	if got := service.diffsSaved[0].Values["gpa"]; got != "3.5" {
		t.Errorf("saved gpa = %q, want %q", got, "3.5")
	}
}

func TestAdvisorChatRunner_Run_SlotsSet_MissingValue(t *testing.T) {
	service := &mockChatService{machine: slots.NewMachine(nil, "en")}
	runner, buf := newTestRunner(t, service, []string{"/slots set gpa", "exit"}, ux.PersonalityMachine)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if len(service.diffsSaved) != 0 {
		t.Errorf("expected no diff saved, got %d", len(service.diffsSaved))
	}
	if !strings.Contains(buf.String(), "usage: /slots set") {
		t.Errorf("expected usage hint, got: %s", buf.String())
	}
}

func TestAdvisorChatRunner_Run_SlotsReset_SavesDiff(t *testing.T) {
	service := &mockChatService{machine: slots.NewMachine(nil, "en")}
	runner, _ := newTestRunner(t, service, []string{"/slots reset gpa target_country", "exit"}, ux.PersonalityMachine)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if len(service.diffsSaved) != 1 {
		t.Fatalf("expected 1 diff saved, got %d", len(service.diffsSaved))
	}
	if got := len(service.diffsSaved[0].Resets); got != 2 {
		t.Errorf("resets = %d, want 2", got)
	}
}

func TestAdvisorChatRunner_Run_SlotsSet_ValidationShowsPanel(t *testing.T) {
	service := &mockChatService{
		machine: slots.NewMachine(nil, "en"),
		updateSlotsFunc: func(ctx context.Context, diff slots.Diff) error {
			return errSlotValidation
		},
	}
	runner, buf := newTestRunner(t, service, []string{"/slots set gpa eleven", "exit"}, ux.PersonalityMachine)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	// Validation failures re-render the panel instead of a bare error.
	if !strings.Contains(buf.String(), "SLOT: name=") {
		t.Errorf("expected panel after validation failure, got: %s", buf.String())
	}
}

func TestAdvisorChatRunner_Run_SessionCommand_NoSessionYet(t *testing.T) {
	service := &mockChatService{}
	runner, buf := newTestRunner(t, service, []string{"/session", "exit"}, ux.PersonalityStandard)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if !strings.Contains(buf.String(), "No session yet") {
		t.Errorf("expected no-session hint, got: %s", buf.String())
	}
}

func TestAdvisorChatRunner_Run_SessionCommand_ShowsID(t *testing.T) {
	service := &mockChatService{sessionID: "sess-visible"}
	runner, buf := newTestRunner(t, service, []string{"/session", "exit"}, ux.PersonalityStandard)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if !strings.Contains(buf.String(), "sess-visible") {
		t.Errorf("expected session id in output, got: %s", buf.String())
	}
}

func TestAdvisorChatRunner_Run_StopCommand_NothingInFlight(t *testing.T) {
	service := &mockChatService{stopReturns: false}
	runner, buf := newTestRunner(t, service, []string{"/stop", "exit"}, ux.PersonalityStandard)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if service.stopCalls != 1 {
		t.Errorf("Stop() calls = %d, want 1", service.stopCalls)
	}
	if !strings.Contains(buf.String(), "Nothing to stop.") {
		t.Errorf("expected idle-stop hint, got: %s", buf.String())
	}
}

func TestAdvisorChatRunner_Run_UnknownSlashCommand(t *testing.T) {
	service := &mockChatService{}
	runner, buf := newTestRunner(t, service, []string{"/frobnicate", "hello", "exit"}, ux.PersonalityMachine)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if !strings.Contains(buf.String(), "unknown command /frobnicate") {
		t.Errorf("expected unknown-command error, got: %s", buf.String())
	}
	// The loop keeps going after a bad command.
	if len(service.messagesSent) != 1 {
		t.Errorf("expected 1 message sent after bad command, got %d", len(service.messagesSent))
	}
}

func TestAdvisorChatRunner_Run_DismissCoaching(t *testing.T) {
	machine := slots.NewMachine(nil, "en")
	service := &mockChatService{machine: machine}
	runner, _ := newTestRunner(t, service, []string{"/dismiss", "exit"}, ux.PersonalityStandard)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if _, ok := machine.Coaching(); ok {
		t.Error("coaching should stay dismissed for an unchanged missing set")
	}
}

func TestAdvisorChatRunner_Run_Resume(t *testing.T) {
	resumed := &advisor.Session{SessionID: "sess-resume"}
	transcript := []advisor.Message{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer", Citations: []wire.Citation{{DocID: "doc-1", Snippet: "s"}}},
		{Role: "user", Content: "second question"},
		{Role: "assistant", Content: "latest answer"},
	}
	service := &mockChatService{
		sessionID: "sess-resume",
		resumeFunc: func(ctx context.Context, sessionID string) (*advisor.Session, []advisor.Message, error) {
			if sessionID != "sess-resume" {
				t.Errorf("resume called with %q, want %q", sessionID, "sess-resume")
			}
			return resumed, transcript, nil
		},
	}

	var buf bytes.Buffer
	runner, err := NewAdvisorChatRunner(AdvisorChatRunnerConfig{
		Service:   service,
		UI:        ux.NewChatUIWithWriter(&buf, ux.PersonalityMachine),
		Input:     NewMockInputReader([]string{"exit"}),
		Writer:    &buf,
		SessionID: "sess-resume",
	})
	if err != nil {
		t.Fatalf("NewAdvisorChatRunner() returned error: %v", err)
	}

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "SESSION_RESUME: session=sess-resume turns=2") {
		t.Errorf("expected resume banner with 2 turns, got: %s", output)
	}
	// The last assistant answer replays so the user sees where they were.
	if !strings.Contains(output, "latest answer") {
		t.Errorf("expected last answer replay, got: %s", output)
	}
}

func TestAdvisorChatRunner_Run_ResumeStaleSession(t *testing.T) {
	service := &mockChatService{
		resumeFunc: func(ctx context.Context, sessionID string) (*advisor.Session, []advisor.Message, error) {
			return nil, nil, advisor.ErrSessionNotFound
		},
	}

	var buf bytes.Buffer
	runner, err := NewAdvisorChatRunner(AdvisorChatRunnerConfig{
		Service:   service,
		UI:        ux.NewChatUIWithWriter(&buf, ux.PersonalityStandard),
		Input:     NewMockInputReader([]string{"exit"}),
		Writer:    &buf,
		SessionID: "sess-gone",
	})
	if err != nil {
		t.Fatalf("NewAdvisorChatRunner() returned error: %v", err)
	}

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() should start fresh, got error: %v", err)
	}
	if !strings.Contains(buf.String(), "no longer exists") {
		t.Errorf("expected stale-session notice, got: %s", buf.String())
	}
}

func TestAdvisorChatRunner_Run_SessionEndRich_AfterMessages(t *testing.T) {
	service := &mockChatService{
		sessionID: "sess-stats",
		sendMessageFunc: func(ctx context.Context, msg string, attachments []string) (answer.Outcome, error) {
			return answer.Outcome{
				Status: answer.StatusCompleted,
				Answer: answer.AggregateAnswer{
					Text:        "answer",
					TotalChunks: 3,
					Citations: []wire.Citation{
						{DocID: "doc-1"},
						{DocID: "doc-1"}, // Duplicate doc counts once.
						{DocID: "doc-2"},
					},
				},
			}, nil
		},
	}
	runner, buf := newTestRunner(t, service, []string{"hello", "again", "exit"}, ux.PersonalityMachine)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "CHAT_END: session=sess-stats messages=2 chunks=6 citations=2") {
		t.Errorf("expected rich end summary, got: %s", output)
	}
}

func TestAdvisorChatRunner_Run_SessionEnd_NoMessages(t *testing.T) {
	service := &mockChatService{sessionID: "sess-quiet"}
	runner, buf := newTestRunner(t, service, []string{"exit"}, ux.PersonalityMachine)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "CHAT_END: session=sess-quiet\n") {
		t.Errorf("expected plain end line, got: %s", output)
	}
	if strings.Contains(output, "messages=") {
		t.Errorf("no stats expected for an empty session, got: %s", output)
	}
}

func TestAdvisorChatRunner_Close_Idempotent(t *testing.T) {
	service := &mockChatService{}
	runner, _ := newTestRunner(t, service, nil, ux.PersonalityStandard)

	err1 := runner.Close()
	err2 := runner.Close()
	err3 := runner.Close()

	if err1 != nil || err2 != nil || err3 != nil {
		t.Errorf("Close() should succeed multiple times: %v, %v, %v", err1, err2, err3)
	}
	if !service.closed {
		t.Error("Close() should close the service")
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestProfileProgress(t *testing.T) {
	machine := slots.NewMachine(nil, "en")
	filled, required := profileProgress(machine)
	if filled != 0 {
		t.Errorf("fresh machine filled = %d, want 0", filled)
	}
	if required == 0 {
		t.Error("default catalog should have required slots")
	}

	machine.Replace(map[string]string{"target_country": "canada"})
	filled, _ = profileProgress(machine)
	if filled != 1 {
		t.Errorf("filled = %d, want 1", filled)
	}
}

func TestProfileProgress_NilMachine(t *testing.T) {
	filled, required := profileProgress(nil)
	if filled != 0 || required != 0 {
		t.Errorf("profileProgress(nil) = (%d, %d), want (0, 0)", filled, required)
	}
}

func TestAttachmentIcon(t *testing.T) {
	tests := []struct {
		status attach.Status
		want   ux.Icon
	}{
		{attach.StatusReady, ux.IconSuccess},
		{attach.StatusError, ux.IconError},
		{attach.StatusUploading, ux.IconArrow},
		{attach.StatusIndexing, ux.IconArrow},
		{attach.StatusQueued, ux.IconPending},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := attachmentIcon(tt.status); got != tt.want {
				t.Errorf("attachmentIcon(%s) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestAttachmentReason(t *testing.T) {
	withErr := attach.PendingAttachment{Status: attach.StatusError, Error: "too big"}
	if got := attachmentReason(withErr); got != "too big" {
		t.Errorf("attachmentReason() = %q, want the error text", got)
	}

	queued := attach.PendingAttachment{Status: attach.StatusQueued}
	if got := attachmentReason(queued); got != "queued" {
		t.Errorf("attachmentReason() = %q, want %q", got, "queued")
	}
}

func TestLastAssistantMessage(t *testing.T) {
	messages := []advisor.Message{
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
	}
	last := lastAssistantMessage(messages)
	if last == nil || last.Content != "a1" {
		t.Errorf("lastAssistantMessage() = %v, want a1", last)
	}

	if lastAssistantMessage(nil) != nil {
		t.Error("lastAssistantMessage(nil) should be nil")
	}
	if lastAssistantMessage([]advisor.Message{{Role: "user", Content: "q"}}) != nil {
		t.Error("no assistant message should yield nil")
	}
}
