// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wire

import (
	"testing"
)

// =============================================================================
// Frame Decoder Tests
// =============================================================================

func TestNewFrameDecoder(t *testing.T) {
	decoder := NewFrameDecoder()
	if decoder == nil {
		t.Fatal("NewFrameDecoder() returned nil")
	}
}

// decodeAll runs a whole stream through a fresh decoder, including the
// final flush, and returns the frames in order.
func decodeAll(fragments ...string) []string {
	decoder := NewFrameDecoder()
	var frames []string
	for _, fragment := range fragments {
		frames = append(frames, decoder.Feed(fragment)...)
	}
	if rest, ok := decoder.Flush(); ok {
		frames = append(frames, rest)
	}
	return frames
}

// -----------------------------------------------------------------------------
// Feed Tests
// -----------------------------------------------------------------------------

func TestFrameDecoder_Feed_SingleCompleteFrame(t *testing.T) {
	decoder := NewFrameDecoder()

	frames := decoder.Feed("event: chunk\ndata: {\"delta\":\"Hi\"}\n\n")

	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0] != "event: chunk\ndata: {\"delta\":\"Hi\"}" {
		t.Errorf("unexpected frame: %q", frames[0])
	}
}

func TestFrameDecoder_Feed_MultipleFramesInOneFragment(t *testing.T) {
	decoder := NewFrameDecoder()

	frames := decoder.Feed("event: a\ndata: 1\n\nevent: b\ndata: 2\n\nevent: c\ndata: 3\n\n")

	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[0] != "event: a\ndata: 1" || frames[1] != "event: b\ndata: 2" || frames[2] != "event: c\ndata: 3" {
		t.Errorf("unexpected frames: %v", frames)
	}
}

func TestFrameDecoder_Feed_FrameSplitAcrossFragments(t *testing.T) {
	decoder := NewFrameDecoder()

	if frames := decoder.Feed("event: chu"); len(frames) != 0 {
		t.Fatalf("expected no frames from partial fragment, got %v", frames)
	}
	if frames := decoder.Feed("nk\ndata: {\"delta\":"); len(frames) != 0 {
		t.Fatalf("expected no frames from partial fragment, got %v", frames)
	}

	frames := decoder.Feed("\"Hi\"}\n\n")
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0] != "event: chunk\ndata: {\"delta\":\"Hi\"}" {
		t.Errorf("unexpected frame: %q", frames[0])
	}
}

func TestFrameDecoder_Feed_CRLFDelimiter(t *testing.T) {
	decoder := NewFrameDecoder()

	frames := decoder.Feed("event: chunk\r\ndata: x\r\n\r\nevent: completed\r\ndata: y\r\n\r\n")

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	// Line-internal \r survives the decoder; the router trims it.
	if frames[0] != "event: chunk\r\ndata: x" {
		t.Errorf("unexpected first frame: %q", frames[0])
	}
	if frames[1] != "event: completed\r\ndata: y" {
		t.Errorf("unexpected second frame: %q", frames[1])
	}
}

func TestFrameDecoder_Feed_DropsEmptyFrames(t *testing.T) {
	decoder := NewFrameDecoder()

	frames := decoder.Feed("event: a\ndata: 1\n\n\n\nevent: b\ndata: 2\n\n")

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %v", len(frames), frames)
	}
}

func TestFrameDecoder_Feed_EmptyFragment(t *testing.T) {
	decoder := NewFrameDecoder()

	if frames := decoder.Feed(""); frames != nil {
		t.Errorf("expected nil for empty fragment, got %v", frames)
	}
}

// -----------------------------------------------------------------------------
// Flush Tests
// -----------------------------------------------------------------------------

func TestFrameDecoder_Flush_UnterminatedFrame(t *testing.T) {
	decoder := NewFrameDecoder()
	decoder.Feed("event: chunk\ndata: {\"delta\":\"tail\"}")

	rest, ok := decoder.Flush()
	if !ok {
		t.Fatal("expected flush to return the buffered frame")
	}
	if rest != "event: chunk\ndata: {\"delta\":\"tail\"}" {
		t.Errorf("unexpected remainder: %q", rest)
	}
}

func TestFrameDecoder_Flush_EmptyBuffer(t *testing.T) {
	decoder := NewFrameDecoder()

	if _, ok := decoder.Flush(); ok {
		t.Error("expected no remainder from empty decoder")
	}
}

func TestFrameDecoder_Flush_WhitespaceOnlyBuffer(t *testing.T) {
	decoder := NewFrameDecoder()
	decoder.Feed("\n")

	if rest, ok := decoder.Flush(); ok {
		t.Errorf("expected whitespace remainder to be dropped, got %q", rest)
	}
}

// -----------------------------------------------------------------------------
// Fragmentation Invariance
// -----------------------------------------------------------------------------

func TestFrameDecoder_FragmentationInvariance(t *testing.T) {
	stream := "event: chunk\ndata: {\"delta\":\"Hel\"}\n\n" +
		"event: citations\ndata: {\"citations\":[]}\n\n" +
		"event: completed\ndata: {\"answer\":\"Hello\"}\n\n"

	want := decodeAll(stream)
	if len(want) != 3 {
		t.Fatalf("expected 3 frames from unsplit stream, got %d", len(want))
	}

	for split := 1; split < len(stream); split++ {
		got := decodeAll(stream[:split], stream[split:])
		if len(got) != len(want) {
			t.Fatalf("split at %d: expected %d frames, got %d", split, len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("split at %d: frame %d = %q, want %q", split, i, got[i], want[i])
			}
		}
	}
}

func TestFrameDecoder_FragmentationInvariance_CRLF(t *testing.T) {
	stream := "event: chunk\r\ndata: {\"delta\":\"a\"}\r\n\r\nevent: completed\r\ndata: {}\r\n\r\n"

	want := decodeAll(stream)
	if len(want) != 2 {
		t.Fatalf("expected 2 frames from unsplit stream, got %d", len(want))
	}

	for split := 1; split < len(stream); split++ {
		got := decodeAll(stream[:split], stream[split:])
		if len(got) != len(want) {
			t.Fatalf("split at %d: expected %d frames, got %d", split, len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("split at %d: frame %d = %q, want %q", split, i, got[i], want[i])
			}
		}
	}
}
