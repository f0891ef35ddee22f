package transport

import "testing"

func TestParseReadyLine(t *testing.T) {
	_, kind, err := ParseLine(ReadyLine)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != LineReady {
		t.Fatalf("expected LineReady, got %v", kind)
	}
}

func TestParsePayloadLine(t *testing.T) {
	line := `Output: {"channel":{"alternatives":[{"transcript":"I want to write."}]},"start":1.5,"is_final":true,"speech_final":true}`
	ev, kind, err := ParseLine(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != LineEvent {
		t.Fatalf("expected LineEvent, got %v", kind)
	}
	if ev.UtteranceStart != 1.5 {
		t.Fatalf("expected start 1.5, got %v", ev.UtteranceStart)
	}
	if !ev.IsFinal || !ev.SpeechFinal {
		t.Fatalf("expected final flags set, got %+v", ev)
	}
	if ev.Transcript != "I want to write." {
		t.Fatalf("unexpected transcript %q", ev.Transcript)
	}
}

func TestParsePayloadNoAlternatives(t *testing.T) {
	ev, kind, err := ParseLine(`Output: {"channel":{"alternatives":[]},"start":0.5}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != LineEvent {
		t.Fatalf("expected LineEvent, got %v", kind)
	}
	if ev.Transcript != "" {
		t.Fatalf("expected empty transcript, got %q", ev.Transcript)
	}
}

func TestParseMalformedPayloadDropped(t *testing.T) {
	_, kind, err := ParseLine(`Output: {not json`)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if kind != LineIgnored {
		t.Fatalf("malformed payload must be ignored, got %v", kind)
	}
}

func TestParseOtherLinesIgnored(t *testing.T) {
	for _, line := range []string{"", "Listening...", "Output", "output: {}"} {
		_, kind, err := ParseLine(line)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", line, err)
		}
		if kind != LineIgnored {
			t.Fatalf("expected %q ignored, got %v", line, kind)
		}
	}
}
