package transport

import (
	"reflect"
	"testing"
)

func TestFramerSingleChunkMultipleLines(t *testing.T) {
	var f LineFramer
	lines := f.Push([]byte("one\ntwo\nthree\n"))
	want := []string{"one", "two", "three"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("expected %v, got %v", want, lines)
	}
	if f.Pending() != "" {
		t.Fatalf("expected no pending data, got %q", f.Pending())
	}
}

func TestFramerPartialLineAcrossChunks(t *testing.T) {
	var f LineFramer
	if lines := f.Push([]byte("Output: {\"sta")); lines != nil {
		t.Fatalf("expected no complete lines, got %v", lines)
	}
	if f.Pending() != "Output: {\"sta" {
		t.Fatalf("unexpected pending data %q", f.Pending())
	}
	lines := f.Push([]byte("rt\": 1}\nPress"))
	if len(lines) != 1 || lines[0] != "Output: {\"start\": 1}" {
		t.Fatalf("unexpected lines %v", lines)
	}
	if f.Pending() != "Press" {
		t.Fatalf("unexpected pending data %q", f.Pending())
	}
}

func TestFramerStripsCarriageReturn(t *testing.T) {
	var f LineFramer
	lines := f.Push([]byte("hello\r\nworld\r\n"))
	want := []string{"hello", "world"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("expected %v, got %v", want, lines)
	}
}

func TestFramerReset(t *testing.T) {
	var f LineFramer
	f.Push([]byte("dangling"))
	f.Reset()
	if f.Pending() != "" {
		t.Fatalf("expected empty buffer after reset, got %q", f.Pending())
	}
	lines := f.Push([]byte("fresh\n"))
	if len(lines) != 1 || lines[0] != "fresh" {
		t.Fatalf("expected fresh line after reset, got %v", lines)
	}
}
