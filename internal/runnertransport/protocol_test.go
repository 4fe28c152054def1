package runnertransport

import (
	"encoding/json"
	"testing"
)

func TestMarshalUnmarshal_HelloFrame(t *testing.T) {
	orig, err := NewFrame(FrameHello, HelloPayload{RunnerID: "runner-1", Secret: "s3cret"})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	data, err := MarshalFrame(orig)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}

	got, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if got.Type != FrameHello {
		t.Fatalf("expected type %q, got %q", FrameHello, got.Type)
	}

	var p HelloPayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.RunnerID != "runner-1" || p.Secret != "s3cret" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestMarshalUnmarshal_ExecChunkFrame(t *testing.T) {
	orig, err := NewFrame(FrameExecChunk, ExecChunkPayload{JobID: "job-1", Stream: StreamStdout, Data: "hello\n"})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	data, err := MarshalFrame(orig)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}
	got, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}

	var p ExecChunkPayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.JobID != "job-1" || p.Stream != StreamStdout || p.Data != "hello\n" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestNewFrame_NilPayload(t *testing.T) {
	f, err := NewFrame(FramePing, nil)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if f.Type != FramePing {
		t.Fatalf("expected type %q, got %q", FramePing, f.Type)
	}
	if f.Payload != nil {
		t.Fatalf("expected nil payload, got %s", string(f.Payload))
	}
}

func TestHashSecret_IsDeterministicAndDistinct(t *testing.T) {
	a := HashSecret("one")
	b := HashSecret("one")
	c := HashSecret("two")
	if a != b {
		t.Fatal("expected identical secrets to hash identically")
	}
	if a == c {
		t.Fatal("expected distinct secrets to hash distinctly")
	}
}
