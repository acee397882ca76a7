package registry

import "testing"

func TestRegisterNeutralState(t *testing.T) {
	r := New()
	r.Register("cam01")

	e, ok := r.SnapshotOne("cam01")
	if !ok {
		t.Fatal("cam01 should be known after Register")
	}
	if e.Streaming || e.Recording || e.StartPending || e.StopPending || e.LastFile != "" {
		t.Errorf("expected neutral state, got %+v", e)
	}
	if r.Known("ghost") {
		t.Error("ghost should not be known")
	}
}

func TestMarkStreamingInsertsUnknown(t *testing.T) {
	r := New()
	r.MarkStreaming("cam01", true)

	e, ok := r.SnapshotOne("cam01")
	if !ok || !e.Streaming {
		t.Fatalf("expected streaming entry, got %+v (known=%v)", e, ok)
	}

	r.MarkStreaming("cam01", false)
	e, _ = r.SnapshotOne("cam01")
	if e.Streaming {
		t.Error("streaming should be cleared")
	}
}

func TestTryBeginStart(t *testing.T) {
	r := New()
	r.Register("cam01")

	if got := r.TryBeginStart("cam01"); got != StartProceed {
		t.Fatalf("expected Proceed, got %v", got)
	}
	if got := r.TryBeginStart("cam01"); got != StartAlreadyPending {
		t.Fatalf("expected AlreadyPending, got %v", got)
	}

	r.OnRecordStarted("cam01", "/tmp/a.mp4")
	if got := r.TryBeginStart("cam01"); got != StartAlreadyRecording {
		t.Fatalf("expected AlreadyRecording, got %v", got)
	}
}

func TestTryBeginStartForgetsLastFile(t *testing.T) {
	r := New()
	r.Register("cam01")
	r.OnRecordStarted("cam01", "/tmp/a.mp4")
	r.OnRecordStopped("cam01")

	if got := r.LastFile("cam01"); got != "/tmp/a.mp4" {
		t.Fatalf("last file should survive stop, got %q", got)
	}
	if got := r.TryBeginStart("cam01"); got != StartProceed {
		t.Fatalf("expected Proceed, got %v", got)
	}
	if got := r.LastFile("cam01"); got != "" {
		t.Errorf("new start must forget the previous file, got %q", got)
	}
}

func TestTryBeginStop(t *testing.T) {
	r := New()
	r.Register("cam01")

	if got := r.TryBeginStop("cam01"); got != StopNotRecording {
		t.Fatalf("expected NotRecording, got %v", got)
	}

	r.TryBeginStart("cam01")
	if got := r.TryBeginStop("cam01"); got != StopDeferred {
		t.Fatalf("expected Deferred while start pending, got %v", got)
	}
	e, _ := r.SnapshotOne("cam01")
	if !e.StopPending {
		t.Errorf("stop_pending should be set, got %+v", e)
	}

	// The late start confirmation must carry the stop-now hint, and
	// recording implies the pendings were consumed.
	if !r.OnRecordStarted("cam01", "/tmp/a.mp4") {
		t.Error("expected stop-now hint")
	}
	e, _ = r.SnapshotOne("cam01")
	if !e.Recording || e.StartPending || e.StopPending {
		t.Errorf("unexpected state after started: %+v", e)
	}

	if got := r.TryBeginStop("cam01"); got != StopProceed {
		t.Fatalf("expected Proceed while recording, got %v", got)
	}
}

func TestOnRecordStoppedClearsFlagsKeepsFile(t *testing.T) {
	r := New()
	r.Register("cam01")
	r.OnRecordStarted("cam01", "/tmp/a.mp4")
	r.OnRecordStopped("cam01")

	e, _ := r.SnapshotOne("cam01")
	if e.Recording || e.StartPending || e.StopPending {
		t.Errorf("flags should be cleared, got %+v", e)
	}
	if e.LastFile != "/tmp/a.mp4" {
		t.Errorf("last file must be preserved, got %q", e.LastFile)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New()
	r.Register("cam01")
	r.Register("cam02")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	snap[0].Recording = true
	if e, _ := r.SnapshotOne(snap[0].StreamID); e.Recording {
		t.Error("mutating a snapshot must not leak into the registry")
	}
}
