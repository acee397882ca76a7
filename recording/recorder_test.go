package recording

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"lite-nvr/media"
)

const tb90k = 90000

var testInfo = media.StreamInfo{
	StreamID: "cam01",
	Width:    1280,
	Height:   720,
	TimeBase: media.Rational{Num: 1, Den: tb90k},
	CodecID:  27,
}

type writtenPacket struct {
	data     []byte
	pts      int64
	dts      int64
	duration int64
	key      bool
}

type fakeWriter struct {
	mu       sync.Mutex
	timeBase media.Rational
	written  []writtenPacket
	closed   bool
	writeErr error
}

func (w *fakeWriter) TimeBase() media.Rational { return w.timeBase }

func (w *fakeWriter) WritePacket(data []byte, pts, dts, duration int64, key bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return w.writeErr
	}
	w.written = append(w.written, writtenPacket{data: data, pts: pts, dts: dts, duration: duration, key: key})
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) packets() []writtenPacket {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]writtenPacket, len(w.written))
	copy(out, w.written)
	return out
}

func (w *fakeWriter) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

type fakeNotifier struct {
	mu        sync.Mutex
	started   []string
	stopped   int
	finalized []string
	stopNow   bool
}

func (n *fakeNotifier) RecordingStarted(streamID, path string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, path)
	return n.stopNow
}

func (n *fakeNotifier) RecordingStopped(streamID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped++
}

func (n *fakeNotifier) RecordingFinalized(streamID, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finalized = append(n.finalized, path)
}

func (n *fakeNotifier) startedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.started)
}

func (n *fakeNotifier) stoppedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stopped
}

func (n *fakeNotifier) finalizedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.finalized)
}

type testRig struct {
	rec      *Recorder
	notifier *fakeNotifier
	writer   *fakeWriter
	opens    int
	openErr  error
}

func newTestRig(t *testing.T, params Params) *testRig {
	t.Helper()
	if params.FolderBase == "" {
		params.FolderBase = t.TempDir()
	}
	rig := &testRig{
		notifier: &fakeNotifier{},
		writer:   &fakeWriter{timeBase: media.Rational{Num: 1, Den: tb90k}},
	}
	factory := func(path string, info media.StreamInfo) (PacketWriter, error) {
		rig.opens++
		if rig.openErr != nil {
			return nil, rig.openErr
		}
		return rig.writer, nil
	}
	rig.rec = NewRecorder("cam01", params, factory, rig.notifier)
	return rig
}

// pkt builds a keyframe packet with pts at the given second on the 90 kHz
// clock.
func pkt(sec float64) media.EncodedPacket {
	ts := int64(sec * tb90k)
	return media.EncodedPacket{
		StreamID: "cam01",
		Data:     []byte{0x00, 0x00, 0x01},
		Pts:      ts,
		Dts:      ts,
		Duration: tb90k / 30,
		Key:      true,
		TimeBase: media.Rational{Num: 1, Den: tb90k},
	}
}

func noTsPkt() media.EncodedPacket {
	return media.EncodedPacket{
		StreamID: "cam01",
		Data:     []byte{0x00},
		Pts:      media.NoPTS,
		Dts:      media.NoPTS,
		TimeBase: media.Rational{Num: 1, Den: tb90k},
	}
}

func TestPrerollTrimsByMediaTime(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 5.0})

	for i := 0; i < 20; i++ {
		rig.rec.handlePacket(pkt(float64(i) * 0.5))
	}

	// Timestamps run 0..9.5s; trimming stops once the span is no longer
	// strictly above 5s, so 4.5..9.5 survives.
	if len(rig.rec.preroll) != 11 {
		t.Fatalf("expected 11 packets in ring, got %d", len(rig.rec.preroll))
	}
	if got := rig.rec.preroll[0].Pts; got != int64(4.5*tb90k) {
		t.Errorf("expected ring head at 4.5s, got %d", got)
	}
}

func TestPrerollUnknownTimestampsStopTrim(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 1.0})

	rig.rec.handlePacket(noTsPkt())
	for i := 0; i < 50; i++ {
		rig.rec.handlePacket(pkt(float64(i)))
	}

	// The timestampless head blocks the time trim entirely.
	if len(rig.rec.preroll) != 51 {
		t.Fatalf("expected 51 packets, got %d", len(rig.rec.preroll))
	}
	if rig.rec.preroll[0].Pts != media.NoPTS {
		t.Error("timestampless head should survive")
	}
}

func TestPrerollCountCap(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 1.0})

	rig.rec.handlePacket(noTsPkt())
	for i := 0; i < prerollMaxPackets+100; i++ {
		rig.rec.handlePacket(pkt(float64(i) / 1000))
	}

	if len(rig.rec.preroll) != prerollMaxPackets {
		t.Fatalf("expected ring capped at %d, got %d", prerollMaxPackets, len(rig.rec.preroll))
	}
}

func TestStartRequiresStreamInfo(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 5.0})

	rig.rec.handleStart()

	if rig.opens != 0 {
		t.Error("no writer should be opened without stream info")
	}
	if rig.rec.state != stateIdle {
		t.Errorf("state should stay Idle, got %v", rig.rec.state)
	}
}

func TestStartDrainsPreroll(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 5.0})
	rig.rec.handleInfo(testInfo)

	for i := 0; i < 3; i++ {
		rig.rec.handlePacket(pkt(float64(i)))
	}
	rig.rec.handleStart()

	if rig.rec.state != stateRecording {
		t.Fatalf("expected Recording state, got %v", rig.rec.state)
	}
	if len(rig.rec.preroll) != 0 {
		t.Errorf("ring should be cleared after drain, got %d packets", len(rig.rec.preroll))
	}
	written := rig.writer.packets()
	if len(written) != 3 {
		t.Fatalf("expected 3 drained packets, got %d", len(written))
	}
	// First drained packet rebases to t=0.
	if written[0].pts != 0 {
		t.Errorf("first packet should sit at t=0, got %d", written[0].pts)
	}
	if written[2].pts != 2*tb90k {
		t.Errorf("third packet should sit at 2s, got %d", written[2].pts)
	}

	if len(rig.notifier.started) != 1 {
		t.Fatalf("expected one started notification, got %d", len(rig.notifier.started))
	}
	base := rig.notifier.started[0]
	if !strings.Contains(base, "rec_cam01_") || !strings.HasSuffix(base, ".mp4") {
		t.Errorf("unexpected recording path: %s", base)
	}
}

func TestWriteRebasesToOutputTimeBase(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 0})
	rig.writer.timeBase = media.Rational{Num: 1, Den: 1000} // milliseconds
	rig.rec.handleInfo(testInfo)
	rig.rec.handleStart()

	rig.rec.handlePacket(pkt(1.0))
	rig.rec.handlePacket(pkt(1.5))

	written := rig.writer.packets()
	if len(written) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(written))
	}
	if written[0].pts != 0 || written[1].pts != 500 {
		t.Errorf("expected pts 0 and 500ms, got %d and %d", written[0].pts, written[1].pts)
	}
	if written[0].duration != 33 {
		t.Errorf("expected 33ms duration, got %d", written[0].duration)
	}
	if !written[0].key {
		t.Error("keyframe flag must be preserved")
	}
}

func TestUnknownTimestampsDoNotAdvanceRecStart(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 0})
	rig.rec.handleInfo(testInfo)
	rig.rec.handleStart()

	rig.rec.handlePacket(noTsPkt())
	if rig.rec.recStartPts != media.NoPTS {
		t.Errorf("timestampless packet must not set rec start, got %d", rig.rec.recStartPts)
	}
	written := rig.writer.packets()
	if written[0].pts != media.NoPTS || written[0].dts != media.NoPTS {
		t.Errorf("unknown timestamps must stay unknown, got %+v", written[0])
	}

	rig.rec.handlePacket(pkt(2.0))
	if rig.rec.recStartPts != 2*tb90k {
		t.Errorf("first known timestamp should become rec start, got %d", rig.rec.recStartPts)
	}
}

func TestStartWhileRecordingIsNoop(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 5.0})
	rig.rec.handleInfo(testInfo)
	rig.rec.handleStart()
	rig.rec.handleStart()

	if rig.opens != 1 {
		t.Errorf("expected a single open, got %d", rig.opens)
	}
	if len(rig.notifier.started) != 1 {
		t.Errorf("expected a single started notification, got %d", len(rig.notifier.started))
	}
}

func TestStartRollsBackOnWriterError(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 5.0})
	rig.openErr = fmt.Errorf("disk full")
	rig.rec.handleInfo(testInfo)
	rig.rec.handleStart()

	if rig.rec.state != stateIdle {
		t.Errorf("failed start must stay Idle, got %v", rig.rec.state)
	}
	if len(rig.notifier.started) != 0 {
		t.Error("failed start must not notify")
	}
}

func TestWriteErrorDoesNotAbortRecording(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 0})
	rig.rec.handleInfo(testInfo)
	rig.rec.handleStart()

	rig.writer.writeErr = fmt.Errorf("io error")
	rig.rec.handlePacket(pkt(1.0))

	if rig.rec.state != stateRecording {
		t.Errorf("write errors must not leave the Recording state, got %v", rig.rec.state)
	}
}

func TestStopWithoutPostRollFinalizesImmediately(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 0, PostRollSeconds: 0})
	rig.rec.handleInfo(testInfo)
	rig.rec.handleStart()
	rig.rec.handleStop()

	if !rig.writer.isClosed() {
		t.Error("writer should be closed synchronously")
	}
	if rig.rec.state != stateIdle {
		t.Errorf("expected Idle after stop, got %v", rig.rec.state)
	}
	if rig.notifier.stoppedCount() != 1 {
		t.Errorf("expected one stopped notification, got %d", rig.notifier.stoppedCount())
	}
	if rig.notifier.finalizedCount() != 1 {
		t.Errorf("expected one finalized notification, got %d", rig.notifier.finalizedCount())
	}
}

func TestStopNowHintStopsAfterStart(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 0, PostRollSeconds: 0})
	rig.notifier.stopNow = true
	rig.rec.handleInfo(testInfo)
	rig.rec.handleStart()

	if rig.rec.state != stateIdle {
		t.Errorf("queued stop should finalize right after start, got %v", rig.rec.state)
	}
	if !rig.writer.isClosed() {
		t.Error("writer should be closed")
	}
}

func TestPostRollKeepsWritingUntilTimer(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 0, PostRollSeconds: 0.1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		rig.rec.Run(ctx)
		close(done)
	}()

	rig.rec.OnStreamInfo(testInfo)
	rig.rec.Start()
	rig.rec.OnPacket(pkt(1.0))
	rig.rec.Stop()

	// Stopped is published immediately, before the post-roll elapses.
	deadline := time.Now().Add(50 * time.Millisecond)
	for rig.notifier.stoppedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if rig.notifier.stoppedCount() != 1 {
		t.Fatal("stopped notification should be published before finalize")
	}
	if rig.writer.isClosed() {
		t.Fatal("file must stay open during the post-roll window")
	}

	// Packets arriving in the window are preserved.
	rig.rec.OnPacket(pkt(1.1))

	deadline = time.Now().Add(time.Second)
	for rig.notifier.finalizedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rig.notifier.finalizedCount() != 1 {
		t.Fatal("recording should finalize after the post-roll timer")
	}
	if !rig.writer.isClosed() {
		t.Error("writer should be closed after finalize")
	}
	if got := len(rig.writer.packets()); got != 2 {
		t.Errorf("post-roll packet was dropped, wrote %d packets", got)
	}

	cancel()
	<-done
}

func TestSecondStopDuringPostRollIsNoop(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 0, PostRollSeconds: 5})
	rig.rec.handleInfo(testInfo)
	rig.rec.handleStart()
	rig.rec.handleStop()
	rig.rec.handleStop()

	if rig.notifier.stoppedCount() != 1 {
		t.Errorf("second stop must be a no-op, got %d notifications", rig.notifier.stoppedCount())
	}
	if rig.rec.state != stateStopping {
		t.Errorf("state should remain Stopping, got %v", rig.rec.state)
	}
}

func TestShutdownFinalizesOpenFile(t *testing.T) {
	rig := newTestRig(t, Params{PreRollSeconds: 0, PostRollSeconds: 10})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		rig.rec.Run(ctx)
		close(done)
	}()

	rig.rec.OnStreamInfo(testInfo)
	rig.rec.Start()

	deadline := time.Now().Add(time.Second)
	for rig.notifier.startedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done

	if !rig.writer.isClosed() {
		t.Error("in-flight file must be finalized on shutdown")
	}
}
