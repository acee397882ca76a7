package recording

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"lite-nvr/media"
)

// prerollMaxPackets caps the ring so streams that never produce usable
// timestamps cannot grow it without bound.
const prerollMaxPackets = 10000

// Params configures one recorder.
type Params struct {
	PreRollSeconds  float64
	PostRollSeconds float64
	FolderBase      string
}

// Notifier receives recorder lifecycle events. RecordingStarted returns true
// when a stop request was queued behind the start, in which case the recorder
// stops again immediately.
type Notifier interface {
	RecordingStarted(streamID, path string) (stopNow bool)
	RecordingStopped(streamID string)
	RecordingFinalized(streamID, path string)
}

// PacketWriter is the container writer the recorder drives. Implementations
// open the file and write the header before returning from the factory, and
// finalize it in Close.
type PacketWriter interface {
	// TimeBase is the output stream time base the muxer settled on.
	TimeBase() media.Rational
	WritePacket(data []byte, pts, dts, duration int64, key bool) error
	Close() error
}

// WriterFactory opens a container writer for path using the captured stream
// info. It must roll back any partially created resources on error.
type WriterFactory func(path string, info media.StreamInfo) (PacketWriter, error)

type recState int

const (
	stateIdle recState = iota
	stateRecording
	stateStopping
)

type msgKind int

const (
	msgPacket msgKind = iota
	msgInfo
	msgStart
	msgStop
	msgFinalize
)

type message struct {
	kind   msgKind
	packet media.EncodedPacket
	info   media.StreamInfo
}

// Recorder consumes the capture packet stream for one stream id, keeps a
// time-bounded pre-roll ring and writes MP4 files on command. All state is
// owned by the Run goroutine; the exported methods only post messages.
type Recorder struct {
	streamID string
	params   Params
	factory  WriterFactory
	notifier Notifier
	inbox    chan message

	// loop-owned state
	state       recState
	info        media.StreamInfo
	infoReady   bool
	preroll     []media.EncodedPacket
	writer      PacketWriter
	outTimeBase media.Rational
	recStartPts int64
	currentPath string
}

func NewRecorder(streamID string, params Params, factory WriterFactory, notifier Notifier) *Recorder {
	return &Recorder{
		streamID:    streamID,
		params:      params,
		factory:     factory,
		notifier:    notifier,
		inbox:       make(chan message, 1024),
		recStartPts: media.NoPTS,
	}
}

// OnStreamInfo delivers a provisional or refined stream info. Called from
// the capture loop, so it must not block either.
func (r *Recorder) OnStreamInfo(info media.StreamInfo) {
	select {
	case r.inbox <- message{kind: msgInfo, info: info}:
	default:
		log.Printf("[REC] %s inbox full, dropping stream info", r.streamID)
	}
}

// OnPacket delivers one encoded video packet. The recorder takes ownership
// of the payload. The capture loop must never stall on a wedged recorder,
// so a saturated inbox drops the packet.
func (r *Recorder) OnPacket(p media.EncodedPacket) {
	select {
	case r.inbox <- message{kind: msgPacket, packet: p}:
	default:
		log.Printf("[REC] %s inbox full, dropping packet", r.streamID)
	}
}

// Start requests a new recording.
func (r *Recorder) Start() {
	r.inbox <- message{kind: msgStart}
}

// Stop requests the current recording to end after the post-roll window.
func (r *Recorder) Stop() {
	r.inbox <- message{kind: msgStop}
}

// Run services the inbox until ctx is cancelled. An in-flight file is
// finalized before returning.
func (r *Recorder) Run(ctx context.Context) {
	log.Printf("[REC] %s recorder started", r.streamID)
	for {
		select {
		case <-ctx.Done():
			if r.writer != nil {
				r.finalize()
			}
			log.Printf("[REC] %s recorder finished", r.streamID)
			return
		case m := <-r.inbox:
			switch m.kind {
			case msgPacket:
				r.handlePacket(m.packet)
			case msgInfo:
				r.handleInfo(m.info)
			case msgStart:
				r.handleStart()
			case msgStop:
				r.handleStop()
			case msgFinalize:
				r.handleFinalize()
			}
		}
	}
}

func (r *Recorder) handleInfo(info media.StreamInfo) {
	r.info = info
	r.infoReady = info.Ready()
	log.Printf("[REC] %s stream info ready (codec=%d %dx%d tb=%d/%d extradata=%dB)",
		r.streamID, info.CodecID, info.Width, info.Height,
		info.TimeBase.Num, info.TimeBase.Den, len(info.ExtraData))
}

func (r *Recorder) handlePacket(p media.EncodedPacket) {
	if r.state == stateIdle {
		r.bufferPreroll(p)
		return
	}
	r.writePacket(p)
}

// bufferPreroll appends p and trims the front while the ring spans more
// media time than the configured pre-roll. Packets with no usable timestamp
// stop the trim; the next timestamped arrival reconsiders them.
func (r *Recorder) bufferPreroll(p media.EncodedPacket) {
	r.preroll = append(r.preroll, p)

	last := r.preroll[len(r.preroll)-1]
	if lastTs := last.Timestamp(); lastTs != media.NoPTS {
		lastSec := last.TimeBase.Seconds(lastTs)
		for len(r.preroll) > 0 {
			first := r.preroll[0]
			firstTs := first.Timestamp()
			if firstTs == media.NoPTS {
				break
			}
			if lastSec-first.TimeBase.Seconds(firstTs) > r.params.PreRollSeconds {
				r.preroll = r.preroll[1:]
			} else {
				break
			}
		}
	}
	for len(r.preroll) > prerollMaxPackets {
		r.preroll = r.preroll[1:]
	}
}

func (r *Recorder) handleStart() {
	if r.state != stateIdle {
		log.Printf("[REC] %s already recording", r.streamID)
		return
	}
	if !r.infoReady {
		log.Printf("[REC] %s stream info not ready", r.streamID)
		return
	}

	path := filepath.Join(r.params.FolderBase, recordFilename(r.streamID, time.Now()))
	w, err := r.factory(path, r.info)
	if err != nil {
		log.Printf("[REC] %s failed to open %s: %v", r.streamID, path, err)
		return
	}

	r.writer = w
	r.outTimeBase = w.TimeBase()
	r.recStartPts = media.NoPTS
	r.currentPath = path
	r.state = stateRecording

	for _, p := range r.preroll {
		r.writePacket(p)
	}
	r.preroll = nil

	log.Printf("[REC] %s started recording -> %s", r.streamID, path)
	if r.notifier.RecordingStarted(r.streamID, path) {
		log.Printf("[REC] %s stop was queued during start, stopping now", r.streamID)
		r.handleStop()
	}
}

func (r *Recorder) writePacket(p media.EncodedPacket) {
	if r.writer == nil {
		return
	}

	src := p.Timestamp()
	if r.recStartPts == media.NoPTS && src != media.NoPTS {
		r.recStartPts = src
	}

	pts := media.NoPTS
	if p.Pts != media.NoPTS && r.recStartPts != media.NoPTS {
		pts = media.Rescale(p.Pts-r.recStartPts, p.TimeBase, r.outTimeBase)
	}
	dts := media.NoPTS
	if p.Dts != media.NoPTS && r.recStartPts != media.NoPTS {
		dts = media.Rescale(p.Dts-r.recStartPts, p.TimeBase, r.outTimeBase)
	}
	var duration int64
	if p.Duration > 0 {
		duration = media.Rescale(p.Duration, p.TimeBase, r.outTimeBase)
	}

	if err := r.writer.WritePacket(p.Data, pts, dts, duration, p.Key); err != nil {
		log.Printf("[REC] %s error writing frame: %v", r.streamID, err)
	}
}

func (r *Recorder) handleStop() {
	switch r.state {
	case stateIdle:
		log.Printf("[REC] %s not recording", r.streamID)
		return
	case stateStopping:
		return
	}

	if r.params.PostRollSeconds <= 0 {
		r.finalize()
		r.notifier.RecordingStopped(r.streamID)
		return
	}

	r.state = stateStopping
	delay := time.Duration(r.params.PostRollSeconds * float64(time.Second))
	time.AfterFunc(delay, func() {
		r.inbox <- message{kind: msgFinalize}
	})
	// Notify now so the control plane is not held hostage by the tail
	// buffering; packets keep flowing into the open file meanwhile.
	r.notifier.RecordingStopped(r.streamID)
	log.Printf("[REC] %s stopping, post-roll %.2fs", r.streamID, r.params.PostRollSeconds)
}

func (r *Recorder) handleFinalize() {
	if r.state != stateStopping {
		return
	}
	r.finalize()
}

func (r *Recorder) finalize() {
	if r.writer == nil {
		r.state = stateIdle
		return
	}
	if err := r.writer.Close(); err != nil {
		log.Printf("[REC] %s error finalizing %s: %v", r.streamID, r.currentPath, err)
	}
	log.Printf("[REC] %s stopped recording -> %s", r.streamID, r.currentPath)
	r.writer = nil
	r.recStartPts = media.NoPTS
	r.state = stateIdle
	r.notifier.RecordingFinalized(r.streamID, r.currentPath)
	r.currentPath = ""
}

// recordFilename builds "rec_<id>_<YYYY-MM-DD_HH-MM-SS>.mp4" in local time.
func recordFilename(streamID string, t time.Time) string {
	return fmt.Sprintf("rec_%s_%s.mp4", streamID, t.Format("2006-01-02_15-04-05"))
}
