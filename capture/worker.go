package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"lite-nvr/media"

	astiav "github.com/asticode/go-astiav"
)

const (
	// Retry window after a failed RTSP open.
	reconnectDelay = 5 * time.Second
	// Status frame rate while waiting to reconnect.
	statusFPS = 5
)

// Sink absorbs the capture output: at least one StreamInfo per session,
// then encoded video packets in demux order.
type Sink interface {
	OnStreamInfo(media.StreamInfo)
	OnPacket(media.EncodedPacket)
}

// OnlineFunc is called on every online/offline edge.
type OnlineFunc func(streamID string, online bool)

// Worker owns the RTSP session for one stream. It reconnects forever while
// enabled and fans encoded video packets out to the sink.
type Worker struct {
	streamID string
	url      string
	sink     Sink
	onOnline OnlineFunc
	preview  *Hub // nil when display_mode is off
	enabled  atomic.Bool
	online   bool
}

func NewWorker(streamID, url string, sink Sink, onOnline OnlineFunc, preview *Hub) *Worker {
	return &Worker{
		streamID: streamID,
		url:      url,
		sink:     sink,
		onOnline: onOnline,
		preview:  preview,
	}
}

// Enable lets the worker open the RTSP input. Idempotent.
func (w *Worker) Enable() {
	if !w.enabled.Swap(true) {
		log.Printf("[CAP] %s streaming enabled", w.streamID)
	}
}

// Disable signals the worker to close its input. It never blocks on network
// I/O; the worker closes at its next loop point.
func (w *Worker) Disable() {
	if w.enabled.Swap(false) {
		log.Printf("[CAP] %s streaming disabled", w.streamID)
	}
}

func (w *Worker) setOnline(online bool) {
	if w.online == online {
		return
	}
	w.online = online
	w.onOnline(w.streamID, online)
	log.Printf("[CAP] %s online=%v", w.streamID, online)
}

// session holds the open demuxer and decoder for one connection.
type session struct {
	fc         *astiav.FormatContext
	decCtx     *astiav.CodecContext
	videoIndex int
	codecID    int
	timeBase   media.Rational
	gotFrame   bool
	scaler     *bgraScaler
}

func (s *session) close() {
	if s.scaler != nil {
		s.scaler.close()
		s.scaler = nil
	}
	if s.decCtx != nil {
		s.decCtx.Free()
		s.decCtx = nil
	}
	if s.fc != nil {
		s.fc.CloseInput()
		s.fc.Free()
		s.fc = nil
	}
}

// Run drives the capture state machine until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("[CAP] %s capture started (%s)", w.streamID, w.url)

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	frame := astiav.AllocFrame()
	defer frame.Free()

	var sess *session
	defer func() {
		if sess != nil {
			sess.close()
		}
		w.setOnline(false)
		log.Printf("[CAP] %s capture finished", w.streamID)
	}()

	for ctx.Err() == nil {
		if !w.enabled.Load() {
			if sess != nil {
				sess.close()
				sess = nil
			}
			w.setOnline(false)
			w.publishStatus("NO SIGNAL")
			if !sleepCtx(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}

		if sess == nil {
			w.publishStatus("ACQUIRING")
			s, err := w.openInput()
			if err != nil {
				w.setOnline(false)
				log.Printf("[CAP] %s open failed: %v, retrying in %s", w.streamID, err, reconnectDelay)
				w.failedBackoff(ctx)
				continue
			}
			sess = s
			w.setOnline(true)
		}

		if err := sess.fc.ReadFrame(pkt); err != nil {
			log.Printf("[CAP] %s read error: %v, closing and retrying", w.streamID, err)
			sess.close()
			sess = nil
			w.setOnline(false)
			pkt.Unref()
			continue
		}

		if pkt.StreamIndex() != sess.videoIndex {
			pkt.Unref()
			continue
		}

		// Payload is copied: the demux buffer is invalidated on the next read.
		data := make([]byte, len(pkt.Data()))
		copy(data, pkt.Data())
		w.sink.OnPacket(media.EncodedPacket{
			StreamID: w.streamID,
			Data:     data,
			Pts:      pkt.Pts(),
			Dts:      pkt.Dts(),
			Duration: pkt.Duration(),
			Key:      pkt.Flags().Has(astiav.PacketFlagKey),
			TimeBase: sess.timeBase,
		})

		w.decodeForPreview(sess, pkt, frame)
		pkt.Unref()
	}
}

// failedBackoff waits out the reconnect delay, emitting "STREAM FAILED"
// status frames at a low rate. Aborts early on disable or shutdown.
func (w *Worker) failedBackoff(ctx context.Context) {
	start := time.Now()
	tick := time.Second / statusFPS
	for time.Since(start) < reconnectDelay {
		if ctx.Err() != nil || !w.enabled.Load() {
			return
		}
		w.publishStatus("STREAM FAILED")
		if !sleepCtx(ctx, tick) {
			return
		}
	}
}

func (w *Worker) openInput() (*session, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("alloc format context failed")
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("rtsp_transport", "tcp", 0)
	_ = opts.Set("stimeout", "5000000", 0) // 5s socket timeout (µs)
	_ = opts.Set("fflags", "nobuffer", 0)
	_ = opts.Set("flags", "low_delay", 0)
	_ = opts.Set("reorder_queue_size", "1", 0)
	_ = opts.Set("probesize", "5000000", 0)
	_ = opts.Set("analyzeduration", "1000000", 0)

	if err := fc.OpenInput(w.url, nil, opts); err != nil {
		fc.Free()
		return nil, fmt.Errorf("open input: %w", err)
	}

	sess := &session{fc: fc, videoIndex: -1}
	if err := fc.FindStreamInfo(nil); err != nil {
		sess.close()
		return nil, fmt.Errorf("find stream info: %w", err)
	}

	var vs *astiav.Stream
	for _, s := range fc.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			vs = s
			sess.videoIndex = s.Index()
			break
		}
	}
	if vs == nil {
		sess.close()
		return nil, errors.New("no video stream")
	}

	par := vs.CodecParameters()
	dec := astiav.FindDecoder(par.CodecID())
	if dec == nil {
		sess.close()
		return nil, fmt.Errorf("no decoder for codec %v", par.CodecID())
	}
	decCtx := astiav.AllocCodecContext(dec)
	if decCtx == nil {
		sess.close()
		return nil, errors.New("alloc codec context failed")
	}
	sess.decCtx = decCtx
	if err := par.ToCodecContext(decCtx); err != nil {
		sess.close()
		return nil, fmt.Errorf("codec parameters to context: %w", err)
	}
	decCtx.SetThreadCount(1)
	if err := decCtx.Open(dec, nil); err != nil {
		sess.close()
		return nil, fmt.Errorf("open decoder: %w", err)
	}

	tb := vs.TimeBase()
	sess.timeBase = media.Rational{Num: tb.Num(), Den: tb.Den()}
	sess.codecID = int(par.CodecID())

	// Provisional info from codec parameters. Width/height may still be 0
	// for H.264 over RTSP; the first decoded frame refines them.
	info := media.StreamInfo{
		StreamID: w.streamID,
		Width:    par.Width(),
		Height:   par.Height(),
		TimeBase: sess.timeBase,
		CodecID:  int(par.CodecID()),
	}
	if ed := par.ExtraData(); len(ed) > 0 {
		info.ExtraData = append([]byte(nil), ed...)
	}
	w.sink.OnStreamInfo(info)

	return sess, nil
}

// decodeForPreview feeds the packet to the decoder. Without a preview hub,
// decoding stops once the first frame has yielded the real geometry, to save
// CPU; with one, every frame is converted to BGRA and published.
func (w *Worker) decodeForPreview(sess *session, pkt *astiav.Packet, frame *astiav.Frame) {
	if w.preview == nil && sess.gotFrame {
		return
	}
	if err := sess.decCtx.SendPacket(pkt); err != nil {
		if !errors.Is(err, astiav.ErrEagain) {
			log.Printf("[CAP] %s send packet to decoder: %v", w.streamID, err)
		}
		return
	}
	for {
		if err := sess.decCtx.ReceiveFrame(frame); err != nil {
			break
		}

		if !sess.gotFrame {
			sess.gotFrame = true
			w.publishRefinedInfo(sess, frame)
		}

		if w.preview != nil {
			if sess.scaler == nil {
				sess.scaler = &bgraScaler{}
			}
			fw, fh, bgra, err := sess.scaler.toBGRA(frame)
			if err != nil {
				log.Printf("[CAP] %s preview convert: %v", w.streamID, err)
			} else {
				w.preview.PublishFrame(w.streamID, fw, fh, bgra)
			}
		}
		frame.Unref()
	}
}

// publishRefinedInfo re-emits StreamInfo with the observed geometry and the
// best available extradata: codec context first, stream parameters second.
func (w *Worker) publishRefinedInfo(sess *session, frame *astiav.Frame) {
	info := media.StreamInfo{
		StreamID: w.streamID,
		Width:    frame.Width(),
		Height:   frame.Height(),
		TimeBase: sess.timeBase,
		CodecID:  sess.codecID,
	}
	ed := sess.decCtx.ExtraData()
	if len(ed) == 0 {
		for _, s := range sess.fc.Streams() {
			if s.Index() == sess.videoIndex {
				ed = s.CodecParameters().ExtraData()
				break
			}
		}
	}
	if len(ed) > 0 {
		info.ExtraData = append([]byte(nil), ed...)
	}
	log.Printf("[CAP] %s first frame decoded: %dx%d", w.streamID, info.Width, info.Height)
	w.sink.OnStreamInfo(info)
}

func (w *Worker) publishStatus(text string) {
	if w.preview != nil {
		w.preview.PublishStatus(w.streamID, text)
	}
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
