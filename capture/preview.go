package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"

	astiav "github.com/asticode/go-astiav"
)

// frameBuf keeps the latest decoded frame of one stream as tightly packed
// BGRA. Readers get a copy-free view under the read lock.
type frameBuf struct {
	mu  sync.RWMutex
	seq uint64
	w   int
	h   int
	b   []byte
}

func (f *frameBuf) put(w, h int, src []byte) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := w * h * 4
	if cap(f.b) < n {
		f.b = make([]byte, n)
	} else {
		f.b = f.b[:n]
	}
	copy(f.b, src)
	f.w = w
	f.h = h
	return atomic.AddUint64(&f.seq, 1)
}

// get returns (seq, w, h, data). seq==0 means no frame yet.
func (f *frameBuf) get() (uint64, int, int, []byte) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return atomic.LoadUint64(&f.seq), f.w, f.h, f.b
}

// Hub stores the latest preview frame and connectivity status text per
// stream. It is the optional UI sink; capture never blocks on it.
type Hub struct {
	mu     sync.RWMutex
	frames map[string]*frameBuf
	status map[string]string
}

func NewHub() *Hub {
	return &Hub{
		frames: make(map[string]*frameBuf),
		status: make(map[string]string),
	}
}

func (h *Hub) buf(streamID string) *frameBuf {
	h.mu.Lock()
	defer h.mu.Unlock()
	fb, ok := h.frames[streamID]
	if !ok {
		fb = &frameBuf{}
		h.frames[streamID] = fb
	}
	return fb
}

// PublishFrame stores a tightly packed BGRA frame.
func (h *Hub) PublishFrame(streamID string, w, hh int, bgra []byte) {
	h.buf(streamID).put(w, hh, bgra)
	h.mu.Lock()
	delete(h.status, streamID)
	h.mu.Unlock()
}

// PublishStatus replaces the live frame with a status text such as
// "ACQUIRING" or "STREAM FAILED".
func (h *Hub) PublishStatus(streamID, text string) {
	h.mu.Lock()
	h.status[streamID] = text
	h.mu.Unlock()
}

// Status returns the status text, or "" when a live frame is current.
func (h *Hub) Status(streamID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status[streamID]
}

// JPEG encodes the latest frame of streamID. Returns an error when no frame
// has been decoded yet.
func (h *Hub) JPEG(streamID string, quality int) ([]byte, error) {
	h.mu.RLock()
	fb, ok := h.frames[streamID]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no frame for stream %q", streamID)
	}
	seq, w, hh, bgra := fb.get()
	if seq == 0 || w <= 0 || hh <= 0 {
		return nil, fmt.Errorf("no frame for stream %q", streamID)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, hh))
	fb.mu.RLock()
	for i := 0; i+3 < len(bgra) && i+3 < len(img.Pix); i += 4 {
		img.Pix[i] = bgra[i+2]
		img.Pix[i+1] = bgra[i+1]
		img.Pix[i+2] = bgra[i]
		img.Pix[i+3] = 0xff
	}
	fb.mu.RUnlock()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// bgraScaler converts decoded frames to tightly packed BGRA through the
// software scaler, so no pixel plane layout leaks into Go code.
type bgraScaler struct {
	ssc        *astiav.SoftwareScaleContext
	dst        *astiav.Frame
	srcW, srcH int
	srcPix     astiav.PixelFormat
	dstW, dstH int
}

func (s *bgraScaler) close() {
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
}

func (s *bgraScaler) ensure(src *astiav.Frame) error {
	sw, sh := src.Width(), src.Height()
	sp := src.PixelFormat()

	if s.ssc != nil && sw == s.srcW && sh == s.srcH && sp == s.srcPix {
		return nil
	}
	s.close()

	ssc, err := astiav.CreateSoftwareScaleContext(
		sw, sh, sp,
		sw, sh, astiav.PixelFormatBgra,
		astiav.NewSoftwareScaleContextFlags(),
	)
	if err != nil {
		return fmt.Errorf("create software scale context (%dx%d %v): %w", sw, sh, sp, err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(sw)
	dst.SetHeight(sh)
	dst.SetPixelFormat(astiav.PixelFormatBgra)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return fmt.Errorf("alloc destination buffer: %w", err)
	}

	s.ssc = ssc
	s.dst = dst
	s.srcW, s.srcH, s.srcPix = sw, sh, sp
	s.dstW, s.dstH = sw, sh
	return nil
}

// toBGRA converts a decoded frame into a tightly packed BGRA slice.
func (s *bgraScaler) toBGRA(src *astiav.Frame) (int, int, []byte, error) {
	if err := s.ensure(src); err != nil {
		return 0, 0, nil, err
	}
	if err := s.ssc.ScaleFrame(src, s.dst); err != nil {
		return 0, 0, nil, fmt.Errorf("scale frame: %w", err)
	}
	n, err := s.dst.ImageBufferSize(1)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("image buffer size: %w", err)
	}
	out := make([]byte, n)
	if _, err := s.dst.ImageCopyToBuffer(out, 1); err != nil {
		return 0, 0, nil, fmt.Errorf("image copy to buffer: %w", err)
	}
	return s.dstW, s.dstH, out, nil
}
