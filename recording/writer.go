package recording

import (
	"fmt"

	"lite-nvr/media"

	astiav "github.com/asticode/go-astiav"
)

// mp4Writer muxes encoded video packets into a single-track MP4 file.
type mp4Writer struct {
	oc *astiav.FormatContext
	pb *astiav.IOContext
	st *astiav.Stream
}

// NewMP4Writer opens path, creates one video stream from info and writes the
// container header. On any failure partially created resources are freed and
// an error is returned.
func NewMP4Writer(path string, info media.StreamInfo) (PacketWriter, error) {
	oc, err := astiav.AllocOutputFormatContext(nil, "mp4", path)
	if err != nil || oc == nil {
		return nil, fmt.Errorf("alloc output context: %w", err)
	}

	st := oc.NewStream(nil)
	if st == nil {
		oc.Free()
		return nil, fmt.Errorf("new stream failed")
	}

	cp := st.CodecParameters()
	cp.SetMediaType(astiav.MediaTypeVideo)
	cp.SetCodecID(astiav.CodecID(info.CodecID))
	cp.SetWidth(info.Width)
	cp.SetHeight(info.Height)
	if len(info.ExtraData) > 0 {
		// SetExtraData copies with the codec padding the muxer requires.
		if err := cp.SetExtraData(info.ExtraData); err != nil {
			oc.Free()
			return nil, fmt.Errorf("set extradata: %w", err)
		}
	}
	st.SetTimeBase(astiav.NewRational(info.TimeBase.Num, info.TimeBase.Den))

	pb, err := astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
	if err != nil {
		oc.Free()
		return nil, fmt.Errorf("open io context: %w", err)
	}
	oc.SetPb(pb)

	if err := oc.WriteHeader(nil); err != nil {
		_ = pb.Close()
		pb.Free()
		oc.Free()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &mp4Writer{oc: oc, pb: pb, st: st}, nil
}

// TimeBase returns the output stream time base chosen by the muxer after the
// header was written.
func (w *mp4Writer) TimeBase() media.Rational {
	tb := w.st.TimeBase()
	return media.Rational{Num: tb.Num(), Den: tb.Den()}
}

func (w *mp4Writer) WritePacket(data []byte, pts, dts, duration int64, key bool) error {
	pkt := astiav.AllocPacket()
	defer pkt.Free()

	if err := pkt.FromData(data); err != nil {
		return fmt.Errorf("packet from data: %w", err)
	}
	pkt.SetStreamIndex(w.st.Index())
	pkt.SetPts(pts)
	pkt.SetDts(dts)
	pkt.SetDuration(duration)
	if key {
		pkt.SetFlags(pkt.Flags().Add(astiav.PacketFlagKey))
	}

	return w.oc.WriteInterleavedFrame(pkt)
}

// Close writes the trailer and releases the output context.
func (w *mp4Writer) Close() error {
	err := w.oc.WriteTrailer()
	if w.pb != nil {
		if cerr := w.pb.Close(); err == nil {
			err = cerr
		}
		w.pb.Free()
		w.pb = nil
	}
	w.oc.Free()
	w.oc = nil
	return err
}
