package media

import "math"

// NoPTS marks an unknown pts/dts value. Matches the muxer's AV_NOPTS_VALUE
// bit pattern so packet timestamps cross the capture boundary unchanged.
const NoPTS int64 = math.MinInt64

// Rational is a time base expressed as Num/Den.
type Rational struct {
	Num int `json:"num"`
	Den int `json:"den"`
}

// Seconds converts a timestamp counted in this time base to seconds.
func (r Rational) Seconds(ts int64) float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(ts) * float64(r.Num) / float64(r.Den)
}

// Valid reports whether the rational can be used as a time base.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Rescale converts ts from time base src to time base dst, rounding to the
// nearest representable value (half away from zero), the same policy the
// muxer applies when rescaling packet timestamps.
func Rescale(ts int64, src, dst Rational) int64 {
	if ts == NoPTS {
		return NoPTS
	}
	num := int64(src.Num) * int64(dst.Den)
	den := int64(src.Den) * int64(dst.Num)
	if den == 0 {
		return 0
	}
	if den < 0 {
		num, den = -num, -den
	}
	v := ts * num
	if v >= 0 {
		return (v + den/2) / den
	}
	return -((-v + den/2) / den)
}

// StreamInfo describes the video elementary stream of a capture session. It
// is published once codec parameters are known and again, refined, after the
// first decoded frame.
type StreamInfo struct {
	StreamID  string
	Width     int
	Height    int
	TimeBase  Rational
	CodecID   int
	ExtraData []byte
}

// Ready reports whether the info is complete enough to open an output file.
func (si StreamInfo) Ready() bool {
	return si.CodecID != 0 && si.TimeBase.Valid()
}

// EncodedPacket is one demuxed video packet. Data is an owned copy; the
// demuxer's buffer is invalidated on the next read.
type EncodedPacket struct {
	StreamID string
	Data     []byte
	Pts      int64
	Dts      int64
	Duration int64
	Key      bool
	TimeBase Rational
}

// Timestamp returns pts when known, else dts, else NoPTS.
func (p EncodedPacket) Timestamp() int64 {
	if p.Pts != NoPTS {
		return p.Pts
	}
	return p.Dts
}
