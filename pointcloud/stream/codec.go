package stream

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"

	"go.viam.com/tabletop/pointcloud"
)

// ErrCodecMismatch is returned when a message payload does not decode to what its fields claim.
var ErrCodecMismatch = errors.New("point cloud message does not match its encoding")

const (
	headerSize = 5
	boundsSize = 24
	// rangeEpsilon keeps quantization well defined for flat axes.
	rangeEpsilon = 1e-6
)

func maxQuantized(bits int) float64 {
	return float64(uint32(1)<<uint(bits) - 1)
}

// packedSize is the length of an uncompressed payload.
func packedSize(n int, quantized, colors bool) int {
	size := headerSize
	if quantized {
		size += boundsSize + 6*n
	} else {
		size += 12 * n
	}
	if colors {
		size += 3 * n
	}
	return size
}

// quantizationBounds returns the float32 origin and extent of an axis. The origin is at or
// below minV and origin+extent is at or above maxV, so no value is clamped.
func quantizationBounds(minV, maxV float64) (float32, float32) {
	lo := float32(minV)
	if float64(lo) > minV {
		lo = math.Nextafter32(lo, float32(math.Inf(-1)))
	}
	want := maxV - float64(lo) + rangeEpsilon
	span := float32(want)
	if float64(span) < want {
		span = math.Nextafter32(span, float32(math.Inf(1)))
	}
	return lo, span
}

// pack lays out <u32 count><u8 colors>, then positions, then colors, all little endian.
// Quantized positions are preceded by float32 min[3] and range[3] and stored as uint16.
func pack(pc *pointcloud.PointCloud, quantizeBits int, colors bool) []byte {
	n := pc.NumPoints()
	quantized := quantizeBits > 0
	buf := make([]byte, packedSize(n, quantized, colors))
	binary.LittleEndian.PutUint32(buf, uint32(n))
	if colors {
		buf[4] = 1
	}
	off := headerSize

	if quantized {
		minPt, maxPt, _ := pc.Bounds()
		var lo, span [3]float32
		if n > 0 {
			minV := [3]float64{minPt.X, minPt.Y, minPt.Z}
			maxV := [3]float64{maxPt.X, maxPt.Y, maxPt.Z}
			for i := 0; i < 3; i++ {
				lo[i], span[i] = quantizationBounds(minV[i], maxV[i])
			}
		}
		for i := 0; i < 3; i++ {
			binary.LittleEndian.PutUint32(buf[off+4*i:], math.Float32bits(lo[i]))
			binary.LittleEndian.PutUint32(buf[off+12+4*i:], math.Float32bits(span[i]))
		}
		off += boundsSize

		maxQ := maxQuantized(quantizeBits)
		for _, p := range pc.Points {
			for i, v := range [3]float64{p.X, p.Y, p.Z} {
				q := math.Round((v - float64(lo[i])) / float64(span[i]) * maxQ)
				q = math.Max(0, math.Min(maxQ, q))
				binary.LittleEndian.PutUint16(buf[off:], uint16(q))
				off += 2
			}
		}
	} else {
		for _, p := range pc.Points {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(float32(p.Z)))
			off += 12
		}
	}

	if colors {
		for _, c := range pc.Colors {
			buf[off], buf[off+1], buf[off+2] = c.RGB255()
			off += 3
		}
	}
	return buf
}

func compress(raw []byte, level int) ([]byte, error) {
	var out bytes.Buffer
	w, err := zlib.NewWriterLevel(&out, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// EncodeBinary subsamples pc to MaxPoints and packs it into a base64 payload, quantized and
// compressed as configured.
func (s *Streamer) EncodeBinary(pc *pointcloud.PointCloud) (*Message, error) {
	start := s.clock.Now()
	msg := &Message{
		Type:      MessageType,
		Format:    FormatBinary,
		Timestamp: timestampSeconds(pc.Timestamp),
	}
	if pc.NumPoints() == 0 {
		return msg, nil
	}

	sent := s.limit(pc)
	hasColors := sent.HasColors() && s.cfg.IncludeColors
	quantizeBits := 0
	if s.cfg.QuantizePosition {
		quantizeBits = s.cfg.QuantizeBits
	}
	raw := pack(sent, quantizeBits, hasColors)

	payload := raw
	ratio := 1.0
	if s.cfg.Compression {
		var err error
		payload, err = compress(raw, s.cfg.CompressionLevel)
		if err != nil {
			return nil, errors.Wrap(err, "compressing point cloud")
		}
		ratio = float64(len(raw)) / float64(len(payload))
	}
	encoded := base64.StdEncoding.EncodeToString(payload)
	took := s.clock.Since(start)
	s.recordFrame(len(encoded), ratio, took)

	msg.NumPoints = sent.NumPoints()
	msg.Data = encoded
	msg.Compressed = s.cfg.Compression
	msg.Quantized = s.cfg.QuantizePosition
	msg.QuantizeBits = quantizeBits
	msg.HasColors = hasColors
	msg.Bounds = boundsOf(sent)
	msg.Stats = &EncodeStats{
		RawSize:          len(raw),
		CompressedSize:   len(payload),
		CompressionRatio: ratio,
		EncodeTimeMs:     float64(took) / float64(time.Millisecond),
		OriginalPoints:   pc.NumPoints(),
	}
	s.logger.Debugw("encoded point cloud", "points", msg.NumPoints, "bytes", len(encoded), "ratio", ratio)
	return msg, nil
}

// EncodeJSON subsamples pc like EncodeBinary but carries plain coordinate lists.
func (s *Streamer) EncodeJSON(pc *pointcloud.PointCloud) *Message {
	start := s.clock.Now()
	msg := &Message{
		Type:      MessageType,
		Format:    FormatJSON,
		Timestamp: timestampSeconds(pc.Timestamp),
		Points:    [][3]float64{},
	}
	if pc.NumPoints() == 0 {
		return msg
	}

	sent := s.limit(pc)
	msg.NumPoints = sent.NumPoints()
	msg.Points = make([][3]float64, sent.NumPoints())
	for i, p := range sent.Points {
		msg.Points[i] = [3]float64{p.X, p.Y, p.Z}
	}
	if sent.HasColors() && s.cfg.IncludeColors {
		msg.HasColors = true
		msg.Colors = make([][3]float64, sent.NumPoints())
		for i, c := range sent.Colors {
			msg.Colors[i] = [3]float64{c.R, c.G, c.B}
		}
	}
	msg.Bounds = boundsOf(sent)
	took := s.clock.Since(start)
	s.recordEncodeTime(took)
	msg.Stats = &EncodeStats{
		EncodeTimeMs:   float64(took) / float64(time.Millisecond),
		OriginalPoints: pc.NumPoints(),
	}
	return msg
}

// DecodeBinary reverses EncodeBinary using only the message flags and payload. Any
// inconsistency between them yields an error wrapping ErrCodecMismatch.
func DecodeBinary(msg *Message) (*pointcloud.PointCloud, error) {
	if msg == nil {
		return nil, errors.Wrap(ErrCodecMismatch, "nil message")
	}
	if msg.Format != "" && msg.Format != FormatBinary {
		return nil, errors.Wrapf(ErrCodecMismatch, "cannot decode %q message as binary", msg.Format)
	}
	if msg.NumPoints == 0 && msg.Data == "" {
		pc := pointcloud.NewEmpty()
		pc.Timestamp = timeFromSeconds(msg.Timestamp)
		return pc, nil
	}

	payload, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return nil, errors.Wrapf(ErrCodecMismatch, "invalid base64: %v", err)
	}
	raw := payload
	if msg.Compressed {
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, errors.Wrapf(ErrCodecMismatch, "invalid zlib stream: %v", err)
		}
		// one byte past the largest valid payload is enough to reject an oversized stream
		limit := int64(packedSize(msg.NumPoints, msg.Quantized, true)) + 1
		raw, err = io.ReadAll(io.LimitReader(r, limit))
		if closeErr := r.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
		if err != nil {
			return nil, errors.Wrapf(ErrCodecMismatch, "truncated zlib stream: %v", err)
		}
	}

	if len(raw) < headerSize {
		return nil, errors.Wrapf(ErrCodecMismatch, "payload of %d bytes has no header", len(raw))
	}
	n := int(binary.LittleEndian.Uint32(raw))
	hasColors := raw[4] != 0
	if raw[4] > 1 {
		return nil, errors.Wrapf(ErrCodecMismatch, "invalid colors flag %d", raw[4])
	}
	if n != msg.NumPoints {
		return nil, errors.Wrapf(ErrCodecMismatch, "payload has %d points, message says %d", n, msg.NumPoints)
	}
	if want := packedSize(n, msg.Quantized, hasColors); len(raw) != want {
		return nil, errors.Wrapf(ErrCodecMismatch, "payload is %d bytes, expected %d", len(raw), want)
	}

	pts := make([]r3.Vector, n)
	off := headerSize
	if msg.Quantized {
		bits := msg.QuantizeBits
		if bits == 0 {
			bits = 16
		}
		if bits < 1 || bits > 16 {
			return nil, errors.Wrapf(ErrCodecMismatch, "invalid quantize_bits %d", bits)
		}
		var lo, span [3]float64
		for i := 0; i < 3; i++ {
			lo[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[off+4*i:])))
			span[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[off+12+4*i:])))
		}
		off += boundsSize
		maxQ := maxQuantized(bits)
		for i := range pts {
			var v [3]float64
			for a := 0; a < 3; a++ {
				v[a] = lo[a] + float64(binary.LittleEndian.Uint16(raw[off:]))/maxQ*span[a]
				off += 2
			}
			pts[i] = r3.Vector{X: v[0], Y: v[1], Z: v[2]}
		}
	} else {
		for i := range pts {
			pts[i] = r3.Vector{
				X: float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))),
				Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[off+4:]))),
				Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[off+8:]))),
			}
			off += 12
		}
	}

	var colors []pointcloud.Color
	if hasColors {
		colors = make([]pointcloud.Color, n)
		for i := range colors {
			colors[i] = pointcloud.NewColorFromRGB255(raw[off], raw[off+1], raw[off+2])
			off += 3
		}
	}
	pc := pointcloud.New(pts, colors)
	pc.Timestamp = timeFromSeconds(msg.Timestamp)
	return pc, nil
}
