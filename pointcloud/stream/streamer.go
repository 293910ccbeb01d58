// Package stream encodes point clouds into compact self-describing messages for streaming to
// display clients, and decodes them back.
package stream

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"go.viam.com/tabletop/logging"
	"go.viam.com/tabletop/pointcloud"
)

const neverSent = math.MinInt64

// Stats accumulate over the frames a Streamer has encoded.
type Stats struct {
	FramesSent          int64         `json:"frames_sent"`
	BytesSent           int64         `json:"bytes_sent"`
	AvgCompressionRatio float64       `json:"avg_compression_ratio"`
	LastEncodeTime      time.Duration `json:"last_encode_time"`
}

// Streamer samples, packs and rate limits point clouds. It is safe for concurrent use.
type Streamer struct {
	cfg         Config
	logger      logging.Logger
	clock       clock.Clock
	minInterval time.Duration
	lastSend    *atomic.Int64

	mu    sync.Mutex
	rng   *rand.Rand
	stats Stats
}

// Option customizes a Streamer.
type Option func(*Streamer)

// WithClock replaces the wall clock used for rate limiting.
func WithClock(clk clock.Clock) Option {
	return func(s *Streamer) {
		s.clock = clk
	}
}

// WithRand replaces the source used to subsample large clouds.
func WithRand(rng *rand.Rand) Option {
	return func(s *Streamer) {
		s.rng = rng
	}
}

// NewStreamer validates cfg and returns a Streamer.
func NewStreamer(cfg Config, logger logging.Logger, opts ...Option) (*Streamer, error) {
	if err := cfg.Validate("streaming"); err != nil {
		return nil, err
	}
	s := &Streamer{
		cfg:         cfg,
		logger:      logger,
		clock:       clock.New(),
		minInterval: time.Second / time.Duration(cfg.TargetFPS),
		lastSend:    atomic.NewInt64(neverSent),
		//nolint:gosec
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	logger.Infow("point cloud streamer ready",
		"max_points", cfg.MaxPoints, "compression", cfg.Compression, "target_fps", cfg.TargetFPS)
	return s, nil
}

// Config returns the streamer configuration.
func (s *Streamer) Config() Config {
	return s.cfg
}

// ShouldSend reports whether at least 1/TargetFPS has passed since it last returned true, and
// if so records now as the last send.
func (s *Streamer) ShouldSend() bool {
	now := s.clock.Now().UnixNano()
	last := s.lastSend.Load()
	if last != neverSent && time.Duration(now-last) < s.minInterval {
		return false
	}
	return s.lastSend.CompareAndSwap(last, now)
}

// Stats returns a snapshot of the accumulated statistics.
func (s *Streamer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ResetStats zeroes the accumulated statistics.
func (s *Streamer) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = Stats{}
}

func (s *Streamer) recordFrame(bytesSent int, ratio float64, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.FramesSent++
	s.stats.BytesSent += int64(bytesSent)
	s.stats.AvgCompressionRatio = s.stats.AvgCompressionRatio*0.9 + ratio*0.1
	s.stats.LastEncodeTime = took
}

func (s *Streamer) recordEncodeTime(took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.LastEncodeTime = took
}

// limit subsamples pc down to MaxPoints without replacement.
func (s *Streamer) limit(pc *pointcloud.PointCloud) *pointcloud.PointCloud {
	if pc.NumPoints() <= s.cfg.MaxPoints {
		return pc
	}
	s.mu.Lock()
	indices := pointcloud.SampleIndices(pc.NumPoints(), s.cfg.MaxPoints, s.rng)
	s.mu.Unlock()
	return pc.Subset(indices)
}

// EncodeOptimized encodes pc in binary form if ShouldSend allows it, and returns nil otherwise.
func (s *Streamer) EncodeOptimized(pc *pointcloud.PointCloud) (*Message, error) {
	if !s.ShouldSend() {
		return nil, nil
	}
	return s.EncodeBinary(pc)
}

// NewPointCloudMessage encodes pc in the given format with streamer, or with a default
// streamer when streamer is nil.
func NewPointCloudMessage(pc *pointcloud.PointCloud, streamer *Streamer, format Format) (*Message, error) {
	if streamer == nil {
		var err error
		streamer, err = NewStreamer(DefaultConfig(), logging.NewBlankLogger("stream"))
		if err != nil {
			return nil, err
		}
	}
	if format == FormatJSON {
		return streamer.EncodeJSON(pc), nil
	}
	return streamer.EncodeBinary(pc)
}

func timestampSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func timeFromSeconds(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}

func boundsOf(pc *pointcloud.PointCloud) *Bounds {
	minPt, maxPt, ok := pc.Bounds()
	if !ok {
		return nil
	}
	return &Bounds{
		Min: [3]float64{minPt.X, minPt.Y, minPt.Z},
		Max: [3]float64{maxPt.X, maxPt.Y, maxPt.Z},
	}
}
