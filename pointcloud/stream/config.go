package stream

import (
	"github.com/pkg/errors"
)

// Config controls how a Streamer samples and packs clouds.
type Config struct {
	MaxPoints        int  `json:"max_points"`
	Compression      bool `json:"compression"`
	CompressionLevel int  `json:"compression_level"`
	QuantizePosition bool `json:"quantize_position"`
	// QuantizeBits is the precision of each quantized axis, at most 16.
	QuantizeBits  int  `json:"quantize_bits"`
	IncludeColors bool `json:"include_colors"`
	TargetFPS     int  `json:"target_fps"`
}

// DefaultConfig sends up to 50000 compressed, 16 bit quantized, colored points at 15 fps.
func DefaultConfig() Config {
	return Config{
		MaxPoints:        50000,
		Compression:      true,
		CompressionLevel: 6,
		QuantizePosition: true,
		QuantizeBits:     16,
		IncludeColors:    true,
		TargetFPS:        15,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.MaxPoints <= 0 {
		return errors.Errorf("%s: max_points must be positive, got %d", path, cfg.MaxPoints)
	}
	if cfg.Compression && (cfg.CompressionLevel < 1 || cfg.CompressionLevel > 9) {
		return errors.Errorf("%s: compression_level must be in [1, 9], got %d", path, cfg.CompressionLevel)
	}
	if cfg.QuantizePosition && (cfg.QuantizeBits < 1 || cfg.QuantizeBits > 16) {
		return errors.Errorf("%s: quantize_bits must be in [1, 16], got %d", path, cfg.QuantizeBits)
	}
	if cfg.TargetFPS <= 0 {
		return errors.Errorf("%s: target_fps must be positive, got %d", path, cfg.TargetFPS)
	}
	return nil
}
