package stream

// Format is the encoding of a message payload.
type Format string

const (
	// FormatBinary carries a base64 packed buffer in Data.
	FormatBinary = Format("binary")
	// FormatJSON carries plain Points and Colors lists.
	FormatJSON = Format("json")
)

// MessageType is the value of Message.Type for every point cloud message.
const MessageType = "pointcloud"

// Bounds is the axis aligned box of the points actually sent.
type Bounds struct {
	Min [3]float64 `json:"min"`
	Max [3]float64 `json:"max"`
}

// EncodeStats describe the cost of one encode.
type EncodeStats struct {
	RawSize          int     `json:"raw_size,omitempty"`
	CompressedSize   int     `json:"compressed_size,omitempty"`
	CompressionRatio float64 `json:"compression_ratio,omitempty"`
	EncodeTimeMs     float64 `json:"encode_time_ms"`
	OriginalPoints   int     `json:"original_points"`
}

// Message is the wire shape handed to the network layer.
type Message struct {
	Type         string       `json:"type"`
	Format       Format       `json:"format"`
	NumPoints    int          `json:"num_points"`
	Data         string       `json:"data,omitempty"`
	Points       [][3]float64 `json:"points,omitempty"`
	Colors       [][3]float64 `json:"colors,omitempty"`
	Compressed   bool         `json:"compressed"`
	Quantized    bool         `json:"quantized"`
	QuantizeBits int          `json:"quantize_bits,omitempty"`
	HasColors    bool         `json:"has_colors"`
	Bounds       *Bounds      `json:"bounds,omitempty"`
	// Timestamp is in seconds since the epoch.
	Timestamp float64      `json:"timestamp"`
	Stats     *EncodeStats `json:"stats,omitempty"`
}
