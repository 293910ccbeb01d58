package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
	"go.uber.org/multierr"
)

// PCDType is the DATA encoding of a PCD file.
type PCDType int

const (
	// PCDAscii writes one point per text line.
	PCDAscii PCDType = iota
	// PCDBinary writes packed little endian records.
	PCDBinary
	// PCDCompressed writes LZF compressed columns.
	PCDCompressed
)

func (t PCDType) String() string {
	switch t {
	case PCDAscii:
		return "ascii"
	case PCDBinary:
		return "binary"
	case PCDCompressed:
		return "binary_compressed"
	default:
		return fmt.Sprintf("PCDType(%d)", int(t))
	}
}

// PCDTypeFromString parses the DATA value of a PCD header.
func PCDTypeFromString(s string) (PCDType, error) {
	switch s {
	case "ascii":
		return PCDAscii, nil
	case "binary":
		return PCDBinary, nil
	case "binary_compressed":
		return PCDCompressed, nil
	default:
		return 0, errors.Errorf("unsupported pcd data type %q", s)
	}
}

func colorToPCDInt(c Color) uint32 {
	r, g, b := c.RGB255()
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func pcdIntToColor(v uint32) Color {
	return NewColorFromRGB255(uint8(v>>16), uint8(v>>8), uint8(v))
}

// WriteToPCD writes the cloud as an unorganized PCD v0.7 file with fields x y z, plus a packed
// rgb field when the cloud has colors.
func WriteToPCD(pc *PointCloud, out io.Writer, dataType PCDType) error {
	hasColor := pc.HasColors()
	n := pc.NumPoints()

	var header strings.Builder
	header.WriteString("VERSION .7\n")
	if hasColor {
		header.WriteString("FIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F U\nCOUNT 1 1 1 1\n")
	} else {
		header.WriteString("FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n")
	}
	fmt.Fprintf(&header, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA %s\n", n, n, dataType)
	if _, err := io.WriteString(out, header.String()); err != nil {
		return err
	}

	switch dataType {
	case PCDAscii:
		w := bufio.NewWriter(out)
		for i, p := range pc.Points {
			var err error
			if hasColor {
				_, err = fmt.Fprintf(w, "%f %f %f %d\n", p.X, p.Y, p.Z, colorToPCDInt(pc.Colors[i]))
			} else {
				_, err = fmt.Fprintf(w, "%f %f %f\n", p.X, p.Y, p.Z)
			}
			if err != nil {
				return err
			}
		}
		return w.Flush()
	case PCDBinary:
		fields := 3
		if hasColor {
			fields = 4
		}
		buf := make([]byte, 4*fields*n)
		for i, p := range pc.Points {
			rec := buf[4*fields*i:]
			binary.LittleEndian.PutUint32(rec, math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(rec[4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(rec[8:], math.Float32bits(float32(p.Z)))
			if hasColor {
				binary.LittleEndian.PutUint32(rec[12:], colorToPCDInt(pc.Colors[i]))
			}
		}
		_, err := out.Write(buf)
		return err
	case PCDCompressed:
		return writePCDCompressed(pc, out, hasColor)
	default:
		return errors.Errorf("unsupported pcd data type %v", dataType)
	}
}

// writePCDCompressed stores each field as a contiguous column, then compresses the columns with
// LZF behind a header of compressed and uncompressed sizes.
func writePCDCompressed(pc *PointCloud, out io.Writer, hasColor bool) error {
	n := pc.NumPoints()
	fields := 3
	if hasColor {
		fields = 4
	}
	raw := make([]byte, 4*fields*n)
	for i, p := range pc.Points {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(raw[4*(n+i):], math.Float32bits(float32(p.Y)))
		binary.LittleEndian.PutUint32(raw[4*(2*n+i):], math.Float32bits(float32(p.Z)))
		if hasColor {
			binary.LittleEndian.PutUint32(raw[4*(3*n+i):], colorToPCDInt(pc.Colors[i]))
		}
	}

	compressed := make([]byte, len(raw)+len(raw)/16+64)
	size := 0
	if len(raw) > 0 {
		var err error
		size, err = lzf.Compress(raw, compressed)
		if err != nil {
			return errors.Wrap(err, "lzf compression failed")
		}
	}
	sizes := make([]byte, 8)
	binary.LittleEndian.PutUint32(sizes, uint32(size))
	binary.LittleEndian.PutUint32(sizes[4:], uint32(len(raw)))
	if _, err := out.Write(sizes); err != nil {
		return err
	}
	_, err := out.Write(compressed[:size])
	return err
}

// WritePCDFile writes the cloud to a file at path.
func WritePCDFile(pc *PointCloud, path string, dataType PCDType) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := WriteToPCD(pc, w, dataType); err != nil {
		return err
	}
	return w.Flush()
}

type pcdHeader struct {
	hasColor bool
	points   int
	data     PCDType
}

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %q", name, line)
	}
	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
		case "x y z rgb":
			header.hasColor = true
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "POINTS":
		points, err := strconv.Atoi(value)
		if err != nil || points < 0 {
			return errors.Errorf("invalid POINTS field %s", value)
		}
		header.points = points
	case "DATA":
		t, err := PCDTypeFromString(value)
		if err != nil {
			return err
		}
		header.data = t
	}
	return nil
}

// ReadPCD reads a file written by WriteToPCD in any of the three encodings.
func ReadPCD(inRaw io.Reader) (*PointCloud, error) {
	in := bufio.NewReader(inRaw)
	header := pcdHeader{}
	for index := 0; index < len(pcdHeaderFields); {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", index)
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := parsePCDHeaderLine(line, index, &header); err != nil {
			return nil, err
		}
		index++
	}

	fields := 3
	if header.hasColor {
		fields = 4
	}
	pc := &PointCloud{Points: make([]r3.Vector, header.points)}
	if header.hasColor {
		pc.Colors = make([]Color, header.points)
	}

	switch header.data {
	case PCDAscii:
		for i := 0; i < header.points; i++ {
			line, err := in.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				return nil, errors.Wrapf(err, "reading point %d", i)
			}
			tokens := strings.Fields(line)
			if len(tokens) != fields {
				return nil, errors.Errorf("point %d has %d fields, expected %d", i, len(tokens), fields)
			}
			var xyz [3]float64
			for j := 0; j < 3; j++ {
				if xyz[j], err = strconv.ParseFloat(tokens[j], 64); err != nil {
					return nil, errors.Wrapf(err, "point %d", i)
				}
			}
			pc.Points[i] = r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}
			if header.hasColor {
				c, err := strconv.ParseUint(tokens[3], 10, 32)
				if err != nil {
					return nil, errors.Wrapf(err, "point %d color", i)
				}
				pc.Colors[i] = pcdIntToColor(uint32(c))
			}
		}
	case PCDBinary:
		buf := make([]byte, 4*fields*header.points)
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrap(err, "reading binary pcd data")
		}
		for i := range pc.Points {
			rec := buf[4*fields*i:]
			pc.Points[i] = r3.Vector{X: readFloat32(rec), Y: readFloat32(rec[4:]), Z: readFloat32(rec[8:])}
			if header.hasColor {
				pc.Colors[i] = pcdIntToColor(binary.LittleEndian.Uint32(rec[12:]))
			}
		}
	case PCDCompressed:
		raw, err := readPCDCompressed(in, 4*fields*header.points)
		if err != nil {
			return nil, err
		}
		n := header.points
		for i := range pc.Points {
			pc.Points[i] = r3.Vector{X: readFloat32(raw[4*i:]), Y: readFloat32(raw[4*(n+i):]), Z: readFloat32(raw[4*(2*n+i):])}
			if header.hasColor {
				pc.Colors[i] = pcdIntToColor(binary.LittleEndian.Uint32(raw[4*(3*n+i):]))
			}
		}
	}
	return pc, nil
}

func readPCDCompressed(in io.Reader, expected int) ([]byte, error) {
	sizes := make([]byte, 8)
	if _, err := io.ReadFull(in, sizes); err != nil {
		return nil, errors.Wrap(err, "reading compressed pcd sizes")
	}
	compressedSize := int(binary.LittleEndian.Uint32(sizes))
	rawSize := int(binary.LittleEndian.Uint32(sizes[4:]))
	if rawSize != expected {
		return nil, errors.Errorf("compressed pcd holds %d bytes, header implies %d", rawSize, expected)
	}
	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(in, compressed); err != nil {
		return nil, errors.Wrap(err, "reading compressed pcd data")
	}
	raw := make([]byte, rawSize)
	if rawSize == 0 {
		return raw, nil
	}
	got, err := lzf.Decompress(compressed, raw)
	if err != nil {
		return nil, errors.Wrap(err, "lzf decompression failed")
	}
	if got != rawSize {
		return nil, errors.Errorf("decompressed %d bytes, expected %d", got, rawSize)
	}
	return raw, nil
}

func readFloat32(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}

// ReadPCDFile reads a PCD file from path.
func ReadPCDFile(path string) (*PointCloud, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ReadPCD(bytes.NewReader(data))
}
