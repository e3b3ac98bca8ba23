package kokoro

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// StyleDim is the width of one voice style embedding row.
const StyleDim = 256

// styleTable holds per-voice style embeddings. Each voice stores rows
// of StyleDim floats; the row picked at synthesis time depends on the
// token count.
type styleTable map[string]styleEmbedding

type styleEmbedding struct {
	data []float32
	rows int
}

// row returns the embedding row for the given token count, clamped to
// the table size.
func (e styleEmbedding) row(tokens int) []float32 {
	r := tokens
	if r >= e.rows {
		r = e.rows - 1
	}
	if r < 0 {
		r = 0
	}
	return e.data[r*StyleDim : (r+1)*StyleDim]
}

// loadStyleTable reads the voice table: a zip archive of NumPy array
// entries, one per voice, each float32 with StyleDim as the innermost
// dimension.
func loadStyleTable(path string) (styleTable, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open voice table %s: %w", path, err)
	}
	defer zr.Close()

	table := make(styleTable, len(zr.File))
	for _, f := range zr.File {
		name := strings.TrimSuffix(f.Name, ".npy")
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open voice entry %s: %w", f.Name, err)
		}
		data, shape, err := parseNPY(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("parse voice entry %s: %w", f.Name, err)
		}

		if len(shape) == 0 || shape[len(shape)-1] != StyleDim {
			return nil, fmt.Errorf("voice %s: unexpected shape %v", name, shape)
		}
		table[name] = styleEmbedding{data: data, rows: len(data) / StyleDim}
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("voice table %s is empty", path)
	}
	return table, nil
}

var npyHeaderPattern = regexp.MustCompile(
	`'descr':\s*'([^']+)'.*'fortran_order':\s*(\w+).*'shape':\s*\(([^)]*)\)`)

// parseNPY reads a NumPy .npy stream holding little-endian float32
// data and returns the flat values with their shape.
func parseNPY(r io.Reader) ([]float32, []int, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic[:6]) != "\x93NUMPY" {
		return nil, nil, fmt.Errorf("bad magic %q", magic[:6])
	}

	var headerLen int
	switch major := magic[6]; major {
	case 1:
		var l uint16
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, nil, fmt.Errorf("read header length: %w", err)
		}
		headerLen = int(l)
	case 2, 3:
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, nil, fmt.Errorf("read header length: %w", err)
		}
		headerLen = int(l)
	default:
		return nil, nil, fmt.Errorf("unsupported npy version %d", major)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	m := npyHeaderPattern.FindStringSubmatch(string(header))
	if m == nil {
		return nil, nil, fmt.Errorf("unparseable header %q", header)
	}
	if m[1] != "<f4" {
		return nil, nil, fmt.Errorf("unsupported dtype %q", m[1])
	}
	if m[2] != "False" {
		return nil, nil, fmt.Errorf("fortran order not supported")
	}

	shape, err := parseShape(m[3])
	if err != nil {
		return nil, nil, err
	}
	count := 1
	for _, d := range shape {
		count *= d
	}

	raw := make([]byte, count*4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, fmt.Errorf("read data: %w", err)
	}
	data := make([]float32, count)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return data, shape, nil
}

func parseShape(s string) ([]int, error) {
	var shape []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad shape dimension %q: %w", part, err)
		}
		shape = append(shape, d)
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("empty shape")
	}
	return shape, nil
}
