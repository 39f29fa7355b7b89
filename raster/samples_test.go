package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tiffEntry struct {
	tag, typ uint16
	vals     []uint32
}

// writeSamples writes an uncompressed little-endian 16-bit BlackIsZero TIFF
// with spp samples per pixel, split into strips of rowsPerStrip rows. The
// tiff package's encoder only takes image.Image, so the bytes are laid out
// by hand.
func writeSamples(t *testing.T, path string, w, h, spp, rowsPerStrip int, planar bool, v func(s, x, y int) uint16) {
	t.Helper()
	le := binary.LittleEndian

	planes, blockSpp, planarCfg := 1, spp, uint32(1)
	if planar {
		planes, blockSpp, planarCfg = spp, 1, 2
	}
	var strips [][]byte
	for p := 0; p < planes; p++ {
		for y0 := 0; y0 < h; y0 += rowsPerStrip {
			var b []byte
			for y := y0; y < h && y < y0+rowsPerStrip; y++ {
				for x := 0; x < w; x++ {
					for s := 0; s < blockSpp; s++ {
						band := s
						if planar {
							band = p
						}
						b = le.AppendUint16(b, v(band, x, y))
					}
				}
			}
			strips = append(strips, b)
		}
	}

	rep := func(v uint32, n int) []uint32 {
		out := make([]uint32, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	offsets := make([]uint32, len(strips))
	counts := make([]uint32, len(strips))
	for i, s := range strips {
		counts[i] = uint32(len(s))
	}
	entries := []tiffEntry{
		{256, 4, []uint32{uint32(w)}},
		{257, 4, []uint32{uint32(h)}},
		{258, 3, rep(16, spp)},
		{259, 3, []uint32{1}},
		{262, 3, []uint32{1}},
		{273, 4, offsets},
		{277, 3, []uint32{uint32(spp)}},
		{278, 4, []uint32{uint32(rowsPerStrip)}},
		{279, 4, counts},
		{284, 3, []uint32{planarCfg}},
		{339, 3, rep(1, spp)},
	}
	encode := func(e tiffEntry) []byte {
		var b []byte
		for _, v := range e.vals {
			if e.typ == 3 {
				b = le.AppendUint16(b, uint16(v))
			} else {
				b = le.AppendUint32(b, v)
			}
		}
		return b
	}

	extraStart := 8 + 2 + 12*len(entries) + 4
	extraSize := 0
	for _, e := range entries {
		if n := len(encode(e)); n > 4 {
			extraSize += n
		}
	}
	next := uint32(extraStart + extraSize)
	for i, s := range strips {
		offsets[i] = next
		next += uint32(len(s))
	}

	var buf, extra bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, le, uint16(42))
	binary.Write(&buf, le, uint32(8))
	binary.Write(&buf, le, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, le, e.tag)
		binary.Write(&buf, le, e.typ)
		binary.Write(&buf, le, uint32(len(e.vals)))
		val := encode(e)
		if len(val) <= 4 {
			buf.Write(append(val, make([]byte, 4-len(val))...))
			continue
		}
		binary.Write(&buf, le, uint32(extraStart+extra.Len()))
		extra.Write(val)
	}
	binary.Write(&buf, le, uint32(0))
	buf.Write(extra.Bytes())
	for _, s := range strips {
		buf.Write(s)
	}

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func sixBandValue(s, x, y int) uint16 { return uint16(1000*s + 10*y + x) }

func TestReadBandsSixSamples(t *testing.T) {
	const w, h, spp = 5, 3, 6

	for _, planar := range []bool{false, true} {
		t.Run(fmt.Sprintf("planar=%v", planar), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "chip.tif")
			writeSamples(t, path, w, h, spp, 2, planar, sixBandValue)

			chip, err := ReadBands(path)
			require.NoError(t, err)
			assert.Equal(t, spp, chip.Bands)
			assert.Equal(t, h, chip.Height)
			assert.Equal(t, w, chip.Width)
			require.Len(t, chip.Data, spp*h*w)

			for s := 0; s < spp; s++ {
				for y := 0; y < h; y++ {
					for x := 0; x < w; x++ {
						want := float32(sixBandValue(s, x, y))
						assert.Equal(t, want, chip.Data[s*h*w+y*w+x], "band %d (%d, %d)", s, x, y)
					}
				}
			}
		})
	}
}

func TestReadPairSixSamples(t *testing.T) {
	dir := t.TempDir()
	before := filepath.Join(dir, "a_before.tif")
	after := filepath.Join(dir, "a_after.tif")
	writeSamples(t, before, 8, 8, 6, 8, false, sixBandValue)
	writeSamples(t, after, 8, 8, 6, 3, true, func(s, x, y int) uint16 { return 10000 })

	b, a, err := ReadPair(before, after, ReflectanceScale)
	require.NoError(t, err)
	defer b.MustDrop()
	defer a.MustDrop()

	assert.Equal(t, []int64{1, 6, 8, 8}, b.MustSize())
	assert.Equal(t, []int64{1, 6, 8, 8}, a.MustSize())
	for _, v := range a.Float64Values() {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
	// Band 5 at (x=3, y=2): 5023 / 10000.
	assert.InDelta(t, 0.5023, b.Float64Values()[5*64+2*8+3], 1e-6)
}

func TestReadBandsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chip.tif")
	writeSamples(t, path, 4, 4, 6, 4, false, sixBandValue)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-10], 0644))

	_, err = ReadBands(path)
	assert.Error(t, err)
}

func TestSampleDecoder(t *testing.T) {
	le := binary.LittleEndian

	dec, err := sampleDecoder(16, sampleInt, le)
	require.NoError(t, err)
	assert.Equal(t, float32(-2), dec(le.AppendUint16(nil, 0xfffe)))

	dec, err = sampleDecoder(32, sampleFloat, le)
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), dec(le.AppendUint32(nil, 0x3e800000)))

	_, err = sampleDecoder(12, sampleUint, le)
	assert.Error(t, err)
	_, err = sampleDecoder(16, sampleFloat, le)
	assert.Error(t, err)
}

func TestUndoHorizontal(t *testing.T) {
	le := binary.LittleEndian

	// Two rows of four 8-bit single-sample pixels.
	data := []byte{1, 1, 1, 1, 5, 0, 2, 0}
	undoHorizontal(data, 4, 1, 1, 2, le)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 5, 7, 7}, data)

	// One row of three 16-bit pixels with two samples each.
	var row []byte
	for _, v := range []uint16{100, 7, 1, 1, 2, 0xffff} {
		row = le.AppendUint16(row, v)
	}
	undoHorizontal(row, len(row), 2, 2, 1, le)
	var got []uint16
	for i := 0; i < len(row); i += 2 {
		got = append(got, le.Uint16(row[i:]))
	}
	assert.Equal(t, []uint16{100, 7, 101, 8, 103, 7}, got)
}
