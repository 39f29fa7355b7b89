package raster

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/chai2010/tiff"
	"github.com/pkg/errors"
)

// TIFF SampleFormat values.
const (
	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// imageDecodable reports whether ifd maps onto a Go image the tiff package
// can decode: interleaved uint samples, 1 gray or 3/4 color channels.
func imageDecodable(ifd *tiff.IFD) bool {
	g := ifd.TagGetter()
	if planar, _ := g.GetPlanarConfiguration(); planar != 1 {
		return false
	}
	if formats, _ := g.GetSampleFormat(); len(formats) > 0 && formats[0] != sampleUint {
		return false
	}

	depth := ifd.Depth()
	switch ifd.ImageType() {
	case tiff.ImageType_Gray, tiff.ImageType_GrayInvert, tiff.ImageType_Bilevel, tiff.ImageType_BilevelInvert, tiff.ImageType_Paletted:
		return ifd.Channels() == 1 && depth > 0 && depth <= 16
	case tiff.ImageType_RGB, tiff.ImageType_RGBA, tiff.ImageType_NRGBA:
		return depth == 8 || depth == 16
	}
	return false
}

// readSamples reads the raw strips or tiles of ifd and splits them into one
// plane per sample. Both chunky (PlanarConfiguration=1) and planar (=2)
// layouts are supported.
func readSamples(r io.ReadSeeker, ifd *tiff.IFD) ([][]float32, error) {
	g := ifd.TagGetter()
	bounds := ifd.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	spp, _ := g.GetSamplesPerPixel()
	// Some writers store a single BitsPerSample value for every sample.
	if n := ifd.Channels(); spp < 1 || (n != int(spp) && n != 1) {
		return nil, errors.Errorf("inconsistent samples per pixel: %v, %v bit depths", spp, ifd.Channels())
	}
	depth := ifd.Depth()
	format := int64(sampleUint)
	if formats, _ := g.GetSampleFormat(); len(formats) > 0 {
		format = formats[0]
	}
	order := ifd.Header.ByteOrder
	sample, err := sampleDecoder(depth, format, order)
	if err != nil {
		return nil, err
	}

	predictor, _ := g.GetPredictor()
	if predictor != tiff.TagValue_PredictorType_None && predictor != tiff.TagValue_PredictorType_Horizontal {
		return nil, errors.Errorf("unsupported predictor %v", int(predictor))
	}
	if predictor == tiff.TagValue_PredictorType_Horizontal && format == sampleFloat {
		return nil, errors.New("horizontal predictor on float samples")
	}

	planar, _ := g.GetPlanarConfiguration()
	planes, blockSpp := 1, int(spp)
	if planar == 2 {
		planes, blockSpp = int(spp), 1
	}

	var offsets, counts []int64
	if _, tiled := g.GetTileWidth(); tiled {
		offsets, _ = g.GetTileOffsets()
		counts, _ = g.GetTileByteCounts()
	} else {
		offsets, _ = g.GetStripOffsets()
		counts, _ = g.GetStripByteCounts()
	}
	across, down := ifd.BlocksAcross(), ifd.BlocksDown()
	perPlane := across * down
	if len(offsets) != perPlane*planes || len(counts) != len(offsets) {
		return nil, errors.Errorf("expected %v blocks, got %v offsets and %v byte counts", perPlane*planes, len(offsets), len(counts))
	}

	bands := make([][]float32, spp)
	for i := range bands {
		bands[i] = make([]float32, w*h)
	}

	size := depth / 8
	for plane := 0; plane < planes; plane++ {
		for row := 0; row < down; row++ {
			for col := 0; col < across; col++ {
				k := plane*perPlane + row*across + col
				blk := ifd.BlockBounds(col, row)

				if _, err := r.Seek(offsets[k], io.SeekStart); err != nil {
					return nil, err
				}
				data, err := ifd.Compression().Decode(io.LimitReader(r, counts[k]), blk.Dx(), blk.Dy())
				if err != nil {
					return nil, errors.Wrapf(err, "block %d", k)
				}

				rowLen := blk.Dx() * blockSpp * size
				if len(data) < rowLen*blk.Dy() {
					return nil, errors.Errorf("block %d: got %v bytes, expected %v", k, len(data), rowLen*blk.Dy())
				}
				if predictor == tiff.TagValue_PredictorType_Horizontal {
					undoHorizontal(data, rowLen, blockSpp, size, blk.Dy(), order)
				}

				for y := blk.Min.Y; y < blk.Max.Y && y < h; y++ {
					for x := blk.Min.X; x < blk.Max.X && x < w; x++ {
						off := (y-blk.Min.Y)*rowLen + (x-blk.Min.X)*blockSpp*size
						for s := 0; s < blockSpp; s++ {
							band := s
							if planes > 1 {
								band = plane
							}
							bands[band][y*w+x] = sample(data[off+s*size:])
						}
					}
				}
			}
		}
	}

	return bands, nil
}

// sampleDecoder returns a reader for one sample of the given bit depth and
// SampleFormat.
func sampleDecoder(depth int, format int64, order binary.ByteOrder) (func([]byte) float32, error) {
	switch {
	case format == sampleUint && depth == 8:
		return func(b []byte) float32 { return float32(b[0]) }, nil
	case format == sampleUint && depth == 16:
		return func(b []byte) float32 { return float32(order.Uint16(b)) }, nil
	case format == sampleUint && depth == 32:
		return func(b []byte) float32 { return float32(order.Uint32(b)) }, nil
	case format == sampleInt && depth == 8:
		return func(b []byte) float32 { return float32(int8(b[0])) }, nil
	case format == sampleInt && depth == 16:
		return func(b []byte) float32 { return float32(int16(order.Uint16(b))) }, nil
	case format == sampleInt && depth == 32:
		return func(b []byte) float32 { return float32(int32(order.Uint32(b))) }, nil
	case format == sampleFloat && depth == 32:
		return func(b []byte) float32 { return math.Float32frombits(order.Uint32(b)) }, nil
	case format == sampleFloat && depth == 64:
		return func(b []byte) float32 { return float32(math.Float64frombits(order.Uint64(b))) }, nil
	}
	return nil, errors.Errorf("unsupported sample format %v with %v bits per sample", format, depth)
}

// undoHorizontal reverses horizontal differencing in place. Each row holds
// rowLen bytes of pixels with spp interleaved samples of size bytes.
func undoHorizontal(data []byte, rowLen, spp, size, rows int, order binary.ByteOrder) {
	step := spp * size
	for y := 0; y < rows; y++ {
		line := data[y*rowLen : (y+1)*rowLen]
		for i := step; i+size <= len(line); i += size {
			prev := line[i-step:]
			switch size {
			case 1:
				line[i] += prev[0]
			case 2:
				order.PutUint16(line[i:], order.Uint16(line[i:])+order.Uint16(prev))
			case 4:
				order.PutUint32(line[i:], order.Uint32(line[i:])+order.Uint32(prev))
			}
		}
	}
}
