// Package raster reads multi-band chips into tensors and writes change maps
// back out as images.
package raster

import (
	"image"
	"image/color"
	"os"

	"github.com/chai2010/tiff"
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/ts"
)

// ReflectanceScale converts 16-bit surface reflectance to roughly [0, 1].
const ReflectanceScale = 10000.0

// Chip is a band-major raster: Data[b*Height*Width + y*Width + x].
type Chip struct {
	Bands  int
	Height int
	Width  int
	Data   []float32
}

// ReadBands decodes every image stored in a TIFF file and stacks their bands
// in file order. Gray images contribute 1 band, color images 3 (alpha is
// dropped). Images with any other sample count, planar layout or non-uint
// samples contribute one band per sample. Samples are kept as raw values.
func ReadBands(path string) (*Chip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rd, err := tiff.OpenReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %q", path)
	}
	defer rd.Close()

	chip := &Chip{}
	// Sub-IFDs hold reduced resolution copies and are skipped.
	for i := 0; i < rd.ImageNum(); i++ {
		ifd := rd.Ifd[i][0]
		size := ifd.Bounds().Size()
		if chip.Bands == 0 {
			chip.Width, chip.Height = size.X, size.Y
		} else if size.X != chip.Width || size.Y != chip.Height {
			return nil, errors.Errorf("%q: image %d is %vx%v, expected %vx%v", path, i, size.X, size.Y, chip.Width, chip.Height)
		}

		var bands [][]float32
		if imageDecodable(ifd) {
			m, err := rd.DecodeImage(i, 0)
			if err != nil {
				return nil, errors.Wrapf(err, "decoding %q image %d", path, i)
			}
			bands = imageBands(m)
		} else {
			if bands, err = readSamples(rd.Reader, ifd); err != nil {
				return nil, errors.Wrapf(err, "decoding %q image %d", path, i)
			}
		}
		for _, b := range bands {
			chip.Data = append(chip.Data, b...)
		}
		chip.Bands += len(bands)
	}
	if chip.Bands == 0 {
		return nil, errors.Errorf("%q: no image data", path)
	}

	return chip, nil
}

// imageBands splits m into band planes.
func imageBands(m image.Image) [][]float32 {
	r := m.Bounds()
	w, h := r.Dx(), r.Dy()
	plane := func() []float32 { return make([]float32, w*h) }

	switch img := m.(type) {
	case *image.Gray:
		g := plane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g[y*w+x] = float32(img.GrayAt(r.Min.X+x, r.Min.Y+y).Y)
			}
		}
		return [][]float32{g}

	case *image.Gray16:
		g := plane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g[y*w+x] = float32(img.Gray16At(r.Min.X+x, r.Min.Y+y).Y)
			}
		}
		return [][]float32{g}

	case *image.RGBA, *image.NRGBA:
		rs, gs, bs := plane(), plane(), plane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(m.At(r.Min.X+x, r.Min.Y+y)).(color.NRGBA)
				i := y*w + x
				rs[i], gs[i], bs[i] = float32(c.R), float32(c.G), float32(c.B)
			}
		}
		return [][]float32{rs, gs, bs}

	default:
		rs, gs, bs := plane(), plane(), plane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBA64Model.Convert(m.At(r.Min.X+x, r.Min.Y+y)).(color.NRGBA64)
				i := y*w + x
				rs[i], gs[i], bs[i] = float32(c.R), float32(c.G), float32(c.B)
			}
		}
		return [][]float32{rs, gs, bs}
	}
}

// Tensor returns the chip as a [C H W] float32 tensor divided by scale.
// A scale <= 0 leaves values unscaled.
func (c *Chip) Tensor(scale float64) *ts.Tensor {
	data := c.Data
	if scale > 0 {
		data = make([]float32, len(c.Data))
		for i, v := range c.Data {
			data[i] = float32(float64(v) / scale)
		}
	}

	return ts.MustOfSlice(data).MustView([]int64{int64(c.Bands), int64(c.Height), int64(c.Width)}, true)
}

// ReadChip reads a TIFF chip as a [C H W] tensor divided by scale.
func ReadChip(path string, scale float64) (*ts.Tensor, error) {
	chip, err := ReadBands(path)
	if err != nil {
		return nil, err
	}
	return chip.Tensor(scale), nil
}

// ReadPair reads a before/after chip pair as two [1 C H W] tensors.
func ReadPair(beforePath, afterPath string, scale float64) (before, after *ts.Tensor, err error) {
	b, err := ReadChip(beforePath, scale)
	if err != nil {
		return nil, nil, err
	}
	a, err := ReadChip(afterPath, scale)
	if err != nil {
		b.MustDrop()
		return nil, nil, err
	}

	return b.MustUnsqueeze(0, true), a.MustUnsqueeze(0, true), nil
}
