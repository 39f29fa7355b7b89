package raster

import (
	"image"
	"image/color"
	"math"
	"os"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/ts"
	"golang.org/x/image/draw"
)

// plane returns the last two dims of x and its values. Every leading dim
// must be 1.
func plane(x *ts.Tensor) (h, w int, vals []float64, err error) {
	size, err := x.Size()
	if err != nil {
		return 0, 0, nil, err
	}
	if len(size) < 2 {
		return 0, 0, nil, errors.Errorf("want at least 2 dims, got %v", size)
	}
	for _, d := range size[:len(size)-2] {
		if d != 1 {
			return 0, 0, nil, errors.Errorf("want a single plane, got %v", size)
		}
	}

	h, w = int(size[len(size)-2]), int(size[len(size)-1])
	return h, w, x.Float64Values(), nil
}

// ProbabilityImage encodes probabilities in [0, 1] as a 16-bit gray image.
// Values outside the range are clamped.
func ProbabilityImage(prob *ts.Tensor) (*image.Gray16, error) {
	h, w, vals, err := plane(prob)
	if err != nil {
		return nil, errors.Wrap(err, "probability image")
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := math.Min(math.Max(vals[y*w+x], 0), 1)
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * math.MaxUint16))})
		}
	}
	return img, nil
}

// MaskImage returns a gray image: 255 where prob > thr, 0 elsewhere.
func MaskImage(prob *ts.Tensor, thr float64) (*image.Gray, error) {
	h, w, vals, err := plane(prob)
	if err != nil {
		return nil, errors.Wrap(err, "mask image")
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range vals {
		if v > thr {
			img.Pix[i] = 255
		}
	}
	return img, nil
}

// WriteProbability writes a single-plane probability map as a 16-bit TIFF.
func WriteProbability(path string, prob *ts.Tensor) error {
	img, err := ProbabilityImage(prob)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tiff.Encode(f, img, nil); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %q", path)
	}
	return f.Close()
}

// WriteMask writes the thresholded change mask. The format follows the file
// extension (png, jpg, tif, bmp or gif).
func WriteMask(path string, prob *ts.Tensor, thr float64) error {
	img, err := MaskImage(prob, thr)
	if err != nil {
		return err
	}
	return imaging.Save(img, path)
}

// OverlayOptions controls the change overlay preview.
type OverlayOptions struct {
	// RGB band indices of the chip used for the preview.
	RGB [3]int
	// Threshold above which a pixel is painted as changed.
	Threshold float64
	// Opacity of the change color, 0-255.
	Opacity uint8
	// Contrast adjustment in [-100, 100].
	Contrast float64
	// Width of the output image. 0 keeps the chip size.
	Width uint
}

// DefaultOverlayOptions previews bands 2,1,0 with 25% red changes.
func DefaultOverlayOptions() OverlayOptions {
	return OverlayOptions{
		RGB:       [3]int{2, 1, 0},
		Threshold: 0.5,
		Opacity:   64,
		Contrast:  20,
	}
}

// Preview stretches three bands of a [C H W] or [1 C H W] chip to 8 bits.
func Preview(chip *ts.Tensor, bands [3]int) (*image.NRGBA, error) {
	size, err := chip.Size()
	if err != nil {
		return nil, err
	}
	if len(size) == 4 && size[0] == 1 {
		size = size[1:]
	}
	if len(size) != 3 {
		return nil, errors.Errorf("preview: want [C H W] chip, got %v", size)
	}
	c, h, w := int(size[0]), int(size[1]), int(size[2])
	for _, b := range bands {
		if b < 0 || b >= c {
			return nil, errors.Errorf("preview: band %v out of range for %v bands", b, c)
		}
	}

	vals := chip.Float64Values()
	n := h * w
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for k, b := range bands {
		band := vals[b*n : (b+1)*n]
		lo, hi := band[0], band[0]
		for _, v := range band {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		span := hi - lo
		for i, v := range band {
			var s float64
			if span > 0 {
				s = (v - lo) / span
			}
			img.Pix[i*4+k] = uint8(math.Round(s * 255))
		}
	}
	for i := 0; i < n; i++ {
		img.Pix[i*4+3] = 255
	}

	return img, nil
}

// Overlay paints pixels with prob > opts.Threshold red on top of an RGB
// preview of chip.
func Overlay(chip, prob *ts.Tensor, opts OverlayOptions) (image.Image, error) {
	preview, err := Preview(chip, opts.RGB)
	if err != nil {
		return nil, err
	}
	mask, err := MaskImage(prob, opts.Threshold)
	if err != nil {
		return nil, err
	}
	rec := preview.Bounds()
	if mask.Bounds() != rec {
		return nil, errors.Errorf("overlay: chip is %v, probability map is %v", rec.Size(), mask.Bounds().Size())
	}

	var base image.Image = preview
	if opts.Contrast != 0 {
		base = imaging.AdjustContrast(preview, opts.Contrast)
	}
	dst := image.NewRGBA(rec)
	draw.Draw(dst, rec, base, image.Point{}, draw.Src)

	changed := image.NewNRGBA(rec)
	for i, v := range mask.Pix {
		if v > 0 {
			copy(changed.Pix[i*4:i*4+4], []uint8{255, 0, 0, 255})
		}
	}
	alpha := image.NewUniform(color.Alpha{opts.Opacity})
	draw.DrawMask(dst, rec, changed, image.Point{}, alpha, image.Point{}, draw.Over)

	if opts.Width == 0 || int(opts.Width) == rec.Dx() {
		return dst, nil
	}
	return resize.Resize(opts.Width, 0, dst, resize.Bilinear), nil
}

// WriteOverlay renders Overlay to path. The format follows the extension.
func WriteOverlay(path string, chip, prob *ts.Tensor, opts OverlayOptions) error {
	img, err := Overlay(chip, prob, opts)
	if err != nil {
		return err
	}
	return imaging.Save(img, path)
}
