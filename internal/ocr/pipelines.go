package ocr

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sort"

	xdraw "golang.org/x/image/draw"
)

const (
	PipelineGrayscale = "grayscale"
	PipelineThreshold = "threshold"
	PipelineInvert    = "invert"
	PipelineUpscale   = "upscale"
)

type pipelineFunc func(image.Image) image.Image

var pipelines = map[string]pipelineFunc{
	PipelineGrayscale: grayscale,
	PipelineThreshold: threshold,
	PipelineInvert:    invert,
	PipelineUpscale:   upscale,
}

// PipelineNames returns the pre-processing steps an OcrRequest may name.
func PipelineNames() []string {
	names := make([]string, 0, len(pipelines))
	for name := range pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidatePipelines reports the first unknown pipeline name.
func ValidatePipelines(names []string) error {
	for _, name := range names {
		if _, ok := pipelines[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
		}
	}
	return nil
}

// Preprocess applies the named steps to img in order.
func Preprocess(img image.Image, names []string) (image.Image, error) {
	if err := ValidatePipelines(names); err != nil {
		return nil, err
	}
	for _, name := range names {
		img = pipelines[name](img)
	}
	return img, nil
}

// Scale resizes img by factor using Catmull-Rom interpolation.
func Scale(img image.Image, factor float64) image.Image {
	if factor <= 0 || factor == 1 {
		return img
	}
	b := img.Bounds()
	w := int(float64(b.Dx()) * factor)
	h := int(float64(b.Dy()) * factor)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

func grayscale(img image.Image) image.Image {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// threshold binarises around the mean luminance.
func threshold(img image.Image) image.Image {
	g := grayscale(img).(*image.Gray)
	b := g.Bounds()
	var sum, n int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += int(g.GrayAt(x, y).Y)
			n++
		}
	}
	if n == 0 {
		return g
	}
	mean := uint8(sum / n)
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := uint8(0)
			if g.GrayAt(x, y).Y > mean {
				v = 255
			}
			dst.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return dst
}

func invert(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			dst.SetRGBA(x, y, color.RGBA{R: 255 - c.R, G: 255 - c.G, B: 255 - c.B, A: c.A})
		}
	}
	return dst
}

func upscale(img image.Image) image.Image {
	return Scale(img, 2)
}
