package tensorio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetSTD  = [3]float32{0.229, 0.224, 0.225}
	StandardMean = [3]float32{0.5, 0.5, 0.5}
	StandardSTD  = [3]float32{0.5, 0.5, 0.5}
	// Identity keeps pixel values in [0, 1].
	IdentityMean = [3]float32{0, 0, 0}
	IdentitySTD  = [3]float32{1, 1, 1}
)

// ImageOptions controls how a picture becomes an input tensor.
type ImageOptions struct {
	// Height and Width resize the image when both are positive.
	Height, Width int
	Mean, STD     [3]float32
}

func DefaultImageOptions() ImageOptions {
	return ImageOptions{Mean: IdentityMean, STD: IdentitySTD}
}

// Normalization returns the mean and standard deviation presets by name:
// none, imagenet or standard.
func Normalization(name string) (mean, std [3]float32, err error) {
	switch strings.ToLower(name) {
	case "", "none":
		return IdentityMean, IdentitySTD, nil
	case "imagenet":
		return ImageNetMean, ImageNetSTD, nil
	case "standard":
		return StandardMean, StandardSTD, nil
	default:
		return mean, std, fmt.Errorf("unknown normalization %q", name)
	}
}

// IsImage reports whether path has an extension of a supported image format.
func IsImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return true
	}
	return false
}

// ReadImage decodes a picture into a (1, H, W, 3) tensor. Transparent pixels
// are composited over white.
func ReadImage(r io.Reader, opts ImageOptions) (*tensor.Tensor, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	img = composite(img, color.White)
	if opts.Height > 0 && opts.Width > 0 {
		img = resize(img, image.Point{X: opts.Width, Y: opts.Height})
	}

	bounds := img.Bounds()
	data := normalize(img, opts.Mean, opts.STD)
	return tensor.FromData(data, 1, bounds.Dy(), bounds.Dx(), 3)
}

// LoadImage reads the picture at path.
func LoadImage(path string, opts ImageOptions) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := ReadImage(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// composite returns an image with the alpha channel removed by drawing over c.
func composite(img image.Image, c color.Color) image.Image {
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Over)
	return dst
}

// resize scales img bilinearly to size.
func resize(img image.Image, size image.Point) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.BiLinear.Scale(dst, dst.Rect, img, img.Bounds(), draw.Over, nil)
	return dst
}

// normalize rescales r, g, b to [0, 1] and standardises them, channels last.
func normalize(img image.Image, mean, std [3]float32) []float32 {
	bounds := img.Bounds()
	pixelVals := make([]float32, 0, bounds.Dx()*bounds.Dy()*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			rVal := float32(r>>8) / 255.0
			gVal := float32(g>>8) / 255.0
			bVal := float32(b>>8) / 255.0

			pixelVals = append(pixelVals,
				(rVal-mean[0])/std[0],
				(gVal-mean[1])/std[1],
				(bVal-mean[2])/std[2],
			)
		}
	}
	return pixelVals
}
