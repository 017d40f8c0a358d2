package embedding

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// CLIP image normalization constants (per RGB channel).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// PreprocessImage resizes the shortest side to size with Catmull-Rom, center
// crops size x size, scales to [0,1] and normalizes with the CLIP mean/std.
// The result is a CHW tensor of 3*size*size values.
func PreprocessImage(img image.Image, size int) []float32 {
	cropped := resizeAndCrop(img, size)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := cropped.Pix[y*cropped.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			i := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				out[c*plane+i] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}

func resizeAndCrop(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	nw, nh := size, size
	if w < h {
		nh = int(math.Round(float64(h) * float64(size) / float64(w)))
	} else if h < w {
		nw = int(math.Round(float64(w) * float64(size) / float64(h)))
	}
	nw, nh = max(nw, size), max(nh, size)

	resized := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, b, draw.Src, nil)

	left := int(math.Round(float64(nw-size) / 2))
	top := int(math.Round(float64(nh-size) / 2))
	if nw == size && nh == size {
		return resized
	}
	cropped := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(cropped, cropped.Bounds(), resized, image.Pt(left, top), draw.Src)
	return cropped
}
