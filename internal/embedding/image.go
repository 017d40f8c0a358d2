package embedding

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxImagePixels bounds the decoded size of request images.
const DefaultMaxImagePixels = 50_000_000

// ErrImageTooLarge is returned when the image header declares more pixels
// than allowed.
var ErrImageTooLarge = errors.New("image too large")

// DecodeBase64Image decodes base64 image data, with or without a
// "data:<mime>;base64," prefix, into an opaque RGBA image. Alpha is dropped
// without compositing. Images above DefaultMaxImagePixels are rejected.
func DecodeBase64Image(data string) (*image.RGBA, error) {
	return DecodeBase64ImageLimit(data, DefaultMaxImagePixels)
}

// DecodeBase64ImageLimit is DecodeBase64Image with an explicit pixel limit.
// The header is checked before any pixel buffer is allocated. maxPixels <= 0
// disables the check.
func DecodeBase64ImageLimit(data string, maxPixels int) (*image.RGBA, error) {
	if strings.HasPrefix(data, "data:") {
		_, payload, ok := strings.Cut(data, ",")
		if !ok {
			return nil, fmt.Errorf("data URL has no payload")
		}
		data = payload
	}
	raw, err := decodeBase64(strings.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty image data")
	}

	if maxPixels > 0 {
		cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(maxPixels) {
			return nil, fmt.Errorf("%w: %s %dx%d exceeds %d pixels", ErrImageTooLarge, format, cfg.Width, cfg.Height, maxPixels)
		}
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode %s image: empty bounds", format)
	}
	return toRGB(img), nil
}

func decodeBase64(s string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

type opaquer interface {
	Opaque() bool
}

// toRGB copies img into an RGBA image with alpha forced to 255.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if o, ok := img.(opaquer); ok && o.Opaque() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
	return dst
}
