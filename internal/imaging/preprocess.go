// Package imaging turns uploaded leaf photos into model input tensors. The
// transform mirrors training: RGB, square bilinear resize, values in [0,1],
// channel-major layout.
package imaging

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/cropai-api/internal/model"
)

// Decode parses JPEG, PNG, GIF or WebP bytes.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", model.Wrap(model.ErrInvalidInput, nil, "empty image payload")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", model.Wrap(model.ErrInvalidInput, err, "decode image")
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", model.Wrap(model.ErrInvalidInput, nil, "image has no pixels")
	}
	return img, format, nil
}

// Shape is the tensor shape ToTensor produces for a given size.
func Shape(size int) []int64 {
	s := int64(size)
	return []int64{1, 3, s, s}
}

// ToTensor resizes img to size x size and lays it out as [1,3,size,size]
// float32 values in [0,1]. Alpha is discarded.
func ToTensor(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			i := y*width + x
			data[i] = float32(r) / 65535.0
			data[plane+i] = float32(g) / 65535.0
			data[2*plane+i] = float32(b) / 65535.0
		}
	}
	return data
}
