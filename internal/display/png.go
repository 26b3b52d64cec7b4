package display

import (
	"image"
	"image/png"
	"io"
)

// Image converts a frame to an image.NRGBA sharing no memory with f.
func Image(f Frame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	copy(img.Pix, f.Pix)
	return img
}

// EncodePNG writes the frame as a PNG.
func EncodePNG(w io.Writer, f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return png.Encode(w, Image(f))
}
