// Package qrimage rasterizes text into QR code images.
package qrimage

import (
	"encoding/base64"
	"errors"
	"fmt"

	"rsc.io/qr"
)

const DefaultScale = 8

var ErrEmptyData = errors.New("no data to encode")

// Renderer turns a text payload into encoded image bytes.
type Renderer interface {
	Render(data string) ([]byte, error)
}

// PNGRenderer renders QR codes as PNG images. Each module is Scale
// pixels wide and the image includes the standard quiet zone.
type PNGRenderer struct {
	Scale int
	Level qr.Level
}

func NewPNGRenderer(scale int) *PNGRenderer {
	if scale <= 0 {
		scale = DefaultScale
	}
	return &PNGRenderer{Scale: scale, Level: qr.M}
}

func (r *PNGRenderer) Render(data string) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}

	code, err := qr.Encode(data, r.Level)
	if err != nil {
		return nil, fmt.Errorf("qr.Encode: %v", err)
	}
	if r.Scale > 0 {
		code.Scale = r.Scale
	}
	return code.PNG(), nil
}

// DataURI embeds a PNG image in a data URI, ready for an <img> src.
func DataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
