// Package qr renders issued-ID records as scannable QR images.
//
// The payload is a fixed, human-readable 7-line text block. Scanning apps
// depend on its literal layout, so labels and line order are part of the
// wire format.
package qr

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/skip2/go-qrcode"

	"boacid/internal/record"
)

// ErrEncoding is returned when a payload cannot be rasterized at any QR version.
var ErrEncoding = errors.New("qr: payload cannot be encoded")

// Options controls rasterization.
type Options struct {
	Level      qrcode.RecoveryLevel
	Border     int // quiet zone, in modules
	BoxSize    int // pixels per module
	Foreground color.Color
	Background color.Color
}

// DefaultOptions returns the card layout: 2-module border, 10px modules,
// dark green on white.
func DefaultOptions() Options {
	return Options{
		Level:      qrcode.Medium,
		Border:     2,
		BoxSize:    10,
		Foreground: color.RGBA{R: 0x00, G: 0x44, B: 0x22, A: 0xff},
		Background: color.White,
	}
}

// Payload builds the text block embedded in the QR code.
func Payload(r record.Record) string {
	return strings.Join([]string{
		"MUNICIPALITY OF BOAC ID",
		"----------------------",
		"ID NO: " + r.IDNumber,
		"NAME: " + r.FullName,
		"POSITION: " + r.Position,
		"OFFICE: " + r.Office,
		fmt.Sprintf("EMERGENCY: %s (%s)", r.ContactName, r.ContactNumber),
	}, "\n")
}

// Encode renders the record's payload as a base64-encoded PNG suitable for
// a data URI.
func Encode(r record.Record) (string, error) {
	png, err := Render(Payload(r), DefaultOptions())
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// Render encodes an arbitrary payload as PNG bytes. The smallest QR version
// that fits the payload is selected.
func Render(payload string, opts Options) ([]byte, error) {
	bitmap, err := Bitmap(payload, opts.Level)
	if err != nil {
		return nil, err
	}

	box := opts.BoxSize
	if box <= 0 {
		box = 1
	}
	border := opts.Border
	if border < 0 {
		border = 0
	}
	size := (len(bitmap) + 2*border) * box

	img := image.NewPaletted(image.Rect(0, 0, size, size), color.Palette{opts.Background, opts.Foreground})
	for y, row := range bitmap {
		for x, dark := range row {
			if !dark {
				continue
			}
			x0 := (x + border) * box
			y0 := (y + border) * box
			for dy := 0; dy < box; dy++ {
				for dx := 0; dx < box; dx++ {
					img.SetColorIndex(x0+dx, y0+dy, 1)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("qr: png encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Bitmap returns the module matrix of the symbol without a quiet zone.
// true marks a dark module.
func Bitmap(payload string, level qrcode.RecoveryLevel) ([][]bool, error) {
	q, err := qrcode.New(payload, level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	q.DisableBorder = true
	return q.Bitmap(), nil
}
