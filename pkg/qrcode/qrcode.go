// Package qrcode renders provider-issued payment payloads as QR images.
package qrcode

import (
	"image"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	goqrcode "github.com/skip2/go-qrcode"
)

const DefaultSize = 256

// Render encodes payload at the default size. The payload is opaque and is
// never parsed.
func Render(payload string) (image.Image, error) {
	code, err := encode(payload)
	if err != nil {
		return nil, err
	}
	return code.Image(DefaultSize), nil
}

// RenderPNG encodes payload as a PNG of size x size pixels.
func RenderPNG(payload string, size int) ([]byte, error) {
	code, err := encode(payload)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultSize
	}
	png, err := code.PNG(size)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeEncoding, err, "write qr png")
	}
	return png, nil
}

func encode(payload string) (*goqrcode.QRCode, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeEncoding, "qr payload is empty")
	}
	code, err := goqrcode.New(payload, goqrcode.Medium)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeEncoding, err, "encode qr payload")
	}
	return code, nil
}
