// Copyright 2024-2026 Aiku AI

// Package qrfmt renders WhatsApp pairing codes as QR images.
package qrfmt

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"io"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/mdp/qrterminal/v3"
)

// ErrEmptyCode is returned when there is no code to render.
var ErrEmptyCode = errors.New("empty pairing code")

// DataURLPrefix is the prefix of every data URL returned by DataURL.
const DataURLPrefix = "data:image/png;base64,"

// PNG encodes code as a size×size PNG QR image.
func PNG(code string, size int) ([]byte, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}
	qrCode, err := qr.Encode(code, qr.L, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	qrCode, err = barcode.Scale(qrCode, size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to scale QR code: %w", err)
	}
	var buf bytes.Buffer
	if err = png.Encode(&buf, qrCode); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL encodes code as a PNG QR image inside a data URL, suitable for the
// src attribute of an img element.
func DataURL(code string, size int) (string, error) {
	data, err := PNG(code, size)
	if err != nil {
		return "", err
	}
	return DataURLPrefix + base64.StdEncoding.EncodeToString(data), nil
}

// PrintTerminal writes code to w as a half-block QR code.
func PrintTerminal(code string, w io.Writer) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}
