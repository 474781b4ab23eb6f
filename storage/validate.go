package storage

import (
	"errors"
	"net/http"
)

// maxUploadBytes caps image uploads at 5MB.
const maxUploadBytes = 5 << 20

var (
	// ErrUnsupportedType signals an upload that is not an allowed image format.
	ErrUnsupportedType = errors.New("storage: unsupported content type")
	// ErrTooLarge signals an upload over the size cap.
	ErrTooLarge = errors.New("storage: file exceeds 5MB limit")
	// ErrEmptyFile signals a zero-byte upload.
	ErrEmptyFile = errors.New("storage: file is empty")
)

// extByType is the allowed image formats and their object-key extensions.
var extByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ValidateImage sniffs the payload's real content type and checks it
// against the image allowlist and the size cap. The client-declared type
// is never trusted. Returns the detected type.
func ValidateImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if len(data) > maxUploadBytes {
		return "", ErrTooLarge
	}
	contentType := http.DetectContentType(data)
	if _, ok := extByType[contentType]; !ok {
		return "", ErrUnsupportedType
	}
	return contentType, nil
}
