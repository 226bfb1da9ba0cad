package img

import (
	"encoding/base64"
	"errors"
	"strings"
)

const defaultMIME = "image/jpeg"

func DataURI(b []byte, mime string) string {
	if mime == "" {
		mime = defaultMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
}

// SplitDataURI returns the MIME type and base64 payload. Bare base64 is
// accepted and reported as JPEG.
func SplitDataURI(s string) (mime, payload string) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return defaultMIME, s
	}
	head, body, ok := strings.Cut(s, ",")
	if !ok {
		return defaultMIME, ""
	}
	mime = strings.TrimSuffix(strings.TrimPrefix(head, "data:"), ";base64")
	if mime == "" {
		mime = defaultMIME
	}
	return mime, body
}

// EnsureDataURI turns bare base64 into a JPEG data URI.
func EnsureDataURI(s string) string {
	mime, payload := SplitDataURI(s)
	return "data:" + mime + ";base64," + payload
}

func DecodeDataURI(s string) ([]byte, string, error) {
	mime, payload := SplitDataURI(s)
	if payload == "" {
		return nil, "", errors.New("empty image payload")
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return b, mime, nil
}
