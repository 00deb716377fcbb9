// Package media turns report attachments into the value stored in a
// report's media field.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalid  = errors.New("invalid media data url")
	ErrTooLarge = errors.New("media exceeds size limit")
)

// Store accepts a data URL and returns what should be persisted in its place.
// Remove undoes a Save whose report was never written.
type Store interface {
	Save(ctx context.Context, dataURL string) (string, error)
	Remove(ctx context.Context, stored string) error
}

type DataURL struct {
	MIME string
	Data []byte
}

const defaultMIME = "application/octet-stream"

// ParseDataURL decodes data:<mime>[;params];base64,<payload>.
func ParseDataURL(v string) (DataURL, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(v), "data:")
	if !ok {
		return DataURL{}, fmt.Errorf("%w: missing data: prefix", ErrInvalid)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return DataURL{}, fmt.Errorf("%w: missing payload", ErrInvalid)
	}
	params := strings.Split(meta, ";")
	if len(params) < 2 || !strings.EqualFold(params[len(params)-1], "base64") {
		return DataURL{}, fmt.Errorf("%w: only base64 payloads are accepted", ErrInvalid)
	}
	mime := strings.ToLower(strings.TrimSpace(params[0]))
	if mime == "" {
		mime = defaultMIME
	}
	if !strings.Contains(mime, "/") {
		return DataURL{}, fmt.Errorf("%w: bad mime type %q", ErrInvalid, mime)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return DataURL{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return DataURL{MIME: mime, Data: data}, nil
}

func checkSize(d DataURL, max int64) error {
	if max > 0 && int64(len(d.Data)) > max {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(d.Data), max)
	}
	return nil
}

// Inline keeps the data URL as-is after validating it.
type Inline struct {
	MaxBytes int64
}

func (i Inline) Save(_ context.Context, dataURL string) (string, error) {
	d, err := ParseDataURL(dataURL)
	if err != nil {
		return "", err
	}
	if err := checkSize(d, i.MaxBytes); err != nil {
		return "", err
	}
	return strings.TrimSpace(dataURL), nil
}

// Remove is a no-op: nothing exists outside the report itself.
func (Inline) Remove(context.Context, string) error { return nil }
