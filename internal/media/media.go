// Package media validates attachments and uploads them to the configured
// media host. Stored documents only keep the returned URL.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var (
	ErrUnsupportedType = errors.New("unsupported media type")
	ErrVideoTooLong    = errors.New("video is too long")
	ErrTooLarge        = errors.New("file is too large")
	ErrDisabled        = errors.New("media uploads are disabled")
)

// Result is what an upload returns.
type Result struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// Uploader stores a file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (Result, error)
}

// Limits bound what Validate accepts.
type Limits struct {
	MaxBytes        int64
	MaxVideoSeconds float64
}

// KindOf maps a MIME type to an attachment kind.
func KindOf(contentType string) (Kind, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindImage, nil
	case strings.HasPrefix(ct, "video/"):
		return KindVideo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
}

// CheckDuration rejects videos longer than max seconds. A max of zero
// disables the check.
func CheckDuration(seconds, max float64) error {
	if max > 0 && seconds > max {
		return fmt.Errorf("%w: %.1fs exceeds %.0fs", ErrVideoTooLong, seconds, max)
	}
	return nil
}

// Validate checks an attachment before upload. durationSeconds is the
// duration reported by the client for videos.
func Validate(contentType string, size int64, durationSeconds float64, lim Limits) (Kind, error) {
	kind, err := KindOf(contentType)
	if err != nil {
		return "", err
	}
	if lim.MaxBytes > 0 && size > lim.MaxBytes {
		return "", ErrTooLarge
	}
	if kind == KindVideo {
		if err := CheckDuration(durationSeconds, lim.MaxVideoSeconds); err != nil {
			return "", err
		}
	}
	return kind, nil
}

// Disabled rejects every upload.
type Disabled struct{}

func (Disabled) Upload(context.Context, string, string, []byte) (Result, error) {
	return Result{}, ErrDisabled
}
