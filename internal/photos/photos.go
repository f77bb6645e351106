// Package photos abstracts the external blob store holding photo
// evidence. The service only ever needs to put a blob and get back a
// durable URL.
package photos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrUnavailable is returned by the disabled store when no blob storage
// backend is configured.
var ErrUnavailable = errors.New("photo storage not configured")

// Store accepts an image blob and returns a retrievable URL.
type Store interface {
	Put(ctx context.Context, key string, blob io.Reader) (string, error)
}

// ObjectKey builds the storage key for one upload attempt:
// <challengeID>/<participantID>/<itemID>_<uploadTimestamp>.<ext>.
// The timestamp makes every attempt collision-free, so a superseding
// upload never overwrites an in-flight one.
func ObjectKey(challengeID, participantID, itemID, ext string, at time.Time) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%s/%s/%s_%d.%s", challengeID, participantID, itemID, at.UnixMilli(), ext)
}

// Disabled is a Store that rejects every upload. It stands in when no
// backend is configured so callers get a clean UploadFailed instead of a
// nil dereference.
type Disabled struct{}

func (Disabled) Put(ctx context.Context, key string, blob io.Reader) (string, error) {
	return "", ErrUnavailable
}
