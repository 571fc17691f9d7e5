// Package capture defines the raw capture model and the filesystem
// producer that feeds new screenshot files into the pipeline.
package capture

import (
	"path/filepath"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RawCapture is a single ingested screenshot. It is immutable after
// creation and owned by whichever record currently references it.
type RawCapture struct {
	ObjectID    string    `json:"object_id"`
	ContentPath string    `json:"content_path"`
	Fingerprint string    `json:"fingerprint"` // hex perceptual hash
	CapturedAt  time.Time `json:"captured_at"`
}

// NewObjectID generates a capture object id.
func NewObjectID() string {
	id, err := gonanoid.New()
	if err != nil {
		// nanoid only fails when the system entropy source is broken;
		// fall back to a timestamp id so ingestion keeps moving.
		return "cap-" + time.Now().UTC().Format("20060102T150405.000000000")
	}
	return id
}

// New builds a RawCapture for an image file with a fresh object id.
func New(contentPath string) RawCapture {
	return RawCapture{
		ObjectID:    NewObjectID(),
		ContentPath: contentPath,
		CapturedAt:  time.Now().UTC(),
	}
}

// IsImagePath reports whether the path looks like a supported capture file.
func IsImagePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif":
		return true
	}
	return false
}
