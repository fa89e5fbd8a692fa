package batch

import (
	"context"

	"github.com/coachscout/jobs-crawler/internal/vision"
)

// Capturer renders a URL in a browser and returns a PNG screenshot.
type Capturer interface {
	Capture(ctx context.Context, url string) ([]byte, error)
}

// Agent is the expensive last-resort extractor invoked after the router
// escalates. Unlike the OCR tiers it is never called by the router itself.
type Agent interface {
	Extract(ctx context.Context, url string, screenshot []byte) (vision.ExtractionResult, error)
}

// Publisher emits decision records for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives screenshots for escalated pages.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// URLFinder discovers career page URLs from a district homepage when the
// roster carries none.
type URLFinder interface {
	CareerURLs(ctx context.Context, homepage string) ([]string, error)
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
