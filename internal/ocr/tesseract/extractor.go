// Package tesseract implements the local, zero-cost OCR tier via the
// gosseract binding to the Tesseract engine.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/coachscout/jobs-crawler/internal/hash/content"
	"github.com/coachscout/jobs-crawler/internal/vision"
)

// Config controls the Tesseract client.
type Config struct {
	Languages []string
}

// Extractor implements vision.Extractor for the local-ocr tier. Each call
// creates its own client; there is no cross-call state.
type Extractor struct {
	cfg           Config
	clientFactory func() *gosseract.Client
	recognizeFn   func(image []byte) recognition
}

// New constructs a Tesseract-backed extractor.
func New(cfg Config) *Extractor {
	e := &Extractor{
		cfg:           cfg,
		clientFactory: gosseract.NewClient,
	}
	e.recognizeFn = e.recognize
	return e
}

// Tier reports the escalation tier this adapter serves.
func (e *Extractor) Tier() vision.Tier {
	return vision.TierLocalOCR
}

type recognition struct {
	result vision.ExtractionResult
	err    error
}

// Extract runs OCR over the screenshot bytes. Any engine failure,
// including a context deadline overrun, is reported as a tier-unavailable
// condition so the router escalates instead of failing the URL.
func (e *Extractor) Extract(ctx context.Context, image []byte) (vision.ExtractionResult, error) {
	done := make(chan recognition, 1)
	go func() {
		done <- e.recognizeFn(image)
	}()

	select {
	case <-ctx.Done():
		return vision.ExtractionResult{}, fmt.Errorf("%w: tesseract: %w", vision.ErrTierUnavailable, ctx.Err())
	case rec := <-done:
		if rec.err != nil {
			return vision.ExtractionResult{}, fmt.Errorf("%w: tesseract: %w", vision.ErrTierUnavailable, rec.err)
		}
		return rec.result, nil
	}
}

func (e *Extractor) recognize(image []byte) recognition {
	client := e.clientFactory()
	defer func() {
		_ = client.Close()
	}()

	if len(e.cfg.Languages) > 0 {
		if err := client.SetLanguage(e.cfg.Languages...); err != nil {
			return recognition{err: fmt.Errorf("set languages: %w", err)}
		}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return recognition{err: fmt.Errorf("set image: %w", err)}
	}

	text, err := client.Text()
	if err != nil {
		return recognition{err: fmt.Errorf("recognize text: %w", err)}
	}
	text = strings.TrimSpace(text)

	return recognition{result: vision.ExtractionResult{
		Tier:       vision.TierLocalOCR,
		Text:       text,
		Confidence: meanWordConfidence(client),
		TextHash:   content.TextSum(text),
	}}
}

// meanWordConfidence averages per-word confidences scaled to 0..1. An
// empty page reads as zero confidence.
func meanWordConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, box := range boxes {
		sum += box.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}
