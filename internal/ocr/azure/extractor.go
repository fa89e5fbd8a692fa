// Package azure implements the cloud OCR tier against the Azure Image
// Analysis v4 "read" feature.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coachscout/jobs-crawler/internal/hash/content"
	"github.com/coachscout/jobs-crawler/internal/vision"
)

const apiVersion = "2024-02-01"

// Config captures the Azure Vision credentials and request options.
type Config struct {
	Endpoint string
	Key      string
	Language string
	// HTTPClient overrides the default client, primarily for testing.
	HTTPClient *http.Client
}

// Extractor implements vision.Extractor for the cloud-ocr tier.
type Extractor struct {
	cfg    Config
	client *http.Client
}

// New constructs an Azure-backed extractor. Missing credentials are a
// construction error; callers that lack credentials simply do not
// register the tier, which the router reports as tier_unavailable.
func New(cfg Config) (*Extractor, error) {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Endpoint == "" || cfg.Key == "" {
		return nil, fmt.Errorf("azure vision endpoint and key are required")
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	return &Extractor{cfg: cfg, client: client}, nil
}

// Tier reports the escalation tier this adapter serves.
func (e *Extractor) Tier() vision.Tier {
	return vision.TierCloudOCR
}

// Extract posts the screenshot to the analyze endpoint and folds the read
// result into text plus a mean word confidence. Network failures,
// non-2xx responses and deadline overruns all surface as tier-unavailable.
func (e *Extractor) Extract(ctx context.Context, image []byte) (vision.ExtractionResult, error) {
	endpoint := fmt.Sprintf("%s/computervision/imageanalysis:analyze?%s", e.cfg.Endpoint, url.Values{
		"api-version": {apiVersion},
		"features":    {"read"},
		"language":    {e.cfg.Language},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(image))
	if err != nil {
		return vision.ExtractionResult{}, fmt.Errorf("%w: azure: build request: %w", vision.ErrTierUnavailable, err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", e.cfg.Key)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return vision.ExtractionResult{}, fmt.Errorf("%w: azure: %w", vision.ErrTierUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return vision.ExtractionResult{}, fmt.Errorf("%w: azure: unexpected status %d", vision.ErrTierUnavailable, resp.StatusCode)
	}

	var payload analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return vision.ExtractionResult{}, fmt.Errorf("%w: azure: decode response: %w", vision.ErrTierUnavailable, err)
	}

	text, confidence := flattenReadResult(payload)
	return vision.ExtractionResult{
		Tier:       vision.TierCloudOCR,
		Text:       text,
		Confidence: confidence,
		TextHash:   content.TextSum(text),
	}, nil
}

type analyzeResponse struct {
	ReadResult struct {
		Blocks []struct {
			Lines []struct {
				Text  string `json:"text"`
				Words []struct {
					Confidence *float64 `json:"confidence"`
				} `json:"words"`
			} `json:"lines"`
		} `json:"blocks"`
	} `json:"readResult"`
}

// flattenReadResult joins line text and averages word confidences. When
// the service returns no word confidences but did return text, a high
// default applies: the read engine only omits confidences on clean reads.
func flattenReadResult(payload analyzeResponse) (string, float64) {
	var (
		lines []string
		confs []float64
	)
	for _, block := range payload.ReadResult.Blocks {
		for _, line := range block.Lines {
			if text := strings.TrimSpace(line.Text); text != "" {
				lines = append(lines, text)
			}
			for _, word := range line.Words {
				if word.Confidence != nil {
					confs = append(confs, *word.Confidence)
				}
			}
		}
	}
	text := strings.Join(lines, "\n")
	if len(confs) > 0 {
		var sum float64
		for _, c := range confs {
			sum += c
		}
		return text, sum / float64(len(confs))
	}
	if text != "" {
		return text, 0.9
	}
	return text, 0
}
