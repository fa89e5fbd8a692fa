// Package memory provides an in-memory fingerprint store for development
// and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/coachscout/jobs-crawler/internal/vision"
)

// FingerprintStore keeps fingerprints, escalation events and run summaries
// in process memory. Safe for concurrent use.
type FingerprintStore struct {
	clock vision.Clock

	mu          sync.RWMutex
	pages       map[string]vision.PageFingerprint
	escalations []vision.EscalationEvent
	runs        []vision.RunSummary
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// NewFingerprintStore constructs an empty store. A nil clock falls back
// to the UTC wall clock.
func NewFingerprintStore(clock vision.Clock) *FingerprintStore {
	if clock == nil {
		clock = wallClock{}
	}
	return &FingerprintStore{
		clock: clock,
		pages: make(map[string]vision.PageFingerprint),
	}
}

// Get returns the fingerprint for url.
func (s *FingerprintStore) Get(_ context.Context, url string) (vision.PageFingerprint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.pages[url]
	if !ok {
		return vision.PageFingerprint{}, false, nil
	}
	return cloneFingerprint(fp), true, nil
}

// Upsert creates or replaces the fingerprint row for url.
func (s *FingerprintStore) Upsert(_ context.Context, url, screenshotHash string, tier vision.Tier, textHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.pages[url]
	if !ok {
		fp = vision.PageFingerprint{
			URL:        url,
			TextHashes: make(map[vision.Tier]string),
		}
	}
	if fp.TextHashes == nil {
		fp.TextHashes = make(map[vision.Tier]string)
	}
	fp.ScreenshotHash = screenshotHash
	fp.TextHashes[tier] = textHash
	fp.LastTier = tier
	fp.LastSeen = s.clock.Now()
	s.pages[url] = fp
	return nil
}

// RecordEscalation appends one audit row.
func (s *FingerprintStore) RecordEscalation(_ context.Context, event vision.EscalationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations = append(s.escalations, event)
	return nil
}

// RecordRunSummary appends the run rollup.
func (s *FingerprintStore) RecordRunSummary(_ context.Context, summary vision.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, summary)
	return nil
}

// Escalations returns a copy of the escalation log, oldest first.
func (s *FingerprintStore) Escalations() []vision.EscalationEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]vision.EscalationEvent, len(s.escalations))
	copy(out, s.escalations)
	return out
}

// Runs returns a copy of the recorded run summaries.
func (s *FingerprintStore) Runs() []vision.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]vision.RunSummary, len(s.runs))
	copy(out, s.runs)
	return out
}

func cloneFingerprint(fp vision.PageFingerprint) vision.PageFingerprint {
	hashes := make(map[vision.Tier]string, len(fp.TextHashes))
	for tier, hash := range fp.TextHashes {
		hashes[tier] = hash
	}
	fp.TextHashes = hashes
	return fp
}
