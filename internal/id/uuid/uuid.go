// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	guuid "github.com/google/uuid"
)

// Generator produces time-ordered UUIDs for run records.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a new UUIDv7 string.
func (g *Generator) NewID() (string, error) {
	id, err := guuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return id.String(), nil
}
