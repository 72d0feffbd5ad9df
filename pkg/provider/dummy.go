package provider

import (
	"context"
	"time"
)

// DummyProvider is always available, carries no credential and ignores usage and blocks.
// It is useful for local development and as a last-resort fallback.
type DummyProvider struct {
	name string
}

// NewDummyProvider returns a DummyProvider named "dummy" unless a name is given.
func NewDummyProvider(name string) *DummyProvider {
	if name == "" {
		name = "dummy"
	}
	return &DummyProvider{name: name}
}

func (d *DummyProvider) Name() string                               { return d.name }
func (d *DummyProvider) Credential() string                         { return "" }
func (d *DummyProvider) IsAvailable(context.Context) bool           { return true }
func (d *DummyProvider) RecordUsage(context.Context) error          { return nil }
func (d *DummyProvider) Block(context.Context, time.Duration) error { return nil }
