package provider

import (
	"context"
	"sync"
	"time"
)

// MockProvider is a scriptable Provider for tests and local simulations.
type MockProvider struct {
	name       string
	credential string

	mu             sync.Mutex
	available      bool
	recordErr      error
	blockErr       error
	availableCalls int
	recorded       int
	blocks         []time.Duration
}

// NewMockProvider creates an available mock provider.
func NewMockProvider(name, credential string) *MockProvider {
	return &MockProvider{
		name:       name,
		credential: credential,
		available:  true,
	}
}

func (p *MockProvider) Name() string       { return p.name }
func (p *MockProvider) Credential() string { return p.credential }

func (p *MockProvider) IsAvailable(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.availableCalls++
	return p.available
}

func (p *MockProvider) RecordUsage(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recordErr != nil {
		return p.recordErr
	}
	p.recorded++
	return nil
}

// Block records the ttl and makes the mock unavailable.
func (p *MockProvider) Block(_ context.Context, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks = append(p.blocks, ttl)
	if p.blockErr != nil {
		return p.blockErr
	}
	p.available = false
	return nil
}

// SetAvailable overrides the availability answer.
func (p *MockProvider) SetAvailable(available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = available
}

// FailRecording makes RecordUsage return err. A nil err restores normal behaviour.
func (p *MockProvider) FailRecording(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordErr = err
}

// FailBlocking makes Block return err.
func (p *MockProvider) FailBlocking(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockErr = err
}

func (p *MockProvider) Recorded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recorded
}

func (p *MockProvider) AvailabilityChecks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableCalls
}

// Blocks returns the ttl of every Block call so far.
func (p *MockProvider) Blocks() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.blocks...)
}
