package assistant

import (
	"context"
	"sync"
	"time"
)

// Stub is a fixed-response Assistant for tests and offline runs.
type Stub struct {
	Text  string
	Err   error
	Delay time.Duration

	mu    sync.Mutex
	calls int
	last  Request
}

// Name implements Assistant.
func (s *Stub) Name() string { return "stub" }

// Complete returns Text or Err after Delay, honouring ctx cancellation.
func (s *Stub) Complete(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	s.calls++
	s.last = req
	s.mu.Unlock()

	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return &Response{Text: s.Text, Model: "stub"}, nil
}

// Calls returns how many times Complete ran.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastRequest returns the most recent request.
func (s *Stub) LastRequest() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
