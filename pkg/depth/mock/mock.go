// Package mock provides a scripted [depth.Source] for unit tests.
//
// The source delivers a fixed list of frames to the handler, then blocks
// until the context is cancelled, so it behaves like a live camera that
// stopped moving.
//
// Typical usage:
//
//	src := &mock.Source{Frames: []depth.Frame{depth.Uniform(4, 4, 1.55)}}
//	go src.Run(ctx, pipeline)
//	<-src.Delivered()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/theremin/pkg/depth"
)

// Compile-time interface assertion.
var _ depth.Source = (*Source)(nil)

// Source is a mock implementation of [depth.Source].
type Source struct {
	// Frames are delivered in order on each Run.
	Frames []depth.Frame

	// RunErr, when non-nil, is returned by Run immediately after delivery.
	RunErr error

	mu         sync.Mutex
	runCalls   int
	deliveredC chan struct{}
}

func (s *Source) delivered() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveredC == nil {
		s.deliveredC = make(chan struct{})
	}
	return s.deliveredC
}

// Run implements [depth.Source].
func (s *Source) Run(ctx context.Context, h depth.Handler) error {
	ch := s.delivered()
	s.mu.Lock()
	s.runCalls++
	first := s.runCalls == 1
	s.mu.Unlock()

	for _, f := range s.Frames {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.OnFrame(f)
	}
	if first {
		close(ch)
	}
	if s.RunErr != nil {
		return s.RunErr
	}
	<-ctx.Done()
	return ctx.Err()
}

// Delivered returns a channel closed once the first Run has handed every
// scripted frame to its handler.
func (s *Source) Delivered() <-chan struct{} { return s.delivered() }

// RunCalls returns how many times Run was called.
func (s *Source) RunCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCalls
}
