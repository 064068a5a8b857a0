// Package output fans run-lifecycle events out to the configured sinks:
// a human-facing console stream and optionally a machine-facing NDJSON
// stream.
package output

import (
	"errors"
	"io"
)

type Sink interface {
	Write(e Event) error
	Close() error
}

type Manager struct {
	sinks []Sink
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) AddSink(s Sink) error {
	if s == nil {
		return errors.New("nil sink")
	}
	m.sinks = append(m.sinks, s)
	return nil
}

// Write forwards e to every sink. Sink errors are collected, not
// short-circuited: one broken sink must not silence the others.
func (m *Manager) Write(e Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard returns a manager with no sinks, for tests.
func Discard() *Manager {
	return &Manager{}
}

var _ io.Closer = (*Manager)(nil)
