// Package events publishes the outcome of sync cycles for back-office consumers.
package events

import (
	"context"
	"time"
)

const (
	SyncCompleted = "sync.completed"
	SyncFailed    = "sync.failed"
)

type Event struct {
	Type     string            `json:"type"`
	Terminal string            `json:"terminal,omitempty"`
	Started  time.Time         `json:"started"`
	Finished time.Time         `json:"finished"`
	Pushed   int               `json:"pushed"`
	Failed   int               `json:"failed"`
	Pulled   map[string]int    `json:"pulled,omitempty"`
	PullErrs map[string]string `json:"pull_errors,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop: domyślny publisher, gdy amqp_url jest pusty.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder zbiera eventy w pamięci (testy, podgląd w CLI).
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	select {
	case r.ch <- ev:
	default:
	}
	return nil
}

func (r *Recorder) Events() <-chan Event { return r.ch }

func (r *Recorder) Close() error { return nil }
