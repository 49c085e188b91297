package storage

import "tagAirdrop/internal/model"

// EventSink receives decoded events.
type EventSink interface {
	PutEvents(events []model.EventRecord) error
}

// ErrorSink receives logs that failed to decode.
type ErrorSink interface {
	PutDecodeErrors(errs []model.DecodeError) error
}

// Discard drops everything written to it.
type Discard struct{}

func (Discard) PutEvents([]model.EventRecord) error       { return nil }
func (Discard) PutDecodeErrors([]model.DecodeError) error { return nil }
