// Package rag coordinates retrieval, prompt assembly, and streamed completion for each chat turn.
package rag

import (
	"encoding/json"
)

// EventType tags an Event.
type EventType string

const (
	EventSources EventType = "sources"
	EventContent EventType = "content"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one item of a chat turn's output. Sources comes first, then zero or more
// Content events, then exactly one Done or Error unless the caller went away.
type Event struct {
	Type    EventType
	Sources []string
	Content string
	Err     string

	cause error
}

// Cause returns the typed error behind an Error event.
func (e Event) Cause() error {
	return e.cause
}

// Terminal reports whether no event may follow e.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func sourcesEvent(sources []string) Event {
	if sources == nil {
		sources = []string{}
	}
	return Event{Type: EventSources, Sources: sources}
}

func contentEvent(s string) Event {
	return Event{Type: EventContent, Content: s}
}

func errorEvent(msg string, cause error) Event {
	return Event{Type: EventError, Err: msg, cause: cause}
}

// MarshalJSON encodes the event the way it travels on the wire: {"sources":[...]},
// {"content":"..."} or {"error":"..."}. Done has no payload and encodes as null.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventSources:
		return json.Marshal(struct {
			Sources []string `json:"sources"`
		}{e.Sources})
	case EventContent:
		return json.Marshal(struct {
			Content string `json:"content"`
		}{e.Content})
	case EventError:
		return json.Marshal(struct {
			Error string `json:"error"`
		}{e.Err})
	default:
		return []byte("null"), nil
	}
}

// State is a step of the per-request state machine.
type State string

const (
	StateRetrieving State = "retrieving"
	StateBuilding   State = "building"
	StateGenerating State = "generating"
	StateDraining   State = "draining"
	StateDone       State = "done"
	StateFailed     State = "failed"
)
