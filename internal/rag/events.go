package rag

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-contrib/sse"
)

type EventType string

const (
	EventToken   EventType = "token"
	EventSources EventType = "sources"
	EventEnd     EventType = "end"
	EventError   EventType = "error"
)

type Source struct {
	Title      string `json:"title"`
	DocumentID string `json:"document_id"`
	ChunkID    int    `json:"chunk_id"`
}

// Event is one item of an answer stream.
type Event struct {
	Type    EventType
	Content string
	Sources []Source
	Message string
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventToken:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventSources:
		src := e.Sources
		if src == nil {
			src = []Source{}
		}
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Sources []Source  `json:"sources"`
		}{e.Type, src})
	case EventError:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{e.Type, e.Message})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type    EventType `json:"type"`
		Content string    `json:"content"`
		Sources []Source  `json:"sources"`
		Message string    `json:"message"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Event{Type: raw.Type, Content: raw.Content, Sources: raw.Sources, Message: raw.Message}
	return nil
}

func SourcesFrom(passages []Passage) []Source {
	out := make([]Source, 0, len(passages))
	for _, p := range passages {
		out = append(out, Source{Title: p.Title, DocumentID: p.DocumentID, ChunkID: p.ChunkIndex})
	}
	return out
}

// WriteSSE writes ev as one server-sent event ("data: <json>\n\n") and
// flushes when w supports it.
func WriteSSE(w io.Writer, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	// sse writes "data:" verbatim; the space keeps the documented framing
	if err := sse.Encode(w, sse.Event{Data: append([]byte(" "), b...)}); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// ReadSSE parses every data event from r until EOF.
func ReadSSE(r io.Reader) ([]Event, error) {
	var out []Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}
