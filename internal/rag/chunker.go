package rag

import (
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
	"github.com/yoockh/yoodocs/internal/utils"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 200
)

// Chunk is a contiguous span of a document's text. Start and End are rune
// offsets into the normalized text, -1 when unknown.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

func (c Chunk) Length() int { return utf8.RuneCountInString(c.Text) }

type Chunker interface {
	Split(documentID, text string) ([]Chunk, error)
}

func validateWindow(op string, size, overlap int) error {
	switch {
	case size <= 0:
		return utils.E(utils.CodeConfiguration, op, "chunk size must be positive", nil)
	case overlap < 0:
		return utils.E(utils.CodeConfiguration, op, "chunk overlap must not be negative", nil)
	case size <= overlap:
		return utils.E(utils.CodeConfiguration, op, "chunk size must be greater than chunk overlap", nil)
	}
	return nil
}

// NormalizeText unifies line endings and trims surrounding whitespace.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// WindowChunker cuts fixed windows of Size runes, each starting Size-Overlap
// runes after the previous one.
type WindowChunker struct {
	size    int
	overlap int
}

func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	if err := validateWindow("NewWindowChunker", size, overlap); err != nil {
		return nil, err
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

func (w *WindowChunker) Split(documentID, text string) ([]Chunk, error) {
	runes := []rune(NormalizeText(text))
	if len(runes) == 0 {
		return nil, nil
	}

	step := w.size - w.overlap
	chunks := make([]Chunk, 0, len(runes)/step+1)
	for start := 0; ; start += step {
		end := min(start+w.size, len(runes))
		chunks = append(chunks, Chunk{
			DocumentID: documentID,
			Index:      len(chunks),
			Text:       string(runes[start:end]),
			Start:      start,
			End:        end,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// RecursiveChunker prefers paragraph, line and word boundaries. Overlap is a
// target, not an exact guarantee.
type RecursiveChunker struct {
	splitter textsplitter.RecursiveCharacter
}

func NewRecursiveChunker(size, overlap int) (*RecursiveChunker, error) {
	if err := validateWindow("NewRecursiveChunker", size, overlap); err != nil {
		return nil, err
	}
	return &RecursiveChunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}, nil
}

func (r *RecursiveChunker) Split(documentID, text string) ([]Chunk, error) {
	const op = "RecursiveChunker.Split"

	text = NormalizeText(text)
	if text == "" {
		return nil, nil
	}

	parts, err := r.splitter.SplitText(text)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to split text", err)
	}

	chunks := make([]Chunk, 0, len(parts))
	cursor := 0 // byte offset to search from
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		c := Chunk{DocumentID: documentID, Index: len(chunks), Text: p, Start: -1, End: -1}
		if i := strings.Index(text[cursor:], p); i >= 0 {
			b := cursor + i
			c.Start = utf8.RuneCountInString(text[:b])
			c.End = c.Start + utf8.RuneCountInString(p)
			cursor = b + 1
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// NewChunker builds the chunker named by strategy ("window" or "recursive").
func NewChunker(strategy string, size, overlap int) (Chunker, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", "window":
		return NewWindowChunker(size, overlap)
	case "recursive":
		return NewRecursiveChunker(size, overlap)
	default:
		return nil, utils.E(utils.CodeConfiguration, "NewChunker", "unknown chunk strategy "+strategy, nil)
	}
}
