package rag

import (
	"fmt"
	"strings"
)

const (
	DefaultSystemPrompt = "You are an AI customer support assistant."
	NotAvailableAnswer  = "I'm sorry, but the requested information is not available in the provided documents."
	DefaultHistoryTurns = 6
)

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildPrompt renders the grounded prompt: instructions, numbered passages,
// the last historyTurns turns and the question.
func BuildPrompt(req GenerateRequest, historyTurns int) string {
	system := strings.TrimSpace(req.SystemPrompt)
	if system == "" {
		system = DefaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\nUse ONLY the numbered context passages below to answer the question.\n")
	fmt.Fprintf(&b, "If the answer is NOT in the context, reply exactly: %q\n", NotAvailableAnswer)
	b.WriteString("Do not use outside knowledge. Refer to passages by number when it helps.\n")

	b.WriteString("\nContext:\n")
	if len(req.Passages) == 0 {
		b.WriteString("(no passages)\n")
	}
	for i, p := range req.Passages {
		fmt.Fprintf(&b, "[%d] %s (chunk %d)\n%s\n\n", i+1, p.Title, p.ChunkIndex, strings.TrimSpace(p.Text))
	}

	history := req.History
	if historyTurns >= 0 && len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, t := range history {
			role := "User"
			if t.Role == "assistant" {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, strings.TrimSpace(t.Content))
		}
	}

	if prev := strings.TrimSpace(req.PreviousAnswer); prev != "" {
		fmt.Fprintf(&b, "\nPrevious answer:\n%s\n", prev)
	}
	if c := strings.TrimSpace(req.Constraints); c != "" {
		fmt.Fprintf(&b, "\nWrite a new answer that follows these instructions: %s\n", c)
	}

	fmt.Fprintf(&b, "\nQuestion: %s\nAnswer:", strings.TrimSpace(req.Query))
	return b.String()
}

// PostProcess collapses whitespace and drops sentences repeated verbatim.
func PostProcess(answer string) string {
	answer = strings.Join(strings.Fields(answer), " ")
	if answer == "" {
		return ""
	}

	seen := map[string]struct{}{}
	var out []string
	for _, s := range splitSentences(answer) {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(s))
	}
	return strings.Join(out, " ")
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || runes[i+1] == ' ') {
			out = append(out, string(runes[start:i+1]))
			start = i + 1
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}
