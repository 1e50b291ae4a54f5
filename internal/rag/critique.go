package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yoockh/yoodocs/internal/providers/llm"
	"github.com/yoockh/yoodocs/internal/utils"
)

type Critique struct {
	Accuracy     int      `json:"accuracy"`
	Relevance    int      `json:"relevance"`
	Completeness int      `json:"completeness"`
	Clarity      int      `json:"clarity"`
	Overall      int      `json:"overall"`
	Strengths    []string `json:"strengths"`
	Weaknesses   []string `json:"weaknesses"`
	Suggestions  []string `json:"suggestions"`
}

type Critic struct {
	llm llm.Provider
}

func NewCritic(p llm.Provider) *Critic { return &Critic{llm: p} }

const critiquePrompt = `You are reviewing an answer produced by a document question-answering assistant.
Score the answer against the sources on a 1-10 scale for accuracy, relevance, completeness and clarity, and give an overall score.
List concrete strengths, weaknesses and suggestions.
Reply with a single JSON object and nothing else, shaped like:
{"accuracy":0,"relevance":0,"completeness":0,"clarity":0,"overall":0,"strengths":[],"weaknesses":[],"suggestions":[]}

Sources:
%s
Question: %s

Answer:
%s
`

// Critique asks the model for a rubric review of answer.
func (c *Critic) Critique(ctx context.Context, question, answer string, sources []Passage) (*Critique, error) {
	const op = "Critic.Critique"

	if strings.TrimSpace(answer) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "answer is required", nil)
	}

	var src strings.Builder
	if len(sources) == 0 {
		src.WriteString("(none)\n")
	}
	for i, p := range sources {
		fmt.Fprintf(&src, "[%d] %s\n%s\n\n", i+1, p.Title, strings.TrimSpace(p.Text))
	}

	reply, err := llm.Collect(ctx, c.llm, fmt.Sprintf(critiquePrompt, src.String(), strings.TrimSpace(question), strings.TrimSpace(answer)))
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "critique generation failed", err)
	}

	cr, err := ParseCritique(reply)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "critique reply is not valid JSON", err)
	}
	return cr, nil
}

// ParseCritique extracts the first JSON object in reply, tolerating code
// fences and surrounding prose, and clamps scores to 1..10.
func ParseCritique(reply string) (*Critique, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var cr Critique
	if err := json.Unmarshal([]byte(reply[start:end+1]), &cr); err != nil {
		return nil, err
	}
	for _, s := range []*int{&cr.Accuracy, &cr.Relevance, &cr.Completeness, &cr.Clarity, &cr.Overall} {
		*s = min(max(*s, 1), 10)
	}
	if cr.Strengths == nil {
		cr.Strengths = []string{}
	}
	if cr.Weaknesses == nil {
		cr.Weaknesses = []string{}
	}
	if cr.Suggestions == nil {
		cr.Suggestions = []string{}
	}
	return &cr, nil
}
