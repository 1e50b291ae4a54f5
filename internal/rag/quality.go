package rag

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/yoockh/yoodocs/internal/providers/embedding"
	"github.com/yoockh/yoodocs/internal/utils"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type HallucinationDetails struct {
	MaxSourceSimilarity float64   `json:"max_source_similarity"`
	AvgSourceSimilarity float64   `json:"avg_source_similarity"`
	KeywordOverlap      float64   `json:"keyword_overlap"`
	NumSources          int       `json:"num_sources"`
	AnswerLength        int       `json:"answer_length"`
	RiskLevel           RiskLevel `json:"risk_level"`
	Reason              string    `json:"reason,omitempty"`
}

type HallucinationReport struct {
	HallucinationScore float64              `json:"hallucination_score"`
	AlignmentScore     float64              `json:"alignment_score"`
	Details            HallucinationDetails `json:"details"`
}

var stopWords = toSet(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by", "from",
	"is", "are", "was", "were", "be", "been", "being", "have", "has", "had", "do", "does", "did",
	"will", "would", "should", "could", "may", "might", "must", "can", "this", "that", "these",
	"those", "i", "you", "he", "she", "it", "we", "they", "what", "which", "who", "when", "where",
	"why", "how",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func RiskFor(hallucination float64) RiskLevel {
	switch {
	case hallucination < 0.3:
		return RiskLow
	case hallucination < 0.6:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Estimator scores how well an answer is supported by its passages.
type Estimator struct {
	embedder embedding.Embedder
}

func NewEstimator(e embedding.Embedder) *Estimator { return &Estimator{embedder: e} }

// Score computes alignment = 0.6*max + 0.3*avg cosine similarity between the
// answer and each passage, plus 0.1*keyword overlap; hallucination is its
// complement. Similarities are clamped to [0,1].
func (q *Estimator) Score(ctx context.Context, answer string, passages []Passage) (*HallucinationReport, error) {
	const op = "Estimator.Score"

	answer = strings.TrimSpace(answer)
	if answer == "" || len(passages) == 0 {
		return &HallucinationReport{Details: HallucinationDetails{
			RiskLevel: RiskLow,
			Reason:    "No answer or sources to compare",
		}}, nil
	}

	var texts []string
	for _, p := range passages {
		if strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) == 0 {
		return &HallucinationReport{
			HallucinationScore: 0.9,
			AlignmentScore:     0.1,
			Details: HallucinationDetails{
				NumSources: len(passages),
				RiskLevel:  RiskHigh,
				Reason:     "No source texts available",
			},
		}, nil
	}

	vecs, err := q.embedder.Embed(ctx, append([]string{answer}, texts...))
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to embed answer and sources", err)
	}

	var maxSim, sum float64
	for _, v := range vecs[1:] {
		sim := clamp01(Cosine(vecs[0], v))
		sum += sim
		maxSim = math.Max(maxSim, sim)
	}
	avgSim := sum / float64(len(texts))
	overlap := KeywordOverlap(answer, texts)

	alignment := 0.6*maxSim + 0.3*avgSim + 0.1*overlap
	hallucination := 1 - alignment

	return &HallucinationReport{
		HallucinationScore: round3(hallucination),
		AlignmentScore:     round3(alignment),
		Details: HallucinationDetails{
			MaxSourceSimilarity: round3(maxSim),
			AvgSourceSimilarity: round3(avgSim),
			KeywordOverlap:      round3(overlap),
			NumSources:          len(passages),
			AnswerLength:        utf8.RuneCountInString(answer),
			RiskLevel:           RiskFor(hallucination),
		},
	}, nil
}

// KeywordOverlap is the share of the answer's distinct non-stopword words
// that also occur in any source.
func KeywordOverlap(answer string, sources []string) float64 {
	answerWords := keywords(answer)
	if len(answerWords) == 0 {
		return 0
	}
	sourceWords := map[string]struct{}{}
	for _, s := range sources {
		for w := range keywords(s) {
			sourceWords[w] = struct{}{}
		}
	}
	shared := 0
	for w := range answerWords {
		if _, ok := sourceWords[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(answerWords))
}

func keywords(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range embedding.Tokenize(text) {
		if _, stop := stopWords[w]; !stop {
			out[w] = struct{}{}
		}
	}
	return out
}

func clamp01(x float64) float64 { return math.Min(1, math.Max(0, x)) }

func round3(x float64) float64 { return math.Round(x*1000) / 1000 }

// Confidence is a coarse 0..0.95 answer confidence from passage relevance and
// answer length; 0.2 when there is nothing to judge.
func Confidence(answer string, passages []Passage) float64 {
	if len(passages) == 0 || strings.TrimSpace(answer) == "" {
		return 0.2
	}
	var rel float64
	for _, p := range passages {
		rel += 1 / (1 + (1 - clamp01(p.Score)))
	}
	rel /= float64(len(passages))
	length := math.Min(float64(utf8.RuneCountInString(answer))/300, 10)
	return math.Round(math.Min(0.6*rel+0.4*length, 0.95)*100) / 100
}
