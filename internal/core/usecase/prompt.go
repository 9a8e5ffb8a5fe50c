package usecase

import (
	"fmt"
	"strings"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

// buildGroundedPrompt embeds only the retained evidence plus the evidence-only
// instruction. The model is told to answer strictly from the numbered
// references and to say so when they do not contain the answer; unsupported
// claims are forbidden by the instruction, the gate guarantees the references
// are non-empty.
func buildGroundedPrompt(question string, evidence []domain.RerankedCandidate) string {
	var ctxBuilder strings.Builder
	var graphNotes []string
	for _, ev := range evidence {
		ctxBuilder.WriteString(fmt.Sprintf(
			"[%d] document=%s chunk=%s relevance=%.3f\n%s\n\n",
			ev.FinalRank,
			ev.DocumentID,
			ev.ChunkID,
			ev.Relevance,
			ev.Text,
		))
		if ev.GraphContext != "" {
			graphNotes = append(graphNotes, fmt.Sprintf("[%d] %s", ev.FinalRank, ev.GraphContext))
		}
	}

	var b strings.Builder
	b.WriteString(`Answer the user question using only the numbered reference materials below.
Rules:
1. Base every statement on the references. Do not add claims they do not support.
2. If the references do not contain the answer, say so directly.
3. Cite the reference numbers you used, like [1] or [2].

References:
`)
	b.WriteString(ctxBuilder.String())

	if len(graphNotes) > 0 {
		b.WriteString("Knowledge graph context for the references:\n")
		b.WriteString(strings.Join(graphNotes, "\n"))
		b.WriteString("\n\n")
	}

	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// ungroundedAnswerText is the designed outcome for a query without
// sufficient evidence. Reported explicitly, never answered speculatively.
const ungroundedAnswerText = "No sufficiently relevant evidence was found in the corpus for this question."
