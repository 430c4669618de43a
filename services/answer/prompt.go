package answer

import (
	"fmt"
	"strings"

	"github.com/achouhan93/ClusterTalk/internal/rag"
)

const systemPrompt = "You are ClusterTalk, an assistant that answers questions about a collection of research documents. " +
	"Answer using only the numbered context passages supplied with the question. " +
	"If the passages do not contain the answer, say that the available context is insufficient. " +
	"Never state facts that the passages do not support and never invent document identifiers."

// InsufficientContextAnswer is returned without calling the model when
// retrieval produced no usable passages.
const InsufficientContextAnswer = "I could not find enough information in the indexed documents to answer this question."

const answerCue = "Answer:"

// BuildPrompt renders the grounding prompt: every passage numbered and
// labelled with its document id, followed by the question.
func BuildPrompt(question string, passages []rag.Passage) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] (document: %s)\n%s\n\n", i+1, p.DocumentID, strings.TrimSpace(p.Text))
	}
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n")
	b.WriteString(answerCue)
	return b.String()
}

// parseAnswer extracts the answer text from raw model output. The second
// return is false when nothing usable is left.
func parseAnswer(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if len(text) >= len(answerCue) && strings.EqualFold(text[:len(answerCue)], answerCue) {
		text = strings.TrimSpace(text[len(answerCue):])
	}
	return text, text != ""
}
