package rag

import (
	"fmt"
	"strings"

	"github.com/docsage/docsage/pkg/types"
)

// NoInfoAnswer is returned when retrieval finds nothing.
const NoInfoAnswer = "I don't have enough information to answer that question."

// promptJSON requests a single-field JSON object for non-streaming
// answers.
const promptJSON = `You are an expert assistant that answers questions based ONLY on the provided context.

Context:
%s

Question: %s

Instructions:
- Answer in the same language as the question
- Be concise and direct
- If the context doesn't contain enough information, say "I don't have enough information to answer that question."
- DO NOT add information that is not in the context
- Return ONLY valid JSON in this exact format:

{"answer": "your answer here"}

Do not include markdown formatting, explanations, or any text outside the JSON object.
`

// promptStream requests plain text for streaming answers.
const promptStream = `You are an expert assistant that answers questions based ONLY on the provided context.

Context:
%s

Question: %s

Instructions:
- Answer in the same language as the question
- Be concise and direct
- If the context doesn't contain enough information, say "I don't have enough information to answer that question."
- DO NOT add information that is not in the context
- Provide your answer as plain text, without any JSON formatting

Answer:`

// BuildContext composes the numbered context block: "[i+1]\n{text}"
// joined by blank lines.
func BuildContext(points []types.ScoredPoint) string {
	blocks := make([]string, len(points))
	for i, p := range points {
		blocks[i] = fmt.Sprintf("[%d]\n%s", i+1, p.Payload.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// RenderJSONPrompt renders the non-streaming prompt.
func RenderJSONPrompt(context, question string) string {
	return fmt.Sprintf(promptJSON, context, question)
}

// RenderStreamPrompt renders the streaming prompt.
func RenderStreamPrompt(context, question string) string {
	return fmt.Sprintf(promptStream, context, question)
}
