package answer

import (
	"fmt"
	"strings"
)

// DefaultPrompt is the question-answering template. {context} and
// {question} are replaced once; text inside the substituted values is not
// interpreted.
const DefaultPrompt = `You are an expert assistant for answering questions about Ontario's 2025 Fishing Regulations.

Use only the information from the provided context to answer the question. If the information is not in the context,
say "I don't have enough information about that in the Ontario 2025 Fishing Regulations." Do not make up information.

When answering questions about specific locations or time periods:
1. First check if the location/zone is mentioned in the context
2. Then check if there are any time-specific regulations (seasons, dates)
3. Finally check for any special conditions or exceptions

For catch limits:
- Always specify both sport and conservation license limits
- Include size limits if mentioned
- Note any special conditions or exceptions
- If a location is mentioned, only provide limits specific to that location

Context:
{context}

Question: {question}

Answer (be concise and specific):`

// ValidatePrompt checks that a template has both placeholders.
func ValidatePrompt(tmpl string) error {
	for _, p := range []string{"{context}", "{question}"} {
		if !strings.Contains(tmpl, p) {
			return fmt.Errorf("prompt template is missing %s", p)
		}
	}
	return nil
}

// BuildPrompt fills tmpl with the retrieved context and the question.
func BuildPrompt(tmpl, context, question string) string {
	return strings.NewReplacer("{context}", context, "{question}", question).Replace(tmpl)
}

// JoinContext joins passage texts with a blank line between them.
func JoinContext(texts []string) string {
	return strings.Join(texts, "\n\n")
}
