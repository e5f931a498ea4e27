package agents

import (
	"context"
	"fmt"
)

const qaSystem = `You answer questions about project documents using only the numbered context passages.
Respond with a single JSON object:
{"answer": string, "confidence": number between 0 and 1, "sources": [passage numbers used]}
If the context does not contain the answer, say so in "answer" and use confidence 0.`

var qaBudgets = budgets{"brief": 400, "standard": 800, "detailed": 1500}

var qaContract = contract{
	schema: mustSchema("qa", `{
		"type": "object",
		"required": ["answer", "confidence", "sources"],
		"properties": {
			"answer": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"sources": {"type": "array", "items": {"type": "number"}}
		}
	}`),
	fallback: func() map[string]any {
		return map[string]any{"answer": "", "confidence": 0.0, "sources": []any{}}
	},
}

// QAAgent answers a question from supplied context.
// Input: question (required), context (required), length.
type QAAgent struct{}

func (QAAgent) Name() Name { return QA }

func (QAAgent) Validate(input map[string]any) error {
	if err := requireStrings(input, "question", "context"); err != nil {
		return err
	}
	_, err := lengthOf(input)
	return err
}

func (a QAAgent) Process(ctx context.Context, gen Generator, input map[string]any) (*Result, error) {
	if err := a.Validate(input); err != nil {
		return nil, err
	}
	length, _ := lengthOf(input)
	return complete(ctx, gen, Task{
		Agent:        QA,
		Input:        input,
		SystemPrompt: qaSystem,
		Prompt: fmt.Sprintf("Context:\n%s\n\nQuestion: %s",
			clip(str(input, "context")), str(input, "question")),
		MaxTokens:   qaBudgets.get(length),
		Temperature: 0.2,
	}, qaContract)
}
