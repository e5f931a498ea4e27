package agents

import (
	"context"
	"fmt"
)

const summarySystem = `You are a senior project-management analyst. Summarize the document for the stated audience.
Respond with a single JSON object:
{"executive_summary": string, "key_points": [string]}
Do not add commentary outside the JSON.`

var summaryBudgets = budgets{"brief": 300, "standard": 600, "detailed": 1200}

var audiences = map[string]int{"executive": 0, "team": 0, "technical": 0}

var summaryContract = contract{
	schema: mustSchema("summary", `{
		"type": "object",
		"required": ["executive_summary", "key_points"],
		"properties": {
			"executive_summary": {"type": "string"},
			"key_points": {"type": "array", "items": {"type": "string"}}
		}
	}`),
	fallback: func() map[string]any {
		return map[string]any{"executive_summary": "", "key_points": []any{}}
	},
}

// SummaryAgent writes an executive summary with key points.
// Input: text (required), length, audience.
type SummaryAgent struct{}

func (SummaryAgent) Name() Name { return Summary }

func (SummaryAgent) Validate(input map[string]any) error {
	if err := requireStrings(input, "text"); err != nil {
		return err
	}
	if _, err := lengthOf(input); err != nil {
		return err
	}
	_, err := option(input, "audience", "executive", audiences)
	return err
}

func (a SummaryAgent) Process(ctx context.Context, gen Generator, input map[string]any) (*Result, error) {
	if err := a.Validate(input); err != nil {
		return nil, err
	}
	length, _ := lengthOf(input)
	audience, _ := option(input, "audience", "executive", audiences)

	budget := summaryBudgets.get(length)
	if audience == "technical" {
		budget += budget / 4
	}

	return complete(ctx, gen, Task{
		Agent:        Summary,
		Input:        input,
		SystemPrompt: summarySystem,
		Prompt: fmt.Sprintf("Audience: %s\nLength: %s\n\nDocument:\n%s",
			audience, length, clip(str(input, "text"))),
		MaxTokens:   budget,
		Temperature: 0.3,
	}, summaryContract)
}
