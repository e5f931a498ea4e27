package agents

import (
	"context"
	"fmt"
	"strings"
)

const entitySystem = `You extract project entities from documents: people, teams, organizations, systems,
milestones, deliverables and dates. Respond with a single JSON object:
{"entities": [{"text": string, "type": string, "role": string}]}
Use an empty list when there are none.`

var entityBudgets = budgets{"brief": 500, "standard": 1000, "detailed": 2000}

var entityContract = contract{
	schema: mustSchema("entity", `{
		"type": "object",
		"required": ["entities"],
		"properties": {
			"entities": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["text", "type"],
					"properties": {
						"text": {"type": "string"},
						"type": {"type": "string"},
						"role": {"type": ["string", "null"]}
					}
				}
			}
		}
	}`),
	fallback: func() map[string]any {
		return map[string]any{"entities": []any{}}
	},
}

// EntityAgent finds project-level entities with their role.
// Input: text (required), entity_types, length.
type EntityAgent struct{}

func (EntityAgent) Name() Name { return Entity }

func (EntityAgent) Validate(input map[string]any) error {
	if err := requireStrings(input, "text"); err != nil {
		return err
	}
	if _, err := stringList(input, "entity_types"); err != nil {
		return err
	}
	_, err := lengthOf(input)
	return err
}

func (a EntityAgent) Process(ctx context.Context, gen Generator, input map[string]any) (*Result, error) {
	if err := a.Validate(input); err != nil {
		return nil, err
	}
	length, _ := lengthOf(input)
	types, _ := stringList(input, "entity_types")

	prompt := "Document:\n" + clip(str(input, "text"))
	if len(types) > 0 {
		prompt = fmt.Sprintf("Only report these entity types: %s\n\n%s", strings.Join(types, ", "), prompt)
	}

	return complete(ctx, gen, Task{
		Agent:        Entity,
		Input:        input,
		SystemPrompt: entitySystem,
		Prompt:       prompt,
		MaxTokens:    entityBudgets.get(length),
		Temperature:  0.1,
	}, entityContract)
}
