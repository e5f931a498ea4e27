package agents

import "context"

const actionItemSystem = `You extract action items from project documents.
Respond with a single JSON object:
{"action_items": [{"description": string, "owner": string|null, "due_date": string|null,
"priority": "high"|"medium"|"low", "status": "open"|"in_progress"|"done"}]}
Only include tasks someone has to do. Use an empty list when there are none.`

var actionItemBudgets = budgets{"brief": 800, "standard": 1500, "detailed": 2500}

var actionItemContract = contract{
	schema: mustSchema("action_item", `{
		"type": "object",
		"required": ["action_items"],
		"properties": {
			"action_items": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["description"],
					"properties": {
						"description": {"type": "string"},
						"owner": {"type": ["string", "null"]},
						"due_date": {"type": ["string", "null"]},
						"priority": {"type": ["string", "null"]},
						"status": {"type": ["string", "null"]}
					}
				}
			}
		}
	}`),
	fallback: func() map[string]any {
		return map[string]any{"action_items": []any{}}
	},
}

// ActionItemAgent lists tasks with owner, due date and priority.
// Input: text (required), length.
type ActionItemAgent struct{}

func (ActionItemAgent) Name() Name { return ActionItem }

func (ActionItemAgent) Validate(input map[string]any) error {
	if err := requireStrings(input, "text"); err != nil {
		return err
	}
	_, err := lengthOf(input)
	return err
}

func (a ActionItemAgent) Process(ctx context.Context, gen Generator, input map[string]any) (*Result, error) {
	if err := a.Validate(input); err != nil {
		return nil, err
	}
	length, _ := lengthOf(input)
	return complete(ctx, gen, Task{
		Agent:        ActionItem,
		Input:        input,
		SystemPrompt: actionItemSystem,
		Prompt:       "Document:\n" + clip(str(input, "text")),
		MaxTokens:    actionItemBudgets.get(length),
		Temperature:  0.2,
	}, actionItemContract)
}
