package agents

import (
	"context"
	"fmt"
)

var analysisTypes = map[string]int{"risks": 0, "dependencies": 0, "timeline": 0, "general": 0}

var analysisBudgets = budgets{"brief": 700, "standard": 1400, "detailed": 2500}

const riskSystem = `You are a project risk analyst. Identify risks stated or implied in the document.
Respond with a single JSON object:
{"risks": [{"description": string, "severity": "high"|"medium"|"low",
"likelihood": "high"|"medium"|"low", "mitigation": string}]}
Use an empty list when there are none.`

const findingsSystem = `You are a project analyst. Analyze the document for %s.
Respond with a single JSON object:
{"summary": string, "findings": [string]}`

var riskContract = contract{
	schema: mustSchema("analysis_risks", `{
		"type": "object",
		"required": ["risks"],
		"properties": {
			"risks": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["description"],
					"properties": {
						"description": {"type": "string"},
						"severity": {"type": ["string", "null"]},
						"likelihood": {"type": ["string", "null"]},
						"mitigation": {"type": ["string", "null"]}
					}
				}
			}
		}
	}`),
	fallback: func() map[string]any {
		return map[string]any{"risks": []any{}}
	},
}

var findingsContract = contract{
	schema: mustSchema("analysis_findings", `{
		"type": "object",
		"required": ["summary", "findings"],
		"properties": {
			"summary": {"type": "string"},
			"findings": {"type": "array", "items": {"type": "string"}}
		}
	}`),
	fallback: func() map[string]any {
		return map[string]any{"summary": "", "findings": []any{}}
	},
}

// AnalysisAgent runs a typed analysis over a document.
// Input: text (required), analysis_type (required: risks, dependencies, timeline, general), length.
type AnalysisAgent struct{}

func (AnalysisAgent) Name() Name { return Analysis }

func (AnalysisAgent) Validate(input map[string]any) error {
	if err := requireStrings(input, "text", "analysis_type"); err != nil {
		return err
	}
	if _, err := option(input, "analysis_type", "", analysisTypes); err != nil {
		return err
	}
	_, err := lengthOf(input)
	return err
}

func (a AnalysisAgent) Process(ctx context.Context, gen Generator, input map[string]any) (*Result, error) {
	if err := a.Validate(input); err != nil {
		return nil, err
	}
	kind, _ := option(input, "analysis_type", "", analysisTypes)
	length, _ := lengthOf(input)

	system, c := riskSystem, riskContract
	if kind != "risks" {
		system, c = fmt.Sprintf(findingsSystem, kind), findingsContract
	}

	return complete(ctx, gen, Task{
		Agent:        Analysis,
		Input:        input,
		SystemPrompt: system,
		Prompt:       "Document:\n" + clip(str(input, "text")),
		MaxTokens:    analysisBudgets.get(length),
		Temperature:  0.3,
	}, c)
}
