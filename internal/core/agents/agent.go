// Package agents maps task names to single-purpose prompt agents and guards each
// one with a rate limiter and a circuit breaker.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/core/gateway"
)

// Name identifies one agent variant.
type Name string

const (
	Summary    Name = "summary"
	Entity     Name = "entity"
	ActionItem Name = "action_item"
	QA         Name = "qa"
	Analysis   Name = "analysis"
)

// Names lists every agent in a stable order.
var Names = []Name{Summary, Entity, ActionItem, QA, Analysis}

// Generator is the slice of the AI gateway the agents need.
type Generator interface {
	GenerateText(ctx context.Context, prompt, systemPrompt string, maxTokens int, temperature float32) (*gateway.TextResult, error)
}

// Task is one prepared model call.
type Task struct {
	Agent        Name
	Input        map[string]any
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float32
}

// Result is what an agent returns. When the model output could not be decoded,
// Output holds the agent's fallback structure, Parsed is false and RawText keeps the model text.
type Result struct {
	Agent   Name           `json:"agent"`
	Output  map[string]any `json:"output"`
	Cost    float64        `json:"cost"`
	Model   string         `json:"model,omitempty"`
	RawText string         `json:"raw_text,omitempty"`
	Parsed  bool           `json:"parsed"`
}

// Decode re-marshals Output into v.
func (r *Result) Decode(v any) error {
	raw, err := json.Marshal(r.Output)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Agent is the capability every variant implements.
type Agent interface {
	Name() Name
	// Validate checks required input before anything leaves the process.
	Validate(input map[string]any) error
	Process(ctx context.Context, gen Generator, input map[string]any) (*Result, error)
}

// contract is how a variant's model output is checked and degraded.
type contract struct {
	schema   *jsonschema.Schema
	fallback func() map[string]any
}

func mustSchema(name, src string) *jsonschema.Schema {
	return jsonschema.MustCompileString(name+".json", src)
}

// complete runs the task and decodes the reply under c. Malformed output never errors.
func complete(ctx context.Context, gen Generator, task Task, c contract) (*Result, error) {
	out, err := gen.GenerateText(ctx, task.Prompt, task.SystemPrompt, task.MaxTokens, task.Temperature)
	if err != nil {
		return nil, err
	}

	res := &Result{Agent: task.Agent, Cost: out.Cost, Model: out.Model, Parsed: true}
	obj, err := DecodeObject(out.Text)
	if err == nil {
		err = conform(obj, c)
	}
	if err != nil {
		res.Output = c.fallback()
		res.RawText = out.Text
		res.Parsed = false
		return res, nil
	}
	res.Output = obj
	return res, nil
}

// conform fills fields missing from obj with fallback values and validates the result.
func conform(obj map[string]any, c contract) error {
	if err := c.schema.Validate(obj); err == nil {
		return nil
	}
	for k, v := range c.fallback() {
		if _, ok := obj[k]; !ok {
			obj[k] = v
		}
	}
	if err := c.schema.Validate(normalizeJSON(obj)); err != nil {
		return fmt.Errorf("%w: %v", core.ErrParse, err)
	}
	return nil
}

// normalizeJSON round-trips v so fallback values use the same types as decoded JSON.
func normalizeJSON(v map[string]any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// DecodeObject pulls the outermost JSON object out of free model text,
// tolerating markdown code fences and chatter around it.
func DecodeObject(text string) (map[string]any, error) {
	s := StripFences(text)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found", core.ErrParse)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
	}
	return obj, nil
}

// StripFences removes a leading ```lang line and a trailing ``` marker.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
