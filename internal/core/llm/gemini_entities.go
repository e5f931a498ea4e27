package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/docintel/internal/core"
)

const entityInstruction = `Extract named entities from the user's text.
Return ONLY a JSON array. Each element: {"text": string, "type": string, "score": number between 0 and 1}.
Allowed types: PERSON, ORGANIZATION, LOCATION, DATE, QUANTITY, EVENT, TITLE, COMMERCIAL_ITEM, OTHER.
"text" must be copied verbatim from the input. List each distinct entity once.`

var entityTypes = map[string]bool{
	"PERSON": true, "ORGANIZATION": true, "LOCATION": true, "DATE": true, "QUANTITY": true,
	"EVENT": true, "TITLE": true, "COMMERCIAL_ITEM": true, "OTHER": true,
}

// GeminiEntities detects named entities with a JSON-mode prompt.
// Offsets are resolved locally against the input, in runes.
type GeminiEntities struct {
	llm *GeminiLLM
}

func NewGeminiEntities(l *GeminiLLM) *GeminiEntities {
	return &GeminiEntities{llm: l}
}

func (e *GeminiEntities) DetectEntities(ctx context.Context, text string) ([]core.Entity, error) {
	gen, err := e.llm.Generate(ctx, entityInstruction, text, core.GenerateOptions{
		MaxTokens:    2048,
		Temperature:  0,
		JSONResponse: true,
	})
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Text  string  `json:"text"`
		Type  string  `json:"type"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(gen.Text)), &raw); err != nil {
		return nil, fmt.Errorf("%w: entities: %v", core.ErrParse, err)
	}

	out := make([]core.Entity, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		typ := strings.ToUpper(r.Type)
		if !entityTypes[typ] {
			typ = "OTHER"
		}
		ent := core.Entity{Text: r.Text, Type: typ, Score: r.Score, BeginOffset: -1, EndOffset: -1}
		if i := strings.Index(text, r.Text); i >= 0 {
			ent.BeginOffset = utf8.RuneCountInString(text[:i])
			ent.EndOffset = ent.BeginOffset + utf8.RuneCountInString(r.Text)
		}
		out = append(out, ent)
	}
	return out, nil
}

var _ core.EntityProvider = (*GeminiEntities)(nil)
