package core

import "context"

// Generation is the text a hosted model produced plus its measured usage.
type Generation struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

type GenerateOptions struct {
	MaxTokens    int
	Temperature  float32
	JSONResponse bool
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string, opts GenerateOptions) (*Generation, error)
	Model() string
}

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// OCRResult is the outcome of a hosted text recognition call.
type OCRResult struct {
	Text         string
	Pages        int
	Model        string
	InputTokens  int
	OutputTokens int
}

type OCRProvider interface {
	RecognizeText(ctx context.Context, data []byte, mimeType string) (*OCRResult, error)
}

// Entity is one named entity found in a text, with rune offsets into it.
type Entity struct {
	Text        string  `json:"text"`
	Type        string  `json:"type"`
	BeginOffset int     `json:"begin_offset"`
	EndOffset   int     `json:"end_offset"`
	Score       float64 `json:"score"`
}

type EntityProvider interface {
	DetectEntities(ctx context.Context, text string) ([]Entity, error)
}
