package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/markdave123-py/docintel/internal/core"
)

// PageBreak separates pages in OCR output.
const PageBreak = "\f"

const ocrInstruction = `You are an OCR engine. Transcribe all readable text in the attached document exactly as written.
Preserve reading order, headings, list markers and table rows (one row per line, cells separated by " | ").
Do not summarize, translate or comment. Separate pages with a single form feed character.
If the document has no readable text, return an empty response.`

// GeminiOCR transcribes PDFs and images with a multimodal Gemini model.
type GeminiOCR struct {
	llm *GeminiLLM
}

// NewGeminiOCR shares the generation client of l.
func NewGeminiOCR(l *GeminiLLM) *GeminiOCR {
	return &GeminiOCR{llm: l}
}

func (o *GeminiOCR) RecognizeText(ctx context.Context, data []byte, mimeType string) (*core.OCRResult, error) {
	m := o.llm.client.GenerativeModel(o.llm.modelName)
	m.SetTemperature(0)

	resp, err := m.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(ocrInstruction),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini ocr: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	res := &core.OCRResult{
		Text:  strings.TrimSpace(text),
		Pages: strings.Count(text, PageBreak) + 1,
		Model: o.llm.modelName,
	}
	if resp.UsageMetadata != nil {
		res.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		res.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return res, nil
}

var _ core.OCRProvider = (*GeminiOCR)(nil)
