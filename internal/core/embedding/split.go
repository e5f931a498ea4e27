package embedding

import (
	"fmt"
	"strings"
)

// Chunk is one token-bounded slice of a text.
type Chunk struct {
	Position int    `json:"position"`
	Text     string `json:"text"`
	Tokens   int    `json:"tokens"`
}

// ApproxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func ApproxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// SplitText groups the lines of text into chunks of at most maxTokens,
// seeding each chunk with up to overlapTokens from the tail of the previous one.
// Lines longer than the limit are cut into pieces that fit.
func SplitText(text string, maxTokens, overlapTokens int) []Chunk {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxChunkTokens
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		overlapTokens = 0
	}
	limit := maxTokens * 4

	var (
		out   []Chunk
		buf   []string
		runes int // of strings.Join(buf, "\n")
		fresh int // lines added since the last flush
	)

	flush := func() {
		if fresh == 0 {
			buf, runes = buf[:0], 0
			return
		}
		t := strings.Join(buf, "\n")
		out = append(out, Chunk{Position: len(out), Text: t, Tokens: ApproxTokens(t)})

		var keep []string
		kept, remain := 0, overlapTokens*4
		for j := len(buf) - 1; j >= 0; j-- {
			n := len([]rune(buf[j]))
			if n > remain {
				break
			}
			keep = append([]string{buf[j]}, keep...)
			remain -= n + 1
			kept += n
		}
		buf, fresh = keep, 0
		runes = kept
		if len(keep) > 1 {
			runes += len(keep) - 1
		}
	}

	for _, frag := range fragments(text, limit) {
		n := len([]rune(frag))
		next := n
		if len(buf) > 0 {
			next = runes + 1 + n
		}
		if next > limit {
			flush()
			next = n
			if len(buf) > 0 {
				next = runes + 1 + n
			}
			if next > limit {
				buf, runes = buf[:0], 0
				next = n
			}
		}
		buf = append(buf, frag)
		runes = next
		fresh++
	}
	flush()
	return out
}

// fragments yields the non-empty trimmed lines of text, cutting any line over limit runes.
func fragments(text string, limit int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r := []rune(line)
		for len(r) > limit {
			cut := limit
			if i := lastSpace(r[:limit]); i > limit/2 {
				cut = i
			}
			out = append(out, strings.TrimSpace(string(r[:cut])))
			r = []rune(strings.TrimSpace(string(r[cut:])))
		}
		if len(r) > 0 {
			out = append(out, string(r))
		}
	}
	return out
}

func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == ' ' || r[i] == '\t' {
			return i
		}
	}
	return -1
}

// Mean is the unweighted arithmetic mean of equally sized vectors.
func Mean(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("mean of zero vectors")
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
		for j, x := range v {
			sum[j] += float64(x)
		}
	}
	out := make([]float32, dim)
	for j := range sum {
		out[j] = float32(sum[j] / float64(len(vectors)))
	}
	return out, nil
}
