package embeddings

import "strings"

// knownDimensions maps model names to their output size.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-bge-small-en-v1.5":                 384,
	"fast-bge-small-en":                      384,
	"fast-bge-base-en-v1.5":                  768,
	"fast-bge-base-en":                       768,
	"fast-bge-small-zh-v1.5":                 512,
	"fast-all-MiniLM-L6-v2":                  384,
}

// ModelDimension returns the vector size of a model. Unknown models are
// guessed from their name; ok is false for a guess.
func ModelDimension(model string) (dim int, ok bool) {
	if d, found := knownDimensions[model]; found {
		return d, true
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "large"):
		return 1024, false
	case strings.Contains(lower, "base"):
		return 768, false
	default:
		return 384, false
	}
}
