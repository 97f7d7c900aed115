package ports

import "context"

// LanguageModel sends one instruction to a language model and returns the
// raw JSON document it produced.
type LanguageModel interface {
	CompleteJSON(ctx context.Context, system, prompt string) (string, error)
}
