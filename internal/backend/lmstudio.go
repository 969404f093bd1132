package backend

import "context"

// lmStudioAdapter targets LM Studio's local server, which implements the
// OpenAI-compatible surface. LM Studio rejects unknown sampling fields on
// some versions, so only the widely-supported knobs are mapped; seed in
// particular is dropped.
type lmStudioAdapter struct {
	*base
}

func (a *lmStudioAdapter) Generate(ctx context.Context) (*Result, error) {
	compiled, err := a.CompilePrompt(ctx)
	if err != nil {
		return nil, err
	}

	trimmed := *a.sampling
	trimmed.SeedEnabled = false
	return openAIGenerate(a.base, ctx, compiled, &trimmed)
}
