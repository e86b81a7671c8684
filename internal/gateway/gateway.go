// Package gateway sends a role directive and an instruction to a language model and
// returns the generated text.
package gateway

import "context"

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Gateway is a blocking text-completion call. Implementations must be safe for
// concurrent use by separate runs.
type Gateway interface {
	Invoke(ctx context.Context, directive, instruction string) (string, error)
}

// Func adapts a plain function to Gateway.
type Func func(ctx context.Context, directive, instruction string) (string, error)

func (f Func) Invoke(ctx context.Context, directive, instruction string) (string, error) {
	return f(ctx, directive, instruction)
}
