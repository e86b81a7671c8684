package gateway

import (
	"context"
	"time"

	"github.com/sqlcrew/sqlcrew/internal/observability"
)

type instrumentedGateway struct {
	next     Gateway
	provider string
}

// Instrument records latency and outcome of every call under the provider label.
func Instrument(next Gateway, provider string) Gateway {
	return &instrumentedGateway{next: next, provider: provider}
}

func (g *instrumentedGateway) Invoke(ctx context.Context, directive, instruction string) (string, error) {
	start := time.Now()
	out, err := g.next.Invoke(ctx, directive, instruction)
	observability.ObserveGatewayCall(g.provider, Status(err), time.Since(start))
	return out, err
}
