package docgen

import (
	"context"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/internal/pkg/completion"
)

type Generator struct {
	client completion.Client
	model  string
}

func NewGenerator(client completion.Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

// Generate asks the model for patches. A malformed answer returns
// completion.ErrUnparseable or ErrInvalidOutput; both are worth a retry.
func (g *Generator) Generate(ctx context.Context, msgs []completion.Message) (*Output, error) {
	raw, err := g.client.GenerateCompletion(ctx, msgs, g.model)
	if err != nil {
		return nil, err
	}
	out, err := ParseOutput(raw)
	if err != nil {
		log.Warnf("[DocGen] Rejected model output: %v", err)
		return nil, err
	}
	return out, nil
}
