package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/DocFox/internal/pkg/webhook"
)

// WebhookIngestor verifies and processes one delivery.
type WebhookIngestor interface {
	Ingest(ctx context.Context, req webhook.Request) webhook.Result
}

type WebhookController struct {
	ingest  WebhookIngestor
	observe func(outcome string)
}

// NewWebhookController wires the ingestor; observe, if set, sees the
// outcome of every delivery.
func NewWebhookController(ingest WebhookIngestor, observe func(outcome string)) *WebhookController {
	if observe == nil {
		observe = func(string) {}
	}
	return &WebhookController{ingest: ingest, observe: observe}
}

// HandleGitHub receives push deliveries. The raw body is what the signature
// covers, so it is read before any parsing.
func (wc *WebhookController) HandleGitHub(c *fiber.Ctx) error {
	res := wc.ingest.Ingest(c.UserContext(), webhook.Request{
		Body:       append([]byte(nil), c.Body()...),
		Signature:  c.Get("X-Hub-Signature-256"),
		DeliveryID: c.Get("X-GitHub-Delivery"),
		Event:      c.Get("X-GitHub-Event"),
	})
	wc.observe(res.Outcome)

	if res.Status != fiber.StatusOK {
		return errorJSON(c, res.Status, res.Message)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}
