package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/internal/pkg/credits"
)

const transactionLimit = 50

// CreditService is the part of the ledger the API exposes.
type CreditService interface {
	GetOrCreate(ctx context.Context, userID uint) (*models.CreditAccount, error)
	Add(ctx context.Context, userID uint, amount int64, reason string) (*credits.Result, error)
	ListTransactions(ctx context.Context, userID uint, limit int) ([]models.CreditTransaction, error)
}

type CreditsController struct {
	credits CreditService
}

func NewCreditsController(svc CreditService) *CreditsController {
	return &CreditsController{credits: svc}
}

// HandleGetCredits returns the caller's balance.
func (cc *CreditsController) HandleGetCredits(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	acc, err := cc.credits.GetOrCreate(c.UserContext(), userID)
	if err != nil {
		log.Errorf("[API] Failed to load credits of user %d: %v", userID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to fetch credits")
	}
	return c.JSON(fiber.Map{
		"balance":          acc.Balance,
		"totalUsed":        acc.TotalUsed,
		"totalAdded":       acc.TotalAdded,
		"warningThreshold": acc.WarningThreshold,
		"isBelowThreshold": acc.Balance <= acc.WarningThreshold,
		"lastResetAt":      formatTimePtr(acc.LastResetAt),
	})
}

type addCreditsRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// HandleAddCredits tops up the caller's balance.
func (cc *CreditsController) HandleAddCredits(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	var req addCreditsRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if req.Amount <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "Amount must be positive")
	}
	if req.Reason == "" {
		req.Reason = "Manual top-up"
	}

	res, err := cc.credits.Add(c.UserContext(), userID, req.Amount, req.Reason)
	if err != nil {
		log.Errorf("[API] Failed to add credits for user %d: %v", userID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to add credits")
	}
	return c.JSON(res)
}

// HandleListTransactions returns the most recent ledger entries.
func (cc *CreditsController) HandleListTransactions(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	txs, err := cc.credits.ListTransactions(c.UserContext(), userID, queryInt(c, "limit", transactionLimit, maxJobLimit))
	if err != nil {
		log.Errorf("[API] Failed to list transactions of user %d: %v", userID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to fetch transactions")
	}
	if txs == nil {
		txs = []models.CreditTransaction{}
	}
	return c.JSON(fiber.Map{"transactions": txs})
}
