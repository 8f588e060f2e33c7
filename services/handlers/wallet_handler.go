package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/adwatch/rewards_api/shared"
)

type WalletHandler struct {
	ledgerSvc LedgerServiceInterface
}

func NewWalletHandler(ledgerSvc LedgerServiceInterface) *WalletHandler {
	return &WalletHandler{ledgerSvc: ledgerSvc}
}

// @Summary Get wallet
// @Description Balance and counters for the authenticated user; served from the local snapshot in degraded mode when the remote ledger is unreachable
// @Tags wallet
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "User Bearer Token" default(Bearer <user_token>)
// @Success 200 {object} shared.Response{data=dto.WalletResponse}
// @Router /api/v1/wallet [get]
func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	telegramID := c.Locals(shared.TelegramID).(int64)

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", h.ledgerSvc.Wallet(c.Context(), telegramID))
}

// @Summary Refresh wallet
// @Description Re-hydrates the local ledger from the authoritative remote ledger
// @Tags wallet
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "User Bearer Token" default(Bearer <user_token>)
// @Success 200 {object} shared.Response{data=dto.WalletResponse}
// @Router /api/v1/wallet/refresh [post]
func (h *WalletHandler) RefreshWallet(c *fiber.Ctx) error {
	telegramID := c.Locals(shared.TelegramID).(int64)

	if err := h.ledgerSvc.Load(c.Context(), telegramID); err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", h.ledgerSvc.Wallet(c.Context(), telegramID))
}
