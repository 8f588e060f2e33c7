package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/adwatch/rewards_api/dto"
	"github.com/adwatch/rewards_api/shared"
)

type AuthHandler struct {
	authSvc AuthServiceInterface
}

func NewAuthHandler(authSvc AuthServiceInterface) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// @Summary Create miniapp session
// @Description Validates Telegram WebApp initData and returns a session JWT
// @Tags auth
// @Accept json
// @Produce json
// @Param sessionRequest body dto.SessionRequest true "Telegram initData"
// @Success 200 {object} shared.Response{data=dto.SessionResponse}
// @Router /api/v1/auth/session [post]
func (h *AuthHandler) CreateSession(c *fiber.Ctx) error {
	var req dto.SessionRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := req.Validate(); err != nil {
		appErr := shared.NewBadRequestError(err, "Validation failed")
		appErr.Data = dto.FormatValidationErrors(err)
		return appErr
	}

	session, err := h.authSvc.CreateSession(c.Context(), req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", session)
}
