package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/adwatch/rewards_api/dto"
	"github.com/adwatch/rewards_api/shared"
)

type VideoHandler struct {
	watchSvc WatchServiceInterface
}

func NewVideoHandler(watchSvc WatchServiceInterface) *VideoHandler {
	return &VideoHandler{watchSvc: watchSvc}
}

// @Summary Open a watch session
// @Description Fetches a random ad video and opens an anti-cheat watch session for it
// @Tags video
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "User Bearer Token" default(Bearer <user_token>)
// @Param openRequest body dto.OpenWatchSessionRequest false "Player-reported video duration"
// @Success 200 {object} shared.Response{data=dto.OpenWatchSessionResponse}
// @Router /api/v1/videos/session [post]
func (h *VideoHandler) OpenSession(c *fiber.Ctx) error {
	telegramID := c.Locals(shared.TelegramID).(int64)

	var req dto.OpenWatchSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return shared.NewBadRequestError(err, "Invalid request")
		}
		if err := req.Validate(); err != nil {
			appErr := shared.NewBadRequestError(err, "Validation failed")
			appErr.Data = dto.FormatValidationErrors(err)
			return appErr
		}
	}

	session, err := h.watchSvc.OpenSession(c.Context(), telegramID, req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", session)
}

// @Summary Report playback progress
// @Description Feeds one playback position sample through the watch gate; forward seeks are clamped back to the farthest watched point
// @Tags video
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "User Bearer Token" default(Bearer <user_token>)
// @Param id path string true "Watch session ID"
// @Param progressRequest body dto.WatchProgressRequest true "Playback position sample"
// @Success 200 {object} shared.Response{data=dto.WatchProgressResponse}
// @Router /api/v1/videos/session/{id}/progress [post]
func (h *VideoHandler) Progress(c *fiber.Ctx) error {
	telegramID := c.Locals(shared.TelegramID).(int64)

	sessionID := c.Params("id")
	if sessionID == "" {
		return shared.NewBadRequestError(errors.New("missing session id"), "Missing session id")
	}

	var req dto.WatchProgressRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := req.Validate(); err != nil {
		appErr := shared.NewBadRequestError(err, "Validation failed")
		appErr.Data = dto.FormatValidationErrors(err)
		return appErr
	}

	result, err := h.watchSvc.Progress(c.Context(), telegramID, sessionID, req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", result)
}

// @Summary Close a watch session
// @Description Dismissal is refused before the watch threshold unless force is set; a forced close abandons the session with no reward
// @Tags video
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "User Bearer Token" default(Bearer <user_token>)
// @Param id path string true "Watch session ID"
// @Param closeRequest body dto.CloseWatchSessionRequest false "Close options"
// @Success 200 {object} shared.Response{data=dto.CloseWatchSessionResponse}
// @Router /api/v1/videos/session/{id}/close [post]
func (h *VideoHandler) Close(c *fiber.Ctx) error {
	telegramID := c.Locals(shared.TelegramID).(int64)

	sessionID := c.Params("id")
	if sessionID == "" {
		return shared.NewBadRequestError(errors.New("missing session id"), "Missing session id")
	}

	var req dto.CloseWatchSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return shared.NewBadRequestError(err, "Invalid request")
		}
	}

	result, err := h.watchSvc.Close(c.Context(), telegramID, sessionID, req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", result)
}
