package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/adwatch/rewards_api/shared"
)

type QuestHandler struct {
	questSvc QuestServiceInterface
}

func NewQuestHandler(questSvc QuestServiceInterface) *QuestHandler {
	return &QuestHandler{questSvc: questSvc}
}

// @Summary List quests
// @Description Quest cards for the authenticated user, assembled from the quest catalog, per-user statuses and ledger counters
// @Tags quest
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "User Bearer Token" default(Bearer <user_token>)
// @Success 200 {object} shared.Response{data=dto.QuestListResponse}
// @Router /api/v1/quests [get]
func (h *QuestHandler) ListQuests(c *fiber.Ctx) error {
	telegramID := c.Locals(shared.TelegramID).(int64)

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", h.questSvc.List(c.Context(), telegramID))
}

// @Summary Interact with a quest
// @Description Drives one quest state transition: mark-visited, verify, claim or CPA link generation depending on the quest variant and its current state
// @Tags quest
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "User Bearer Token" default(Bearer <user_token>)
// @Param id path string true "Quest ID"
// @Success 200 {object} shared.Response{data=dto.InteractResponse}
// @Router /api/v1/quests/{id}/interact [post]
func (h *QuestHandler) Interact(c *fiber.Ctx) error {
	telegramID := c.Locals(shared.TelegramID).(int64)

	questID := c.Params("id")
	if questID == "" {
		return shared.NewBadRequestError(errors.New("missing quest id"), "Missing quest id")
	}

	result, err := h.questSvc.Interact(c.Context(), telegramID, questID)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", result)
}
