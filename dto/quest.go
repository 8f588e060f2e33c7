package dto

// ==================== QUEST DTOs ====================

type QuestCardResponse struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	Reward    float64 `json:"reward"`
	State     string  `json:"state"`
	Completed bool    `json:"completed"`

	// Milestone progress, present for milestone quests only.
	CurrentCount  int64 `json:"current_count,omitempty"`
	RequiredCount int64 `json:"required_count,omitempty"`
}

type QuestListResponse struct {
	Quests []QuestCardResponse `json:"quests"`
}

// InteractResponse tells the miniapp what happened and what to do next.
// Action is one of: none, open_link, reward.
type InteractResponse struct {
	QuestID   string  `json:"quest_id"`
	State     string  `json:"state"`
	Completed bool    `json:"completed"`
	Action    string  `json:"action"`
	Link      string  `json:"link,omitempty"`
	Reward    float64 `json:"reward,omitempty"`
	Balance   float64 `json:"balance"`
	Message   string  `json:"message,omitempty"`
}
