package shared

const (
	TelegramID = "telegram_id"

	QuestTypeFollow    = "follow"
	QuestTypeMilestone = "milestone"
	QuestTypeCpa       = "cpa"

	QuestStatusInitial      = "initial"
	QuestStatusVisited      = "visited"
	QuestStatusReadyToClaim = "ready_to_claim"
	QuestStatusCompleted    = "completed"

	CounterVideosWatched = "videos_watched"

	RewardKeyQuestPrefix = "quest:"
	RewardKeyVideoPrefix = "video:"
)
