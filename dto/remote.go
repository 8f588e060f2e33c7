package dto

// ==================== REMOTE LEDGER CONTRACT ====================
// Shapes consumed from the authoritative ledger/verification service.

type RemoteQuestConfig struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	Title           string  `json:"title"`
	Reward          float64 `json:"reward"`
	Link            string  `json:"link,omitempty"`
	Goal            int64   `json:"goal,omitempty"`
	ChannelUsername string  `json:"channel_username,omitempty"`
}

type RemoteQuestStatus struct {
	QuestID string `json:"quest_id"`
	Status  string `json:"status"`
}

type RemoteUserState struct {
	Status   string              `json:"status"`
	Balance  float64             `json:"balance"`
	Counters map[string]int64    `json:"counters"`
	Quests   []RemoteQuestStatus `json:"quests"`
}

type RemoteStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type RemoteVerifyResponse struct {
	IsCompleted bool    `json:"isCompleted"`
	Reward      float64 `json:"reward"`
	Message     string  `json:"message,omitempty"`
}

type RemoteCpaLinkResponse struct {
	Link  string `json:"link"`
	Error string `json:"error,omitempty"`
}

type RemoteVideo struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	VideoURL string `json:"video_url"`
}

type RemoteWatchedResponse struct {
	Status         string `json:"status"`
	VideosWatched  int64  `json:"videos_watched_count"`
	QuestCompleted bool   `json:"quest_completed"`
}
