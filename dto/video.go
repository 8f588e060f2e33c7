package dto

// ==================== WATCH SESSION DTOs ====================

type OpenWatchSessionRequest struct {
	Duration float64 `json:"duration" validate:"omitempty,gt=0" example:"30"`
}

func (r OpenWatchSessionRequest) Validate() error {
	return GetValidator().Struct(r)
}

type OpenWatchSessionResponse struct {
	SessionID    string  `json:"session_id"`
	VideoID      int64   `json:"video_id"`
	VideoURL     string  `json:"video_url"`
	Title        string  `json:"title,omitempty"`
	RequiredTime float64 `json:"required_time"`
}

type WatchProgressRequest struct {
	Position float64 `json:"position" validate:"gte=0" example:"12.4"`
	Ended    bool    `json:"ended,omitempty"`
}

func (r WatchProgressRequest) Validate() error {
	return GetValidator().Struct(r)
}

type WatchProgressResponse struct {
	State        string  `json:"state"`
	FarthestTime float64 `json:"farthest_time"`
	// Clamped means the reported position was a forward seek; the player
	// must snap back to SnapbackTime.
	Clamped      bool    `json:"clamped"`
	SnapbackTime float64 `json:"snapback_time,omitempty"`
	CanClose     bool    `json:"can_close"`
}

type CloseWatchSessionRequest struct {
	Force bool `json:"force,omitempty"`
}

type CloseWatchSessionResponse struct {
	Closed  bool   `json:"closed"`
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}
