package dto

// ==================== AUTHENTICATION DTOs ====================

type SessionRequest struct {
	InitData string `json:"init_data" validate:"required" example:"query_id=AAH...&user=%7B%22id%22%3A12345%7D&auth_date=1700000000&hash=abc123"`
}

func (r SessionRequest) Validate() error {
	return GetValidator().Struct(r)
}

type SessionResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TelegramID  int64  `json:"telegram_id"`
}

// TelegramUser is the `user` payload carried inside Telegram WebApp initData.
type TelegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	Language  string `json:"language_code,omitempty"`
}
