package handlers

import (
	"context"

	"github.com/adwatch/rewards_api/dto"
)

type AuthServiceInterface interface {
	CreateSession(ctx context.Context, req dto.SessionRequest) (*dto.SessionResponse, error)
}

type QuestServiceInterface interface {
	List(ctx context.Context, telegramID int64) *dto.QuestListResponse
	Interact(ctx context.Context, telegramID int64, questID string) (*dto.InteractResponse, error)
}

type WatchServiceInterface interface {
	OpenSession(ctx context.Context, telegramID int64, req dto.OpenWatchSessionRequest) (*dto.OpenWatchSessionResponse, error)
	Progress(ctx context.Context, telegramID int64, sessionID string, req dto.WatchProgressRequest) (*dto.WatchProgressResponse, error)
	Close(ctx context.Context, telegramID int64, sessionID string, req dto.CloseWatchSessionRequest) (*dto.CloseWatchSessionResponse, error)
}

type LedgerServiceInterface interface {
	Load(ctx context.Context, telegramID int64) error
	Wallet(ctx context.Context, telegramID int64) *dto.WalletResponse
}
