package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/adwatch/rewards_api/dto"
)

// RemoteLedger is the authoritative ledger/verification collaborator. Every
// write is idempotent server-side: a duplicate call for an already-completed
// quest is a no-op there, never an error.
type RemoteLedger interface {
	QuestList(ctx context.Context) ([]dto.RemoteQuestConfig, error)
	UserState(ctx context.Context, telegramID int64) (*dto.RemoteUserState, error)
	MarkVisited(ctx context.Context, telegramID int64, questID string) (*dto.RemoteStatusResponse, error)
	Verify(ctx context.Context, telegramID int64, questID string) (*dto.RemoteVerifyResponse, error)
	Claim(ctx context.Context, telegramID int64, questID string) (*dto.RemoteVerifyResponse, error)
	GenerateCpaLink(ctx context.Context, telegramID int64, questID string) (*dto.RemoteCpaLinkResponse, error)
	RandomVideo(ctx context.Context, initData string) (*dto.RemoteVideo, error)
	ReportWatched(ctx context.Context, telegramID int64, videoID int64) (*dto.RemoteWatchedResponse, error)
}

type RemoteLedgerService struct {
	appContext.DefaultService

	baseURL string
	client  *http.Client
}

const REMOTE_LEDGER_SVC = "remote_ledger_svc"

func (svc RemoteLedgerService) Id() string {
	return REMOTE_LEDGER_SVC
}

func (svc *RemoteLedgerService) Configure(ctx *appContext.Context) error {
	svc.baseURL = os.Getenv("REMOTE_LEDGER_URL")
	if svc.baseURL == "" {
		svc.baseURL = "http://localhost:8080"
	}

	timeout := 10 * time.Second
	if t := os.Getenv("REMOTE_LEDGER_TIMEOUT_SECONDS"); t != "" {
		if seconds, err := strconv.Atoi(t); err == nil && seconds > 0 {
			timeout = time.Duration(seconds) * time.Second
		}
	}

	svc.client = &http.Client{Timeout: timeout}
	return svc.DefaultService.Configure(ctx)
}

func (svc *RemoteLedgerService) Start() error {
	log.WithField("base_url", svc.baseURL).Info("Remote ledger client configured")
	return nil
}

func (svc *RemoteLedgerService) QuestList(ctx context.Context) ([]dto.RemoteQuestConfig, error) {
	var quests []dto.RemoteQuestConfig
	if err := svc.get(ctx, "/api/quest/get_list", nil, &quests); err != nil {
		return nil, err
	}
	return quests, nil
}

func (svc *RemoteLedgerService) UserState(ctx context.Context, telegramID int64) (*dto.RemoteUserState, error) {
	query := url.Values{}
	query.Set("telegram_id", strconv.FormatInt(telegramID, 10))

	var state dto.RemoteUserState
	if err := svc.get(ctx, "/api/quest/statuses", query, &state); err != nil {
		return nil, err
	}
	if state.Status != "ok" {
		return nil, fmt.Errorf("remote ledger returned status %q", state.Status)
	}
	return &state, nil
}

func (svc *RemoteLedgerService) MarkVisited(ctx context.Context, telegramID int64, questID string) (*dto.RemoteStatusResponse, error) {
	var resp dto.RemoteStatusResponse
	err := svc.post(ctx, "/api/quest/visited", questBody(telegramID, questID), &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (svc *RemoteLedgerService) Verify(ctx context.Context, telegramID int64, questID string) (*dto.RemoteVerifyResponse, error) {
	var resp dto.RemoteVerifyResponse
	err := svc.post(ctx, "/api/quest/verify", questBody(telegramID, questID), &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (svc *RemoteLedgerService) Claim(ctx context.Context, telegramID int64, questID string) (*dto.RemoteVerifyResponse, error) {
	var resp dto.RemoteVerifyResponse
	err := svc.post(ctx, "/api/quest/complete", questBody(telegramID, questID), &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (svc *RemoteLedgerService) GenerateCpaLink(ctx context.Context, telegramID int64, questID string) (*dto.RemoteCpaLinkResponse, error) {
	var resp dto.RemoteCpaLinkResponse
	err := svc.post(ctx, "/api/quest/generate_cpa_link", questBody(telegramID, questID), &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (svc *RemoteLedgerService) RandomVideo(ctx context.Context, initData string) (*dto.RemoteVideo, error) {
	query := url.Values{}
	query.Set("initData", initData)

	var video dto.RemoteVideo
	if err := svc.get(ctx, "/api/video/random", query, &video); err != nil {
		return nil, err
	}
	return &video, nil
}

func (svc *RemoteLedgerService) ReportWatched(ctx context.Context, telegramID int64, videoID int64) (*dto.RemoteWatchedResponse, error) {
	body := map[string]interface{}{
		"telegram_id": telegramID,
		"video_id":    videoID,
	}

	var resp dto.RemoteWatchedResponse
	if err := svc.post(ctx, "/api/video/watched", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func questBody(telegramID int64, questID string) map[string]interface{} {
	return map[string]interface{}{
		"telegram_id": telegramID,
		"quest_id":    questID,
	}
}

func (svc *RemoteLedgerService) get(ctx context.Context, path string, query url.Values, dest interface{}) error {
	endpoint := svc.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	return svc.do(req, dest)
}

func (svc *RemoteLedgerService) post(ctx context.Context, path string, body interface{}, dest interface{}) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return svc.do(req, dest)
}

func (svc *RemoteLedgerService) do(req *http.Request, dest interface{}) error {
	resp, err := svc.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read remote ledger response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote ledger returned %d for %s", resp.StatusCode, req.URL.Path)
	}

	if err := sonic.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("malformed remote ledger response for %s: %w", req.URL.Path, err)
	}

	return nil
}
