package services

import (
	"context"
	"errors"
	"strconv"
	"sync"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/adwatch/rewards_api/dto"
)

// OutcomeStatus is the only failure surface callers ever see. Transport
// errors never escape this service.
type OutcomeStatus int

const (
	// OutcomeOK: the server confirmed the operation.
	OutcomeOK OutcomeStatus = iota
	// OutcomeRejected: the server answered but declined (isCompleted=false).
	// A normal state-machine transition, not an error.
	OutcomeRejected
	// OutcomeFailed: transport failure, non-2xx or malformed body. The
	// caller must assume no state change occurred.
	OutcomeFailed
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeOK:
		return "ok"
	case OutcomeRejected:
		return "rejected"
	default:
		return "failed"
	}
}

type Outcome struct {
	Status  OutcomeStatus
	Reward  float64
	Message string
}

// ErrOpInFlight is returned when an operation for the same quest/video key
// is already awaiting the remote ledger.
var ErrOpInFlight = errors.New("operation already in flight for this key")

// opKey scopes the single-flight key per user: quests and videos are
// per-user projections, so two users acting on the same quest id must not
// serialize on each other.
func opKey(op string, telegramID int64, id string) string {
	return op + ":" + strconv.FormatInt(telegramID, 10) + ":" + id
}

type SyncService struct {
	appContext.DefaultService

	remote RemoteLedger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

const SYNC_SVC = "sync_svc"

func (svc SyncService) Id() string {
	return SYNC_SVC
}

func (svc *SyncService) Configure(ctx *appContext.Context) error {
	svc.inFlight = make(map[string]struct{})
	return svc.DefaultService.Configure(ctx)
}

func (svc *SyncService) Start() error {
	svc.remote = svc.Service(REMOTE_LEDGER_SVC).(*RemoteLedgerService)
	return nil
}

// SetRemote overrides the remote collaborator, used by tests.
func (svc *SyncService) SetRemote(remote RemoteLedger) {
	svc.remote = remote
}

func (svc *SyncService) acquire(key string) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if _, busy := svc.inFlight[key]; busy {
		return false
	}
	svc.inFlight[key] = struct{}{}
	return true
}

func (svc *SyncService) release(key string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	delete(svc.inFlight, key)
}

// MarkVisited records the first stage of a follow quest. There is no
// logical-rejection branch: the server either confirms or the call failed.
func (svc *SyncService) MarkVisited(ctx context.Context, telegramID int64, questID string) (Outcome, error) {
	key := opKey("visit", telegramID, questID)
	if !svc.acquire(key) {
		return Outcome{Status: OutcomeFailed}, ErrOpInFlight
	}
	defer svc.release(key)

	resp, err := svc.remote.MarkVisited(ctx, telegramID, questID)
	if err != nil {
		return svc.failed("mark_visited", questID, err), nil
	}

	if resp.Status != "ok" {
		observeRemoteCall("mark_visited", OutcomeRejected)
		return Outcome{Status: OutcomeRejected, Message: resp.Error}, nil
	}

	observeRemoteCall("mark_visited", OutcomeOK)
	return Outcome{Status: OutcomeOK}, nil
}

// Verify asks the server to confirm a follow quest's external action.
func (svc *SyncService) Verify(ctx context.Context, telegramID int64, questID string) (Outcome, error) {
	key := opKey("verify", telegramID, questID)
	if !svc.acquire(key) {
		return Outcome{Status: OutcomeFailed}, ErrOpInFlight
	}
	defer svc.release(key)

	resp, err := svc.remote.Verify(ctx, telegramID, questID)
	if err != nil {
		return svc.failed("verify", questID, err), nil
	}

	if !resp.IsCompleted {
		observeRemoteCall("verify", OutcomeRejected)
		return Outcome{Status: OutcomeRejected, Message: resp.Message}, nil
	}

	observeRemoteCall("verify", OutcomeOK)
	return Outcome{Status: OutcomeOK, Reward: resp.Reward, Message: resp.Message}, nil
}

// Claim collects a milestone quest's reward.
func (svc *SyncService) Claim(ctx context.Context, telegramID int64, questID string) (Outcome, error) {
	key := opKey("claim", telegramID, questID)
	if !svc.acquire(key) {
		return Outcome{Status: OutcomeFailed}, ErrOpInFlight
	}
	defer svc.release(key)

	resp, err := svc.remote.Claim(ctx, telegramID, questID)
	if err != nil {
		return svc.failed("claim", questID, err), nil
	}

	if !resp.IsCompleted {
		observeRemoteCall("claim", OutcomeRejected)
		return Outcome{Status: OutcomeRejected, Message: resp.Message}, nil
	}

	observeRemoteCall("claim", OutcomeOK)
	return Outcome{Status: OutcomeOK, Reward: resp.Reward, Message: resp.Message}, nil
}

// GenerateCpaLink fetches a tracking link for a CPA offer.
func (svc *SyncService) GenerateCpaLink(ctx context.Context, telegramID int64, questID string) (Outcome, string, error) {
	key := opKey("cpa", telegramID, questID)
	if !svc.acquire(key) {
		return Outcome{Status: OutcomeFailed}, "", ErrOpInFlight
	}
	defer svc.release(key)

	resp, err := svc.remote.GenerateCpaLink(ctx, telegramID, questID)
	if err != nil {
		return svc.failed("generate_cpa_link", questID, err), "", nil
	}

	if resp.Link == "" {
		observeRemoteCall("generate_cpa_link", OutcomeRejected)
		return Outcome{Status: OutcomeRejected, Message: resp.Error}, "", nil
	}

	observeRemoteCall("generate_cpa_link", OutcomeOK)
	return Outcome{Status: OutcomeOK}, resp.Link, nil
}

// ReportVideoWatched is the watch-gate reward path.
func (svc *SyncService) ReportVideoWatched(ctx context.Context, telegramID int64, videoID int64) (Outcome, *dto.RemoteWatchedResponse, error) {
	key := opKey("watched", telegramID, strconv.FormatInt(videoID, 10))
	if !svc.acquire(key) {
		return Outcome{Status: OutcomeFailed}, nil, ErrOpInFlight
	}
	defer svc.release(key)

	resp, err := svc.remote.ReportWatched(ctx, telegramID, videoID)
	if err != nil {
		return svc.failed("report_watched", strconv.FormatInt(videoID, 10), err), nil, nil
	}

	if resp.Status != "ok" {
		observeRemoteCall("report_watched", OutcomeRejected)
		return Outcome{Status: OutcomeRejected}, nil, nil
	}

	observeRemoteCall("report_watched", OutcomeOK)
	return Outcome{Status: OutcomeOK}, resp, nil
}

func (svc *SyncService) failed(op, key string, err error) Outcome {
	log.WithFields(log.Fields{
		"op":    op,
		"key":   key,
		"error": err.Error(),
	}).Warn("Remote ledger call failed")

	observeRemoteCall(op, OutcomeFailed)
	return Outcome{Status: OutcomeFailed, Message: "network error, try again"}
}
