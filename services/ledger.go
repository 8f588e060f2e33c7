package services

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/adwatch/rewards_api/dto"
	"github.com/adwatch/rewards_api/model"
)

// LedgerService owns the only mutable balance/counters on this side of the
// wire. Everything else holds a read capability; the single write path is
// ApplyConfirmedReward, fed exclusively by server-confirmed deltas.
type LedgerService struct {
	appContext.DefaultService

	sqlSvc *SqliteService
	remote RemoteLedger

	mu    sync.RWMutex
	users map[int64]*userLedger
}

type userLedger struct {
	balance  float64
	counters map[string]int64
	degraded bool
}

const LEDGER_SVC = "ledger_svc"

func (svc LedgerService) Id() string {
	return LEDGER_SVC
}

func (svc *LedgerService) Configure(ctx *appContext.Context) error {
	svc.users = make(map[int64]*userLedger)
	return svc.DefaultService.Configure(ctx)
}

func (svc *LedgerService) Start() error {
	svc.sqlSvc = svc.Service(SQLITE_SVC).(*SqliteService)
	svc.remote = svc.Service(REMOTE_LEDGER_SVC).(*RemoteLedgerService)
	return nil
}

// SetRemote overrides the remote collaborator, used by tests.
func (svc *LedgerService) SetRemote(remote RemoteLedger) {
	svc.remote = remote
}

// Load hydrates the ledger from the authoritative remote state. A failed
// fetch is a soft failure: the last persisted snapshot is served instead and
// the session continues in degraded mode.
func (svc *LedgerService) Load(ctx context.Context, telegramID int64) error {
	state, err := svc.remote.UserState(ctx, telegramID)
	if err != nil {
		log.WithFields(log.Fields{
			"telegram_id": telegramID,
			"error":       err.Error(),
		}).Warn("Remote ledger unreachable, falling back to local snapshot")
		return svc.loadSnapshot(telegramID)
	}

	counters := state.Counters
	if counters == nil {
		counters = map[string]int64{}
	}

	svc.mu.Lock()
	svc.users[telegramID] = &userLedger{
		balance:  state.Balance,
		counters: copyCounters(counters),
	}
	svc.mu.Unlock()

	svc.persistSnapshot(telegramID)
	return nil
}

func (svc *LedgerService) loadSnapshot(telegramID int64) error {
	entry := &userLedger{counters: map[string]int64{}, degraded: true}

	snapshot, err := svc.sqlSvc.GetLedgerSnapshot(telegramID)
	if err == nil {
		entry.balance = snapshot.Balance
		if len(snapshot.Counters) > 0 {
			if err := json.Unmarshal(snapshot.Counters, &entry.counters); err != nil {
				log.WithField("telegram_id", telegramID).Warn("Corrupt counter snapshot, resetting")
				entry.counters = map[string]int64{}
			}
		}
	}

	svc.mu.Lock()
	svc.users[telegramID] = entry
	svc.mu.Unlock()
	return nil
}

// ensure returns the in-memory ledger for the user, hydrating it first if
// this is the first touch of the session.
func (svc *LedgerService) ensure(ctx context.Context, telegramID int64) *userLedger {
	svc.mu.RLock()
	entry, ok := svc.users[telegramID]
	svc.mu.RUnlock()
	if ok {
		return entry
	}

	_ = svc.Load(ctx, telegramID)

	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.users[telegramID]
}

func (svc *LedgerService) Balance(ctx context.Context, telegramID int64) float64 {
	entry := svc.ensure(ctx, telegramID)

	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return entry.balance
}

func (svc *LedgerService) Counter(ctx context.Context, telegramID int64, name string) int64 {
	entry := svc.ensure(ctx, telegramID)

	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return entry.counters[name]
}

func (svc *LedgerService) Wallet(ctx context.Context, telegramID int64) *dto.WalletResponse {
	entry := svc.ensure(ctx, telegramID)

	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return &dto.WalletResponse{
		Balance:  entry.balance,
		Counters: copyCounters(entry.counters),
		Degraded: entry.degraded,
	}
}

// ApplyConfirmedReward applies a server-confirmed delta. rewardKey is the
// natural idempotency key (quest id / video id); a key that was already
// applied is a no-op. counterValues carry server-confirmed absolute counter
// values. Malformed or negative amounts are dropped, not errored: the server
// already granted the reward, the caller has nothing to retry.
//
// The snapshot write is synchronous: once this returns true the reward
// survives a crash or reload.
func (svc *LedgerService) ApplyConfirmedReward(ctx context.Context, telegramID int64, rewardKey string, amount float64, counterValues map[string]int64) (bool, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		log.WithFields(log.Fields{
			"telegram_id": telegramID,
			"reward_key":  rewardKey,
			"amount":      amount,
		}).Warn("Dropping malformed reward amount")
		return false, nil
	}
	if amount == 0 && len(counterValues) == 0 {
		return false, nil
	}

	entry := svc.ensure(ctx, telegramID)

	svc.mu.Lock()
	defer svc.mu.Unlock()

	newBalance := entry.balance + amount
	newCounters := copyCounters(entry.counters)
	for name, value := range counterValues {
		newCounters[name] = value
	}

	raw, err := json.Marshal(newCounters)
	if err != nil {
		return false, err
	}

	applied, err := svc.sqlSvc.ApplyReward(
		&model.AppliedReward{TelegramID: telegramID, RewardKey: rewardKey, Amount: amount},
		&model.LedgerSnapshot{TelegramID: telegramID, Balance: newBalance, Counters: raw, UpdatedAt: time.Now()},
	)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	entry.balance = newBalance
	entry.counters = newCounters

	observeRewardGranted(amount)
	log.WithFields(log.Fields{
		"telegram_id": telegramID,
		"reward_key":  rewardKey,
		"amount":      amount,
		"balance":     newBalance,
	}).Info("Confirmed reward applied")
	return true, nil
}

func (svc *LedgerService) persistSnapshot(telegramID int64) {
	svc.mu.RLock()
	entry, ok := svc.users[telegramID]
	if !ok {
		svc.mu.RUnlock()
		return
	}
	raw, err := json.Marshal(entry.counters)
	balance := entry.balance
	svc.mu.RUnlock()

	if err != nil {
		return
	}

	if err := svc.sqlSvc.SaveLedgerSnapshot(&model.LedgerSnapshot{
		TelegramID: telegramID,
		Balance:    balance,
		Counters:   raw,
	}); err != nil {
		log.WithField("telegram_id", telegramID).WithError(err).Warn("Failed to persist ledger snapshot")
	}
}

func copyCounters(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
