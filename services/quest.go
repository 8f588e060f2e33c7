package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/adwatch/rewards_api/dto"
	"github.com/adwatch/rewards_api/shared"
)

// ErrInteractionInFlight is returned when a second interaction arrives for a
// quest whose previous interaction has not resolved yet.
var ErrInteractionInFlight = errors.New("quest interaction already in flight")

// QuestDeps are the collaborators a quest transition may touch. Quests never
// talk to the wire or the ledger directly outside of these.
type QuestDeps struct {
	Sync     *SyncService
	Ledger   *LedgerService
	CpaLinks CpaLinkCache
}

type CpaLinkCache interface {
	CachedLink(ctx context.Context, telegramID int64, questID string) string
	CacheLink(ctx context.Context, telegramID int64, questID string, link string)
}

const (
	ActionNone     = "none"
	ActionOpenLink = "open_link"
	ActionReward   = "reward"
)

type InteractResult struct {
	State     string
	Completed bool
	Action    string
	Link      string
	Reward    float64
	Message   string
}

// Quest is the tagged-variant task state machine. Completed quests are
// terminal: Interact on them is a no-op with no remote call. Each variant's
// transition table is a pure function of (current state, server outcome).
type Quest interface {
	QuestID() string
	Completed() bool
	Card() dto.QuestCardResponse
	Interact(ctx context.Context, telegramID int64, deps QuestDeps) (InteractResult, error)
}

// ==================== FOLLOW QUEST ====================

// FollowQuest: initial --interact--> visited (marks the visit and opens the
// link) --interact--> verify. A verify the server declines regresses to
// initial, forcing a re-visit before the next verify.
type FollowQuest struct {
	ID         string
	Title      string
	Reward     float64
	TargetLink string
	Visited    bool
	Done       bool
}

func (q *FollowQuest) QuestID() string { return q.ID }
func (q *FollowQuest) Completed() bool { return q.Done }

func (q *FollowQuest) state() string {
	switch {
	case q.Done:
		return shared.QuestStatusCompleted
	case q.Visited:
		return shared.QuestStatusVisited
	default:
		return shared.QuestStatusInitial
	}
}

func (q *FollowQuest) Card() dto.QuestCardResponse {
	return dto.QuestCardResponse{
		ID:        q.ID,
		Type:      shared.QuestTypeFollow,
		Title:     q.Title,
		Reward:    q.Reward,
		State:     q.state(),
		Completed: q.Done,
	}
}

func (q *FollowQuest) Interact(ctx context.Context, telegramID int64, deps QuestDeps) (InteractResult, error) {
	if q.Done {
		return InteractResult{State: q.state(), Completed: true, Action: ActionNone}, nil
	}

	if !q.Visited {
		outcome, err := deps.Sync.MarkVisited(ctx, telegramID, q.ID)
		if err != nil {
			return InteractResult{}, err
		}
		if outcome.Status != OutcomeOK {
			return InteractResult{
				State:   q.state(),
				Action:  ActionNone,
				Message: "Could not record the visit, try again",
			}, nil
		}

		q.Visited = true
		return InteractResult{State: q.state(), Action: ActionOpenLink, Link: q.TargetLink}, nil
	}

	outcome, err := deps.Sync.Verify(ctx, telegramID, q.ID)
	if err != nil {
		return InteractResult{}, err
	}

	switch outcome.Status {
	case OutcomeOK:
		if _, err := deps.Ledger.ApplyConfirmedReward(ctx, telegramID, shared.RewardKeyQuestPrefix+q.ID, outcome.Reward, nil); err != nil {
			return InteractResult{}, err
		}
		q.Done = true
		return InteractResult{
			State:     q.state(),
			Completed: true,
			Action:    ActionReward,
			Reward:    outcome.Reward,
		}, nil

	case OutcomeRejected:
		// Verification declined: the action was not performed. Regress to
		// initial so the user must re-visit before the next verify.
		q.Visited = false
		return InteractResult{
			State:   q.state(),
			Action:  ActionNone,
			Message: "Subscription not confirmed",
		}, nil

	default:
		return InteractResult{
			State:   q.state(),
			Action:  ActionNone,
			Message: "Network error, try again",
		}, nil
	}
}

// ==================== MILESTONE QUEST ====================

// MilestoneQuest has no user-driven sub-states: it becomes claimable once
// the ledger counter reaches the goal, and stays claimable until the server
// confirms the claim.
type MilestoneQuest struct {
	ID      string
	Title   string
	Reward  float64
	Goal    int64
	Current int64
	Done    bool
}

func (q *MilestoneQuest) QuestID() string { return q.ID }
func (q *MilestoneQuest) Completed() bool { return q.Done }

func (q *MilestoneQuest) state() string {
	switch {
	case q.Done:
		return shared.QuestStatusCompleted
	case q.Current >= q.Goal:
		return shared.QuestStatusReadyToClaim
	default:
		return shared.QuestStatusInitial
	}
}

func (q *MilestoneQuest) Card() dto.QuestCardResponse {
	return dto.QuestCardResponse{
		ID:            q.ID,
		Type:          shared.QuestTypeMilestone,
		Title:         q.Title,
		Reward:        q.Reward,
		State:         q.state(),
		Completed:     q.Done,
		CurrentCount:  q.Current,
		RequiredCount: q.Goal,
	}
}

func (q *MilestoneQuest) Interact(ctx context.Context, telegramID int64, deps QuestDeps) (InteractResult, error) {
	if q.Done {
		return InteractResult{State: q.state(), Completed: true, Action: ActionNone}, nil
	}

	if q.Current < q.Goal {
		return InteractResult{
			State:   q.state(),
			Action:  ActionNone,
			Message: fmt.Sprintf("%d/%d, keep going", q.Current, q.Goal),
		}, nil
	}

	outcome, err := deps.Sync.Claim(ctx, telegramID, q.ID)
	if err != nil {
		return InteractResult{}, err
	}

	switch outcome.Status {
	case OutcomeOK:
		if _, err := deps.Ledger.ApplyConfirmedReward(ctx, telegramID, shared.RewardKeyQuestPrefix+q.ID, outcome.Reward, nil); err != nil {
			return InteractResult{}, err
		}
		q.Done = true
		return InteractResult{
			State:     q.state(),
			Completed: true,
			Action:    ActionReward,
			Reward:    outcome.Reward,
		}, nil

	case OutcomeRejected:
		return InteractResult{
			State:   q.state(),
			Action:  ActionNone,
			Message: "Goal not confirmed yet",
		}, nil

	default:
		return InteractResult{
			State:   q.state(),
			Action:  ActionNone,
			Message: "Network error, try again",
		}, nil
	}
}

// ==================== CPA QUEST ====================

// CpaQuest hands the user a third-party tracking link. Completion arrives
// out of band: the client only re-serves the cached link until the server
// reports the quest completed on a later catalog load.
type CpaQuest struct {
	ID      string
	Title   string
	Reward  float64
	Visited bool
	Done    bool
}

func (q *CpaQuest) QuestID() string { return q.ID }
func (q *CpaQuest) Completed() bool { return q.Done }

func (q *CpaQuest) state() string {
	switch {
	case q.Done:
		return shared.QuestStatusCompleted
	case q.Visited:
		return shared.QuestStatusVisited
	default:
		return shared.QuestStatusInitial
	}
}

func (q *CpaQuest) Card() dto.QuestCardResponse {
	return dto.QuestCardResponse{
		ID:        q.ID,
		Type:      shared.QuestTypeCpa,
		Title:     q.Title,
		Reward:    q.Reward,
		State:     q.state(),
		Completed: q.Done,
	}
}

func (q *CpaQuest) Interact(ctx context.Context, telegramID int64, deps QuestDeps) (InteractResult, error) {
	if q.Done {
		return InteractResult{State: q.state(), Completed: true, Action: ActionNone}, nil
	}

	if link := deps.CpaLinks.CachedLink(ctx, telegramID, q.ID); link != "" {
		return InteractResult{State: q.state(), Action: ActionOpenLink, Link: link}, nil
	}

	outcome, link, err := deps.Sync.GenerateCpaLink(ctx, telegramID, q.ID)
	if err != nil {
		return InteractResult{}, err
	}
	if outcome.Status != OutcomeOK {
		return InteractResult{
			State:   q.state(),
			Action:  ActionNone,
			Message: "Offer unavailable, try later",
		}, nil
	}

	q.Visited = true
	deps.CpaLinks.CacheLink(ctx, telegramID, q.ID, link)
	return InteractResult{State: q.state(), Action: ActionOpenLink, Link: link}, nil
}

// ==================== QUEST SERVICE ====================

// QuestService assembles disposable quest projections from (remote
// definitions x remote per-user statuses x ledger counters) and serializes
// interactions per quest.
type QuestService struct {
	appContext.DefaultService

	syncSvc   *SyncService
	ledgerSvc *LedgerService
	redisSvc  *RedisService
	remote    RemoteLedger

	cacheTTL  time.Duration
	cpaTTL    time.Duration
	interacts *interactGuard
}

const QUEST_SVC = "quest_svc"

const questListCacheKey = "quest_config_list"

func (svc QuestService) Id() string {
	return QUEST_SVC
}

func (svc *QuestService) Configure(ctx *appContext.Context) error {
	svc.cacheTTL = 10 * time.Minute
	if raw := os.Getenv("QUEST_CACHE_TTL_MINUTES"); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			svc.cacheTTL = time.Duration(minutes) * time.Minute
		}
	}
	svc.cpaTTL = 24 * time.Hour
	svc.interacts = newInteractGuard()

	return svc.DefaultService.Configure(ctx)
}

func (svc *QuestService) Start() error {
	svc.syncSvc = svc.Service(SYNC_SVC).(*SyncService)
	svc.ledgerSvc = svc.Service(LEDGER_SVC).(*LedgerService)
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	svc.remote = svc.Service(REMOTE_LEDGER_SVC).(*RemoteLedgerService)
	return nil
}

// SetRemote overrides the remote collaborator, used by tests.
func (svc *QuestService) SetRemote(remote RemoteLedger) {
	svc.remote = remote
}

func (svc *QuestService) deps() QuestDeps {
	return QuestDeps{Sync: svc.syncSvc, Ledger: svc.ledgerSvc, CpaLinks: svc}
}

// questDefinitions fetches the quest catalog, falling back to the redis
// cache when the remote is unreachable. With neither available it returns an
// empty list, never an error.
func (svc *QuestService) questDefinitions(ctx context.Context) []dto.RemoteQuestConfig {
	defs, err := svc.remote.QuestList(ctx)
	if err == nil {
		if cacheErr := svc.redisSvc.Set(ctx, questListCacheKey, defs, svc.cacheTTL); cacheErr != nil {
			log.WithError(cacheErr).Debug("Failed to cache quest definitions")
		}
		return defs
	}

	log.WithError(err).Warn("Quest catalog fetch failed, serving cached definitions")

	var cached []dto.RemoteQuestConfig
	if cacheErr := svc.redisSvc.GetJSON(ctx, questListCacheKey, &cached); cacheErr != nil {
		log.WithError(cacheErr).Warn("Quest definition cache unavailable")
		return nil
	}
	return cached
}

func (svc *QuestService) userStatuses(ctx context.Context, telegramID int64) map[string]string {
	statuses := map[string]string{}

	state, err := svc.remote.UserState(ctx, telegramID)
	if err != nil {
		log.WithFields(log.Fields{
			"telegram_id": telegramID,
			"error":       err.Error(),
		}).Warn("Quest status fetch failed, building catalog without statuses")
		return statuses
	}

	for _, s := range state.Quests {
		statuses[s.QuestID] = s.Status
	}
	return statuses
}

func (svc *QuestService) build(def dto.RemoteQuestConfig, status string, videosWatched int64) Quest {
	completed := status == shared.QuestStatusCompleted
	visited := status == shared.QuestStatusVisited || completed

	switch def.Type {
	case shared.QuestTypeFollow:
		return &FollowQuest{
			ID:         def.ID,
			Title:      def.Title,
			Reward:     def.Reward,
			TargetLink: def.Link,
			Visited:    visited,
			Done:       completed,
		}
	case shared.QuestTypeMilestone:
		return &MilestoneQuest{
			ID:      def.ID,
			Title:   def.Title,
			Reward:  def.Reward,
			Goal:    def.Goal,
			Current: videosWatched,
			Done:    completed,
		}
	case shared.QuestTypeCpa:
		return &CpaQuest{
			ID:      def.ID,
			Title:   def.Title,
			Reward:  def.Reward,
			Visited: visited,
			Done:    completed,
		}
	default:
		log.WithFields(log.Fields{
			"quest_id": def.ID,
			"type":     def.Type,
		}).Warn("Skipping quest with unknown type")
		return nil
	}
}

// Catalog assembles the quest list for one user. Each instance is a
// disposable projection; the authoritative completion state lives remote.
func (svc *QuestService) Catalog(ctx context.Context, telegramID int64) []Quest {
	defs := svc.questDefinitions(ctx)
	statuses := svc.userStatuses(ctx, telegramID)
	videosWatched := svc.ledgerSvc.Counter(ctx, telegramID, shared.CounterVideosWatched)

	quests := make([]Quest, 0, len(defs))
	for _, def := range defs {
		if q := svc.build(def, statuses[def.ID], videosWatched); q != nil {
			quests = append(quests, q)
		}
	}
	return quests
}

func (svc *QuestService) List(ctx context.Context, telegramID int64) *dto.QuestListResponse {
	quests := svc.Catalog(ctx, telegramID)

	cards := make([]dto.QuestCardResponse, 0, len(quests))
	for _, q := range quests {
		cards = append(cards, q.Card())
	}
	return &dto.QuestListResponse{Quests: cards}
}

// Interact drives one quest transition. At most one interaction per
// (user, quest) may be in flight; concurrent duplicates get
// ErrInteractionInFlight.
func (svc *QuestService) Interact(ctx context.Context, telegramID int64, questID string) (*dto.InteractResponse, error) {
	guardKey := strconv.FormatInt(telegramID, 10) + ":" + questID
	if !svc.interacts.acquire(guardKey) {
		return nil, shared.NewConflictError(ErrInteractionInFlight, "Interaction already in progress")
	}
	defer svc.interacts.release(guardKey)

	quest := svc.find(ctx, telegramID, questID)
	if quest == nil {
		return nil, shared.NewNotFoundError(fmt.Errorf("quest %s not found", questID), "Quest not found")
	}

	result, err := quest.Interact(ctx, telegramID, svc.deps())
	if err != nil {
		if errors.Is(err, ErrOpInFlight) {
			return nil, shared.NewConflictError(err, "Interaction already in progress")
		}
		return nil, err
	}

	return &dto.InteractResponse{
		QuestID:   questID,
		State:     result.State,
		Completed: result.Completed,
		Action:    result.Action,
		Link:      result.Link,
		Reward:    result.Reward,
		Balance:   svc.ledgerSvc.Balance(ctx, telegramID),
		Message:   result.Message,
	}, nil
}

func (svc *QuestService) find(ctx context.Context, telegramID int64, questID string) Quest {
	for _, q := range svc.Catalog(ctx, telegramID) {
		if q.QuestID() == questID {
			return q
		}
	}
	return nil
}

// ==================== CPA LINK CACHE (redis-backed) ====================

func cpaLinkKey(telegramID int64, questID string) string {
	return "cpa_link:" + strconv.FormatInt(telegramID, 10) + ":" + questID
}

func (svc *QuestService) CachedLink(ctx context.Context, telegramID int64, questID string) string {
	link, err := svc.redisSvc.Get(ctx, cpaLinkKey(telegramID, questID))
	if err != nil {
		return ""
	}
	return link
}

func (svc *QuestService) CacheLink(ctx context.Context, telegramID int64, questID string, link string) {
	if err := svc.redisSvc.Set(ctx, cpaLinkKey(telegramID, questID), link, svc.cpaTTL); err != nil {
		log.WithError(err).Debug("Failed to cache CPA link")
	}
}

// ==================== INTERACTION GUARD ====================

type interactGuard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInteractGuard() *interactGuard {
	return &interactGuard{keys: make(map[string]struct{})}
}

func (g *interactGuard) acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.keys[key]; busy {
		return false
	}
	g.keys[key] = struct{}{}
	return true
}

func (g *interactGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
}
