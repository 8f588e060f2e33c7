package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adwatch/rewards_api/dto"
	"github.com/adwatch/rewards_api/shared"
)

// fakeRemote is an in-memory stand-in for the authoritative ledger. It keeps
// per-quest statuses the way the real server does: a confirmed visit moves a
// quest to visited, a confirmed verify/claim to completed, and a declined
// verify back to initial.
type fakeRemote struct {
	mu sync.Mutex

	quests   []dto.RemoteQuestConfig
	statuses map[string]string
	balance  float64
	counters map[string]int64

	questListErr error
	userStateErr error

	markVisitedErr    error
	markVisitedStatus string

	verifyErr    error
	verifyAccept bool
	verifyReward float64

	claimErr    error
	claimAccept bool
	claimReward float64

	cpaErr  error
	cpaLink string

	videoErr error
	video    dto.RemoteVideo

	watchedErr  error
	watchedResp dto.RemoteWatchedResponse

	calls map[string]int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		statuses:          map[string]string{},
		balance:           100,
		counters:          map[string]int64{},
		markVisitedStatus: "ok",
		watchedResp:       dto.RemoteWatchedResponse{Status: "ok", VideosWatched: 1},
		calls:             map[string]int{},
	}
}

func (f *fakeRemote) count(op string) {
	f.calls[op]++
}

func (f *fakeRemote) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRemote) QuestList(_ context.Context) ([]dto.RemoteQuestConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("quest_list")
	if f.questListErr != nil {
		return nil, f.questListErr
	}
	return f.quests, nil
}

func (f *fakeRemote) UserState(_ context.Context, _ int64) (*dto.RemoteUserState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("user_state")
	if f.userStateErr != nil {
		return nil, f.userStateErr
	}

	quests := make([]dto.RemoteQuestStatus, 0, len(f.statuses))
	for id, status := range f.statuses {
		quests = append(quests, dto.RemoteQuestStatus{QuestID: id, Status: status})
	}

	counters := make(map[string]int64, len(f.counters))
	for k, v := range f.counters {
		counters[k] = v
	}

	return &dto.RemoteUserState{
		Status:   "ok",
		Balance:  f.balance,
		Counters: counters,
		Quests:   quests,
	}, nil
}

func (f *fakeRemote) MarkVisited(_ context.Context, _ int64, questID string) (*dto.RemoteStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("mark_visited")
	if f.markVisitedErr != nil {
		return nil, f.markVisitedErr
	}
	if f.markVisitedStatus == "ok" {
		f.statuses[questID] = shared.QuestStatusVisited
	}
	return &dto.RemoteStatusResponse{Status: f.markVisitedStatus}, nil
}

func (f *fakeRemote) Verify(_ context.Context, _ int64, questID string) (*dto.RemoteVerifyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("verify")
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	if !f.verifyAccept {
		f.statuses[questID] = shared.QuestStatusInitial
		return &dto.RemoteVerifyResponse{IsCompleted: false, Message: "not subscribed"}, nil
	}
	f.statuses[questID] = shared.QuestStatusCompleted
	return &dto.RemoteVerifyResponse{IsCompleted: true, Reward: f.verifyReward}, nil
}

func (f *fakeRemote) Claim(_ context.Context, _ int64, questID string) (*dto.RemoteVerifyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("claim")
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if !f.claimAccept {
		return &dto.RemoteVerifyResponse{IsCompleted: false, Message: "not yet"}, nil
	}
	f.statuses[questID] = shared.QuestStatusCompleted
	return &dto.RemoteVerifyResponse{IsCompleted: true, Reward: f.claimReward}, nil
}

func (f *fakeRemote) GenerateCpaLink(_ context.Context, _ int64, _ string) (*dto.RemoteCpaLinkResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("generate_cpa_link")
	if f.cpaErr != nil {
		return nil, f.cpaErr
	}
	return &dto.RemoteCpaLinkResponse{Link: f.cpaLink}, nil
}

func (f *fakeRemote) RandomVideo(_ context.Context, _ string) (*dto.RemoteVideo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("random_video")
	if f.videoErr != nil {
		return nil, f.videoErr
	}
	return &f.video, nil
}

func (f *fakeRemote) ReportWatched(_ context.Context, _ int64, _ int64) (*dto.RemoteWatchedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("report_watched")
	if f.watchedErr != nil {
		return nil, f.watchedErr
	}
	resp := f.watchedResp
	return &resp, nil
}

// mapLinkCache is a CpaLinkCache backed by a plain map.
type mapLinkCache struct {
	mu    sync.Mutex
	links map[string]string
}

func newMapLinkCache() *mapLinkCache {
	return &mapLinkCache{links: map[string]string{}}
}

func (c *mapLinkCache) CachedLink(_ context.Context, telegramID int64, questID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.links[cpaLinkKey(telegramID, questID)]
}

func (c *mapLinkCache) CacheLink(_ context.Context, telegramID int64, questID string, link string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links[cpaLinkKey(telegramID, questID)] = link
}

// fakeClock is an adjustable time source for the watch gate's wall-clock
// seek clamp.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestSqlite(t *testing.T) *SqliteService {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	svc := &SqliteService{database: "file:" + name + "?mode=memory&cache=shared"}
	require.NoError(t, svc.Start())
	return svc
}

func newTestSync(remote RemoteLedger) *SyncService {
	return &SyncService{
		remote:   remote,
		inFlight: map[string]struct{}{},
	}
}

func newTestLedger(t *testing.T, remote RemoteLedger) *LedgerService {
	t.Helper()
	return &LedgerService{
		sqlSvc: newTestSqlite(t),
		remote: remote,
		users:  map[int64]*userLedger{},
	}
}

func newTestQuestService(t *testing.T, remote RemoteLedger) *QuestService {
	t.Helper()
	return &QuestService{
		syncSvc:   newTestSync(remote),
		ledgerSvc: newTestLedger(t, remote),
		redisSvc:  &RedisService{},
		remote:    remote,
		cacheTTL:  time.Minute,
		cpaTTL:    time.Hour,
		interacts: newInteractGuard(),
	}
}

func newTestWatchService(t *testing.T, remote RemoteLedger) *WatchService {
	t.Helper()
	return &WatchService{
		syncSvc:          newTestSync(remote),
		ledgerSvc:        newTestLedger(t, remote),
		redisSvc:         &RedisService{},
		remote:           remote,
		requiredFraction: 0.95,
		defaultDuration:  30,
		maxPlaybackRate:  2.0,
		sessionTTL:       15 * time.Minute,
		sessions:         map[string]*WatchSession{},
	}
}
