package services

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adwatch/rewards_api/dto"
	"github.com/adwatch/rewards_api/shared"
)

func testQuestDeps(t *testing.T, remote *fakeRemote) QuestDeps {
	t.Helper()
	return QuestDeps{
		Sync:     newTestSync(remote),
		Ledger:   newTestLedger(t, remote),
		CpaLinks: newMapLinkCache(),
	}
}

func TestFollowQuest_VisitThenVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.verifyAccept = true
	remote.verifyReward = 10
	deps := testQuestDeps(t, remote)

	q := &FollowQuest{ID: "q1", Title: "Join channel", Reward: 10, TargetLink: "https://t.me/chan"}

	// First interaction records the visit and hands back the link.
	res, err := q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionOpenLink, res.Action)
	assert.Equal(t, "https://t.me/chan", res.Link)
	assert.Equal(t, shared.QuestStatusVisited, res.State)
	assert.Equal(t, 1, remote.callCount("mark_visited"))
	assert.Equal(t, 0, remote.callCount("verify"))

	// Second interaction verifies and lands the reward.
	res, err = q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionReward, res.Action)
	assert.True(t, res.Completed)
	assert.Equal(t, 10.0, res.Reward)
	assert.Equal(t, shared.QuestStatusCompleted, res.State)
	assert.Equal(t, 110.0, deps.Ledger.Balance(ctx, 42))
}

func TestFollowQuest_VisitDeclinedStaysUnvisited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.markVisitedStatus = "error"
	deps := testQuestDeps(t, remote)

	q := &FollowQuest{ID: "q1", TargetLink: "https://t.me/chan"}

	res, err := q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Empty(t, res.Link, "no link opened when the visit was not recorded")
	assert.Equal(t, shared.QuestStatusInitial, res.State)
	assert.False(t, q.Visited)
}

func TestFollowQuest_VerifyRejectedRegresses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.verifyAccept = false
	deps := testQuestDeps(t, remote)

	q := &FollowQuest{ID: "q1", TargetLink: "https://t.me/chan", Visited: true}

	res, err := q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Equal(t, shared.QuestStatusInitial, res.State, "declined verify forces a re-visit")
	assert.False(t, q.Visited)
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, 100.0, deps.Ledger.Balance(ctx, 42), "no reward on a declined verify")

	// The next interaction re-issues mark-visited, not another verify.
	res, err = q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionOpenLink, res.Action)
	assert.Equal(t, 1, remote.callCount("mark_visited"))
	assert.Equal(t, 1, remote.callCount("verify"))
}

func TestFollowQuest_TransportFailureKeepsState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.verifyErr = errors.New("connection refused")
	deps := testQuestDeps(t, remote)

	q := &FollowQuest{ID: "q1", TargetLink: "https://t.me/chan", Visited: true}

	res, err := q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Equal(t, shared.QuestStatusVisited, res.State, "transport failure changes nothing")
	assert.True(t, q.Visited)
	assert.Equal(t, 100.0, deps.Ledger.Balance(ctx, 42), "no optimistic mutation on transport failure")
}

func TestFollowQuest_CompletedIsTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	deps := testQuestDeps(t, remote)

	q := &FollowQuest{ID: "q1", Done: true}

	res, err := q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.True(t, res.Completed)
	assert.Equal(t, 0, remote.callCount("mark_visited"))
	assert.Equal(t, 0, remote.callCount("verify"))
}

func TestMilestoneQuest_BelowGoal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	deps := testQuestDeps(t, remote)

	q := &MilestoneQuest{ID: "m1", Goal: 3, Current: 2}
	assert.Equal(t, shared.QuestStatusInitial, q.Card().State)

	res, err := q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Equal(t, "2/3, keep going", res.Message)
	assert.Equal(t, 0, remote.callCount("claim"), "no remote call below the goal")
}

func TestMilestoneQuest_ClaimAtGoal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.claimAccept = true
	remote.claimReward = 50
	deps := testQuestDeps(t, remote)

	q := &MilestoneQuest{ID: "m1", Reward: 50, Goal: 3, Current: 3}
	assert.Equal(t, shared.QuestStatusReadyToClaim, q.Card().State)

	res, err := q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionReward, res.Action)
	assert.True(t, res.Completed)
	assert.Equal(t, 50.0, res.Reward)
	assert.Equal(t, 150.0, deps.Ledger.Balance(ctx, 42))

	// The completed quest is terminal: no further call, no double credit.
	res, err = q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Equal(t, 1, remote.callCount("claim"))
	assert.Equal(t, 150.0, deps.Ledger.Balance(ctx, 42))
}

func TestMilestoneQuest_ClaimRejectedStaysClaimable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.claimAccept = false
	deps := testQuestDeps(t, remote)

	q := &MilestoneQuest{ID: "m1", Goal: 3, Current: 3}

	res, err := q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Equal(t, shared.QuestStatusReadyToClaim, res.State)
	assert.False(t, q.Done)
}

func TestCpaQuest_GeneratesThenServesCachedLink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.cpaLink = "https://offers.example/track/abc"
	deps := testQuestDeps(t, remote)

	q := &CpaQuest{ID: "c1", Title: "Install app"}

	res, err := q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionOpenLink, res.Action)
	assert.Equal(t, "https://offers.example/track/abc", res.Link)
	assert.Equal(t, 1, remote.callCount("generate_cpa_link"))

	// The cached link is re-served without another remote call.
	res, err = q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionOpenLink, res.Action)
	assert.Equal(t, "https://offers.example/track/abc", res.Link)
	assert.Equal(t, 1, remote.callCount("generate_cpa_link"))
}

func TestCpaQuest_OfferUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.cpaLink = ""
	deps := testQuestDeps(t, remote)

	q := &CpaQuest{ID: "c1"}

	res, err := q.Interact(ctx, 42, deps)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Empty(t, res.Link)
	assert.NotEmpty(t, res.Message)
	assert.False(t, q.Visited)
}

func TestQuestService_CatalogSkipsUnknownTypes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.quests = []dto.RemoteQuestConfig{
		{ID: "q1", Type: shared.QuestTypeFollow, Title: "Join"},
		{ID: "x1", Type: "mystery", Title: "Unknown"},
		{ID: "m1", Type: shared.QuestTypeMilestone, Goal: 3},
	}
	svc := newTestQuestService(t, remote)

	quests := svc.Catalog(ctx, 42)
	require.Len(t, quests, 2)
	assert.Equal(t, "q1", quests[0].QuestID())
	assert.Equal(t, "m1", quests[1].QuestID())
}

func TestQuestService_ListServesEmptyCatalogWhenRemoteDown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.questListErr = errors.New("connection refused")
	remote.userStateErr = errors.New("connection refused")
	svc := newTestQuestService(t, remote)

	resp := svc.List(ctx, 42)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Quests)
}

func TestQuestService_MilestoneProgressFromLedgerCounter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.quests = []dto.RemoteQuestConfig{
		{ID: "m1", Type: shared.QuestTypeMilestone, Title: "Watch 3 videos", Goal: 3},
	}
	remote.counters = map[string]int64{shared.CounterVideosWatched: 2}
	svc := newTestQuestService(t, remote)

	resp := svc.List(ctx, 42)
	require.Len(t, resp.Quests, 1)
	card := resp.Quests[0]
	assert.Equal(t, int64(2), card.CurrentCount)
	assert.Equal(t, int64(3), card.RequiredCount)
	assert.Equal(t, shared.QuestStatusInitial, card.State)
}

func TestQuestService_InteractFollowFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.quests = []dto.RemoteQuestConfig{
		{ID: "q1", Type: shared.QuestTypeFollow, Title: "Join", Reward: 10, Link: "https://t.me/chan"},
	}
	remote.verifyAccept = true
	remote.verifyReward = 10
	svc := newTestQuestService(t, remote)

	// Visit.
	resp, err := svc.Interact(ctx, 42, "q1")
	require.NoError(t, err)
	assert.Equal(t, ActionOpenLink, resp.Action)
	assert.Equal(t, "https://t.me/chan", resp.Link)

	// Verify. The quest projection is rebuilt from the recorded status.
	resp, err = svc.Interact(ctx, 42, "q1")
	require.NoError(t, err)
	assert.Equal(t, ActionReward, resp.Action)
	assert.True(t, resp.Completed)
	assert.Equal(t, 110.0, resp.Balance)

	// Completed quests are terminal.
	resp, err = svc.Interact(ctx, 42, "q1")
	require.NoError(t, err)
	assert.Equal(t, ActionNone, resp.Action)
	assert.True(t, resp.Completed)
	assert.Equal(t, 1, remote.callCount("verify"))
}

func TestQuestService_InteractUnknownQuest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	svc := newTestQuestService(t, remote)

	_, err := svc.Interact(ctx, 42, "ghost")
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, appErr.StatusCode)
}

func TestQuestService_InteractGuardRejectsConcurrentDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFakeRemote()
	remote.quests = []dto.RemoteQuestConfig{
		{ID: "q1", Type: shared.QuestTypeFollow, Link: "https://t.me/chan"},
	}
	svc := newTestQuestService(t, remote)

	require.True(t, svc.interacts.acquire("42:q1"))
	defer svc.interacts.release("42:q1")

	_, err := svc.Interact(ctx, 42, "q1")
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, appErr.StatusCode)
	assert.Equal(t, 0, remote.callCount("mark_visited"))
}
