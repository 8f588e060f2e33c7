package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/adwatch/rewards_api/dto"
	"github.com/adwatch/rewards_api/shared"
)

type WatchState string

const (
	WatchNotStarted WatchState = "not_started"
	WatchWatching   WatchState = "watching"
	WatchEligible   WatchState = "eligible"
	WatchClaimed    WatchState = "claimed"
)

// WatchSession turns raw playback position samples into a monotonic
// farthest-point signal. The high-water mark never decreases, and it cannot
// be advanced faster than real playback: a sample further ahead than the
// wall-clock allowance since the previous sample is a seek and gets clamped.
type WatchSession struct {
	ID           string
	TelegramID   int64
	VideoID      int64
	RequiredTime float64

	maxRate   float64
	createdAt time.Time
	now       func() time.Time

	mu            sync.Mutex
	state         WatchState
	farthest      float64
	lastSampleAt  time.Time
	claiming      bool
	rewardClaimed bool
}

type SampleResult struct {
	State            WatchState
	FarthestTime     float64
	Clamped          bool
	SnapbackTime     float64
	CrossedThreshold bool
	// ShouldClaim is set when this event may fire the reward claim: the
	// session was already eligible, or a natural end arrived.
	ShouldClaim bool
}

type CloseDecision struct {
	Allowed     bool
	ShouldClaim bool
	Message     string
}

func NewWatchSession(telegramID, videoID int64, requiredTime, maxRate float64) *WatchSession {
	id, _ := uuid.NewV7()
	return &WatchSession{
		ID:           id.String(),
		TelegramID:   telegramID,
		VideoID:      videoID,
		RequiredTime: requiredTime,
		maxRate:      maxRate,
		createdAt:    time.Now(),
		now:          time.Now,
		state:        WatchNotStarted,
	}
}

func (s *WatchSession) start(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != WatchNotStarted {
		return
	}
	s.farthest = 0
	s.lastSampleAt = now
	s.state = WatchWatching
}

func (s *WatchSession) State() WatchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *WatchSession) FarthestTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.farthest
}

func (s *WatchSession) Sample(position float64, ended bool) SampleResult {
	return s.sampleAt(position, ended, s.now())
}

func (s *WatchSession) sampleAt(position float64, ended bool, now time.Time) SampleResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := SampleResult{State: s.state, FarthestTime: s.farthest}

	if s.state != WatchWatching && s.state != WatchEligible {
		return res
	}

	wasEligible := s.state == WatchEligible

	elapsed := now.Sub(s.lastSampleAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	s.lastSampleAt = now

	allowed := s.farthest + elapsed*s.maxRate
	if position > allowed {
		res.Clamped = true
		res.SnapbackTime = s.farthest
	} else if position > s.farthest {
		s.farthest = position
	}

	if s.state == WatchWatching && s.farthest >= s.RequiredTime {
		s.state = WatchEligible
		res.CrossedThreshold = true
	}

	res.State = s.state
	res.FarthestTime = s.farthest
	res.ShouldClaim = s.state == WatchEligible && !s.rewardClaimed && (wasEligible || ended)
	return res
}

// BeginClaim latches the claim attempt. Only one caller ever gets true
// before FinishClaim resolves it, so the threshold-crossing path and the
// end-of-stream path cannot double-fire.
func (s *WatchSession) BeginClaim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != WatchEligible || s.claiming || s.rewardClaimed {
		return false
	}
	s.claiming = true
	return true
}

func (s *WatchSession) FinishClaim(confirmed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claiming = false
	if confirmed {
		s.rewardClaimed = true
		s.state = WatchClaimed
	}
}

// RequestClose applies the dismissal rules: refused before eligibility
// unless the user force-abandons, in which case the session dies unrewarded.
func (s *WatchSession) RequestClose(force bool) CloseDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case WatchWatching, WatchNotStarted:
		if !force {
			return CloseDecision{Allowed: false, Message: "not yet eligible"}
		}
		return CloseDecision{Allowed: true}
	case WatchEligible:
		return CloseDecision{Allowed: true, ShouldClaim: !s.rewardClaimed && !s.claiming}
	default:
		return CloseDecision{Allowed: true}
	}
}

// ==================== WATCH SERVICE ====================

type WatchService struct {
	appContext.DefaultService

	syncSvc   *SyncService
	ledgerSvc *LedgerService
	minioSvc  *MinIOService
	redisSvc  *RedisService
	remote    RemoteLedger

	requiredFraction float64
	defaultDuration  float64
	maxPlaybackRate  float64
	sessionTTL       time.Duration

	reaperStop chan struct{}

	mu       sync.Mutex
	sessions map[string]*WatchSession
}

const WATCH_SVC = "watch_svc"

func (svc WatchService) Id() string {
	return WATCH_SVC
}

func (svc *WatchService) Configure(ctx *appContext.Context) error {
	svc.sessions = make(map[string]*WatchSession)

	svc.requiredFraction = envFloat("VIDEO_REQUIRED_WATCH_PERCENTAGE", 95) / 100
	svc.defaultDuration = envFloat("VIDEO_DEFAULT_DURATION_SECONDS", 30)
	svc.maxPlaybackRate = envFloat("WATCH_MAX_PLAYBACK_RATE", 2.0)
	svc.sessionTTL = time.Duration(envFloat("WATCH_SESSION_TTL_MINUTES", 15)) * time.Minute

	return svc.DefaultService.Configure(ctx)
}

func (svc *WatchService) Start() error {
	svc.syncSvc = svc.Service(SYNC_SVC).(*SyncService)
	svc.ledgerSvc = svc.Service(LEDGER_SVC).(*LedgerService)
	svc.minioSvc = svc.Service(MINIO_SVC).(*MinIOService)
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	svc.remote = svc.Service(REMOTE_LEDGER_SVC).(*RemoteLedgerService)

	svc.reaperStop = make(chan struct{})
	go svc.startSessionReaper()

	return nil
}

func (svc *WatchService) Shutdown() {
	if svc.reaperStop != nil {
		close(svc.reaperStop)
	}
}

func (svc *WatchService) startSessionReaper() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-svc.reaperStop:
			return
		case <-ticker.C:
			svc.reapExpired(time.Now())
		}
	}
}

func (svc *WatchService) reapExpired(now time.Time) {
	cutoff := now.Add(-svc.sessionTTL)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	for id, sess := range svc.sessions {
		if sess.createdAt.Before(cutoff) {
			delete(svc.sessions, id)
		}
	}
}

// OpenSession fetches a random ad video from the remote ledger and opens a
// watch session for it. The stored video URL may be a MinIO object key, in
// which case it is presigned here.
func (svc *WatchService) OpenSession(ctx context.Context, telegramID int64, req dto.OpenWatchSessionRequest) (*dto.OpenWatchSessionResponse, error) {
	initData, err := svc.redisSvc.Get(ctx, initDataKey(telegramID))
	if err != nil || initData == "" {
		return nil, shared.NewUnauthorizedError(err, "No session proof available, re-authenticate")
	}

	video, err := svc.remote.RandomVideo(ctx, initData)
	if err != nil {
		log.WithError(err).Warn("Failed to fetch random video")
		return nil, shared.NewInternalError(err, "No video available")
	}

	videoURL := video.VideoURL
	if !strings.HasPrefix(videoURL, "http://") && !strings.HasPrefix(videoURL, "https://") {
		presigned, err := svc.minioSvc.GetFileURL(strings.TrimPrefix(videoURL, "/"), 1*time.Hour)
		if err != nil {
			return nil, shared.NewInternalError(err, "Failed to resolve video URL")
		}
		videoURL = presigned
	}

	duration := req.Duration
	if duration <= 0 {
		duration = svc.defaultDuration
	}
	required := duration * svc.requiredFraction

	sess := NewWatchSession(telegramID, video.ID, required, svc.maxPlaybackRate)
	sess.start(time.Now())

	svc.mu.Lock()
	svc.sessions[sess.ID] = sess
	svc.mu.Unlock()

	observeWatchSessionOpened()
	log.WithFields(log.Fields{
		"telegram_id":   telegramID,
		"session_id":    sess.ID,
		"video_id":      video.ID,
		"required_time": required,
	}).Info("Watch session opened")

	return &dto.OpenWatchSessionResponse{
		SessionID:    sess.ID,
		VideoID:      video.ID,
		VideoURL:     videoURL,
		Title:        video.Title,
		RequiredTime: required,
	}, nil
}

func (svc *WatchService) session(telegramID int64, sessionID string) (*WatchSession, error) {
	svc.mu.Lock()
	sess, ok := svc.sessions[sessionID]
	svc.mu.Unlock()

	if !ok || sess.TelegramID != telegramID {
		return nil, shared.NewNotFoundError(fmt.Errorf("watch session %s not found", sessionID), "Watch session not found")
	}
	return sess, nil
}

// Progress feeds one playback sample through the gate and, once the session
// is eligible, drives the single reward claim.
func (svc *WatchService) Progress(ctx context.Context, telegramID int64, sessionID string, req dto.WatchProgressRequest) (*dto.WatchProgressResponse, error) {
	sess, err := svc.session(telegramID, sessionID)
	if err != nil {
		return nil, err
	}

	res := sess.Sample(req.Position, req.Ended)

	if res.ShouldClaim {
		svc.claimReward(ctx, sess)
		res.State = sess.State()
	}

	return &dto.WatchProgressResponse{
		State:        string(res.State),
		FarthestTime: res.FarthestTime,
		Clamped:      res.Clamped,
		SnapbackTime: res.SnapbackTime,
		CanClose:     res.State == WatchEligible || res.State == WatchClaimed,
	}, nil
}

// Close attempts to dismiss the session. Pre-threshold dismissal is refused
// unless forced; a forced close abandons the session with no reward.
func (svc *WatchService) Close(ctx context.Context, telegramID int64, sessionID string, req dto.CloseWatchSessionRequest) (*dto.CloseWatchSessionResponse, error) {
	sess, err := svc.session(telegramID, sessionID)
	if err != nil {
		return nil, err
	}

	decision := sess.RequestClose(req.Force)
	if !decision.Allowed {
		return &dto.CloseWatchSessionResponse{
			Closed:  false,
			State:   string(sess.State()),
			Message: decision.Message,
		}, nil
	}

	if decision.ShouldClaim {
		svc.claimReward(ctx, sess)
	}

	svc.mu.Lock()
	delete(svc.sessions, sessionID)
	svc.mu.Unlock()

	return &dto.CloseWatchSessionResponse{
		Closed: true,
		State:  string(sess.State()),
	}, nil
}

// claimReward reports the watched video to the remote ledger exactly once
// per session. A transport failure leaves the session eligible and the
// ledger untouched; the next progress or close event retries.
func (svc *WatchService) claimReward(ctx context.Context, sess *WatchSession) {
	if !sess.BeginClaim() {
		return
	}

	outcome, watched, err := svc.syncSvc.ReportVideoWatched(ctx, sess.TelegramID, sess.VideoID)
	if err != nil || outcome.Status != OutcomeOK {
		sess.FinishClaim(false)
		return
	}

	counters := map[string]int64{shared.CounterVideosWatched: watched.VideosWatched}
	rewardKey := shared.RewardKeyVideoPrefix + sess.ID

	if _, err := svc.ledgerSvc.ApplyConfirmedReward(ctx, sess.TelegramID, rewardKey, 0, counters); err != nil {
		log.WithFields(log.Fields{
			"telegram_id": sess.TelegramID,
			"session_id":  sess.ID,
			"error":       err.Error(),
		}).Error("Failed to persist confirmed video reward")

		// The server already counted the watch, so the session stays
		// claimed; re-hydrate so the local counters catch up instead of
		// going stale until the next login.
		if err := svc.ledgerSvc.Load(ctx, sess.TelegramID); err != nil {
			log.WithField("telegram_id", sess.TelegramID).WithError(err).Warn("Ledger re-hydration failed")
		}
	}

	sess.FinishClaim(true)
	observeWatchSessionClaimed()
}

func initDataKey(telegramID int64) string {
	return "initdata:" + strconv.FormatInt(telegramID, 10)
}

func envFloat(key string, fallback float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
