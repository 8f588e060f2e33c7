package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/adwatch/rewards_api/dto"
	"github.com/adwatch/rewards_api/shared"
)

// AuthService validates Telegram WebApp initData and exchanges it for a
// short-lived JWT the miniapp uses on every other endpoint.
type AuthService struct {
	appContext.DefaultService

	jwtSvc   *JWTService
	redisSvc *RedisService

	botToken   string
	initMaxAge time.Duration
}

const AUTH_SVC = "auth_svc"

func (svc AuthService) Id() string {
	return AUTH_SVC
}

func (svc *AuthService) Configure(ctx *appContext.Context) error {
	svc.botToken = os.Getenv("BOT_TOKEN")
	svc.initMaxAge = 24 * time.Hour
	return svc.DefaultService.Configure(ctx)
}

func (svc *AuthService) Start() error {
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)

	if svc.botToken == "" {
		return errors.New("BOT_TOKEN is not set")
	}
	return nil
}

// CreateSession validates initData, caches it as session proof for video
// fetches, and returns a JWT carrying the telegram id.
func (svc *AuthService) CreateSession(ctx context.Context, req dto.SessionRequest) (*dto.SessionResponse, error) {
	user, err := svc.ValidateInitData(req.InitData)
	if err != nil {
		return nil, shared.NewUnauthorizedError(err, "Invalid initData")
	}

	if err := svc.redisSvc.Set(ctx, initDataKey(user.ID), req.InitData, svc.jwtSvc.AccessTokenDuration); err != nil {
		log.WithError(err).Warn("Failed to cache initData session proof")
	}

	token, err := svc.jwtSvc.ToJWT(user.ID)
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to issue session token")
	}

	return &dto.SessionResponse{
		AccessToken: token,
		ExpiresIn:   int64(svc.jwtSvc.AccessTokenDuration.Seconds()),
		TelegramID:  user.ID,
	}, nil
}

// ValidateInitData checks the WebApp signature: the hex HMAC-SHA256 of the
// sorted key=value lines, keyed with HMAC-SHA256("WebAppData", botToken).
func (svc *AuthService) ValidateInitData(initData string) (*dto.TelegramUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("malformed initData: %w", err)
	}

	gotHash := values.Get("hash")
	if gotHash == "" {
		return nil, errors.New("initData has no hash")
	}
	values.Del("hash")

	pairs := make([]string, 0, len(values))
	for key := range values {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(svc.botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	wantHash := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(gotHash), []byte(wantHash)) != 1 {
		return nil, errors.New("initData signature mismatch")
	}

	if rawDate := values.Get("auth_date"); rawDate != "" {
		authDate, err := strconv.ParseInt(rawDate, 10, 64)
		if err != nil {
			return nil, errors.New("invalid auth_date")
		}
		if time.Since(time.Unix(authDate, 0)) > svc.initMaxAge {
			return nil, errors.New("initData expired")
		}
	}

	rawUser := values.Get("user")
	if rawUser == "" {
		return nil, errors.New("initData has no user")
	}

	var user dto.TelegramUser
	if err := sonic.Unmarshal([]byte(rawUser), &user); err != nil {
		return nil, fmt.Errorf("malformed user payload: %w", err)
	}
	if user.ID == 0 {
		return nil, errors.New("initData user has no id")
	}

	return &user, nil
}
