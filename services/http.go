package services

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	log "github.com/sirupsen/logrus"

	_ "github.com/adwatch/rewards_api/docs"
	"github.com/adwatch/rewards_api/services/handlers"
	"github.com/adwatch/rewards_api/shared"
)

// AuthGuard and RateLimiter are implemented by the middleware services; kept
// as local interfaces so the http service does not import the middleware
// package back.
type AuthGuard interface {
	RequiredAuth() fiber.Handler
}

type RateLimiter interface {
	Limit(scope string) fiber.Handler
}

type HttpService struct {
	context.DefaultService

	authSvc       *AuthService
	questSvc      *QuestService
	watchSvc      *WatchService
	ledgerSvc     *LedgerService
	monitoringSvc *MonitoringService

	port int
	app  *fiber.App
}

const HTTP_SVC = "http_svc"

const (
	authMiddlewareID      = "auth"
	rateLimitMiddlewareID = "rate_limit"
)

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *context.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.authSvc = svc.Service(AUTH_SVC).(*AuthService)
	svc.questSvc = svc.Service(QUEST_SVC).(*QuestService)
	svc.watchSvc = svc.Service(WATCH_SVC).(*WatchService)
	svc.ledgerSvc = svc.Service(LEDGER_SVC).(*LedgerService)
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)

	authGuard := svc.Service(authMiddlewareID).(AuthGuard)
	rateLimiter := svc.Service(rateLimitMiddlewareID).(RateLimiter)

	app := fiber.New(fiber.Config{
		AppName:      "adwatch rewards api",
		JSONEncoder:  shared.JSONEncoder,
		JSONDecoder:  shared.JSONDecoder,
		ErrorHandler: svc.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(svc.monitoringSvc.RequestMetrics())

	app.Get("/ping", svc.ping)
	app.Get("/swagger/*", swagger.HandlerDefault)

	authHandler := handlers.NewAuthHandler(svc.authSvc)
	questHandler := handlers.NewQuestHandler(svc.questSvc)
	videoHandler := handlers.NewVideoHandler(svc.watchSvc)
	walletHandler := handlers.NewWalletHandler(svc.ledgerSvc)

	v1 := app.Group("/api/v1")
	v1.Get("/ping", svc.ping)
	v1.Post("/auth/session", authHandler.CreateSession)

	authed := v1.Group("", authGuard.RequiredAuth())
	authed.Get("/quests", questHandler.ListQuests)
	authed.Post("/quests/:id/interact", rateLimiter.Limit("interact"), questHandler.Interact)
	authed.Get("/wallet", walletHandler.GetWallet)
	authed.Post("/wallet/refresh", walletHandler.RefreshWallet)
	authed.Post("/videos/session", rateLimiter.Limit("video"), videoHandler.OpenSession)
	authed.Post("/videos/session/:id/progress", videoHandler.Progress)
	authed.Post("/videos/session/:id/close", videoHandler.Close)

	svc.app = app

	log.WithField("port", svc.port).Info("HTTP service listening")
	return app.Listen(fmt.Sprintf(":%d", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.app != nil {
		_ = svc.app.Shutdown()
	}
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Accept  json
// @Produce json
// @Success 200 {object} shared.Response{data=string}
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "max-age=10")

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", "pong")
}

func (svc *HttpService) handleError(c *fiber.Ctx, err error) error {
	if err == nil {
		return nil
	}

	if appErr, ok := shared.GetAppError(err); ok {
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return shared.ResponseJSON(c, fiberErr.Code, fiberErr.Message, nil)
	}

	return shared.ResponseInternalError(c, err)
}
