package main

import (
	"github.com/adwatch/rewards_api/middleware"
	"github.com/adwatch/rewards_api/services"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file loaded")
	}

	ctx, err := context.NewCtx(
		&services.JWTService{},
		&services.SqliteService{},
		&services.RedisService{},
		&services.MinIOService{},
		&services.MonitoringService{},
		&services.RemoteLedgerService{},

		&services.SyncService{},
		&services.LedgerService{},
		&services.WatchService{},
		&services.QuestService{},
		&services.AuthService{},

		&middleware.AuthMiddleware{},
		&middleware.RateLimitMiddleware{},

		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err)
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err)
		return
	}
}
