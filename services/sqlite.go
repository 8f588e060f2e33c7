package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/adwatch/rewards_api/model"
)

type SqliteService struct {
	context.DefaultService
	db *gorm.DB

	database string
}

const SQLITE_SVC = "sqlite_svc"

// Id returns Service ID
func (ds SqliteService) Id() string {
	return SQLITE_SVC
}

// Db Access to raw SqliteService db
func (ds SqliteService) Db() *gorm.DB {
	return ds.db
}

// Configure the service
func (ds *SqliteService) Configure(ctx *context.Context) error {
	ds.database = os.Getenv("DB_DATABASE")
	if ds.database == "" {
		ds.database = "rewards.db"
	}

	return ds.DefaultService.Configure(ctx)
}

// Start the service and open connection to the database
// Migrate any tables that have changed since last runtime
func (ds *SqliteService) Start() (err error) {
	ds.db, err = gorm.Open(sqlite.Open(ds.database), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return err
	}

	models := []interface{}{
		&model.LedgerSnapshot{},
		&model.AppliedReward{},
	}

	err = ds.db.AutoMigrate(models...)
	if err != nil {
		log.Printf("Failed to migrate database: %v", err)
		return err
	}

	log.Println("Database connected and migrated successfully")
	return nil
}

func (ds *SqliteService) Shutdown() {
}

// ==================== LEDGER SNAPSHOT METHODS ====================

func (ds *SqliteService) GetLedgerSnapshot(telegramID int64) (*model.LedgerSnapshot, error) {
	var snapshot model.LedgerSnapshot
	if err := ds.db.First(&snapshot, "telegram_id = ?", telegramID).Error; err != nil {
		return nil, ds.HandleError(err)
	}
	return &snapshot, nil
}

func (ds *SqliteService) SaveLedgerSnapshot(snapshot *model.LedgerSnapshot) error {
	snapshot.UpdatedAt = time.Now()
	err := ds.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		UpdateAll: true,
	}).Create(snapshot).Error
	return ds.HandleError(err)
}

// ApplyReward records the reward key and updates the snapshot in one
// transaction. Returns (applied=false, nil) when the key was already
// recorded, so a duplicate confirmation never mutates the snapshot.
func (ds *SqliteService) ApplyReward(reward *model.AppliedReward, snapshot *model.LedgerSnapshot) (bool, error) {
	applied := false
	err := ds.db.Transaction(func(tx *gorm.DB) error {
		var existing model.AppliedReward
		err := tx.First(&existing, "telegram_id = ? AND reward_key = ?", reward.TelegramID, reward.RewardKey).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		reward.CreatedAt = time.Now()
		if err := tx.Create(reward).Error; err != nil {
			return err
		}

		snapshot.UpdatedAt = time.Now()
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "telegram_id"}},
			UpdateAll: true,
		}).Create(snapshot).Error; err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, ds.HandleError(err)
	}
	return applied, nil
}

func (ds *SqliteService) HasAppliedReward(telegramID int64, rewardKey string) (bool, error) {
	var count int64
	err := ds.db.Model(&model.AppliedReward{}).
		Where("telegram_id = ? AND reward_key = ?", telegramID, rewardKey).
		Count(&count).Error
	if err != nil {
		return false, ds.HandleError(err)
	}
	return count > 0, nil
}

func (ds *SqliteService) HandleError(err error) error {
	if err == nil {
		return nil
	}

	var statusCode int
	var errorType string

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		statusCode = http.StatusNotFound // 404
		errorType = "NOT_FOUND"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		statusCode = http.StatusConflict // 409
		errorType = "CONFLICT"
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		statusCode = http.StatusBadRequest // 400
		errorType = "FOREIGN_KEY_VIOLATION"
	case errors.Is(err, gorm.ErrInvalidTransaction):
		statusCode = http.StatusInternalServerError // 500
		errorType = "TRANSACTION_ERROR"
	default:
		// Check for SQLite-specific errors
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			statusCode = http.StatusConflict // 409
			errorType = "UNIQUE_CONSTRAINT"
		} else if strings.Contains(err.Error(), "no such table") {
			statusCode = http.StatusInternalServerError // 500
			errorType = "SCHEMA_ERROR"
		} else {
			statusCode = http.StatusInternalServerError // 500
			errorType = "INTERNAL_ERROR"
		}
	}

	logEntry := log.WithFields(log.Fields{
		"status_code": statusCode,
		"error_type":  errorType,
		"error":       err.Error(),
	})

	if statusCode >= 500 {
		logEntry.Error("Database error occurred")
	} else {
		logEntry.Warn("Database operation failed")
	}

	return fmt.Errorf("%s: %w", errorType, err)
}
