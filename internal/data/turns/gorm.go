package turns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/platform/envutil"
	"github.com/yungbote/kg-sidecar/internal/platform/logger"
)

// TurnRecord is the row shape for a processed turn. Request and Result are
// stored as JSON so the schema survives pipeline changes.
type TurnRecord struct {
	TurnID         string         `gorm:"primaryKey;column:turn_id"`
	ConversationID string         `gorm:"column:conversation_id;index"`
	Status         string         `gorm:"column:status"`
	Request        datatypes.JSON `gorm:"column:request"`
	Result         datatypes.JSON `gorm:"column:result"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (TurnRecord) TableName() string { return "kg_turn_records" }

type GormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// OpenFromEnv builds a gorm-backed store from TURNS_DB_DRIVER. "postgres"
// connects with TURNS_DB_DSN, "sqlite" opens TURNS_DB_PATH; anything else
// returns nil so the caller falls back to the memory store.
func OpenFromEnv(log *logger.Logger) (*GormStore, error) {
	driver := envutil.Str("TURNS_DB_DRIVER", "")
	switch driver {
	case "postgres":
		dsn := envutil.Str("TURNS_DB_DSN", "")
		if dsn == "" {
			return nil, errors.New("TURNS_DB_DRIVER=postgres requires TURNS_DB_DSN")
		}
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open postgres turn store: %w", err)
		}
		return NewGormStore(db, log)
	case "sqlite":
		path := envutil.Str("TURNS_DB_PATH", "kg-sidecar.db")
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open sqlite turn store: %w", err)
		}
		return NewGormStore(db, log)
	default:
		return nil, nil
	}
}

func NewGormStore(db *gorm.DB, log *logger.Logger) (*GormStore, error) {
	if err := db.AutoMigrate(&TurnRecord{}); err != nil {
		return nil, fmt.Errorf("migrate turn records: %w", err)
	}
	return &GormStore{db: db, log: log.With("store", "TurnStore")}, nil
}

func (s *GormStore) SaveRequest(ctx context.Context, req *domain.TurnRequest) error {
	if req == nil || req.TurnID == "" {
		return nil
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	record := TurnRecord{
		TurnID:         req.TurnID,
		ConversationID: req.ConversationID,
		Status:         domain.StateReceived,
		Request:        datatypes.JSON(raw),
		UpdatedAt:      time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "turn_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"conversation_id", "request", "updated_at"}),
		}).
		Create(&record).Error
}

func (s *GormStore) GetRequest(ctx context.Context, turnID string) (*domain.TurnRequest, error) {
	record, err := s.fetch(ctx, turnID)
	if err != nil || record == nil || len(record.Request) == 0 {
		return nil, err
	}
	var req domain.TurnRequest
	if err := json.Unmarshal(record.Request, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *GormStore) SaveResult(ctx context.Context, result *domain.TurnResult) error {
	if result == nil || result.TurnID == "" {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	record := TurnRecord{
		TurnID:         result.TurnID,
		ConversationID: result.ConversationID,
		Status:         result.Commit.Status,
		Result:         datatypes.JSON(raw),
		UpdatedAt:      time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "turn_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "result", "updated_at"}),
		}).
		Create(&record).Error
}

func (s *GormStore) GetResult(ctx context.Context, turnID string) (*domain.TurnResult, error) {
	record, err := s.fetch(ctx, turnID)
	if err != nil || record == nil || len(record.Result) == 0 {
		return nil, err
	}
	var result domain.TurnResult
	if err := json.Unmarshal(record.Result, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *GormStore) fetch(ctx context.Context, turnID string) (*TurnRecord, error) {
	if turnID == "" {
		return nil, nil
	}
	var record TurnRecord
	err := s.db.WithContext(ctx).Where("turn_id = ?", turnID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
