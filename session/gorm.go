package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/finagents/loanflow/agent/conversation"
)

// DatabaseConfig configures the relational backend.
type DatabaseConfig struct {
	// Driver is one of "sqlite", "postgres", "mysql".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the driver-specific connection string. For sqlite,
	// ":memory:" or a file path.
	DSN string `yaml:"dsn" json:"dsn"`
}

// sessionRow is the committed context row.
type sessionRow struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Slots     []byte `gorm:"type:bytes"`
	Active    string `gorm:"size:32"`
	TurnCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sessionRow) TableName() string { return "loan_sessions" }

// turnRow is one entry of a session's turn history.
type turnRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index:idx_turns_session;size:64"`
	TurnIndex int
	Role      string `gorm:"size:16"`
	Text      string `gorm:"type:text"`
	AgentID   string `gorm:"size:32"`
	State     string `gorm:"size:32"`
	Verdict   string `gorm:"size:32"`
	Directive string `gorm:"size:256"`
	Timestamp time.Time
}

func (turnRow) TableName() string { return "loan_session_turns" }

// GormStore persists sessions in a relational database through gorm.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore opens the configured database and migrates the schema.
func NewGormStore(cfg DatabaseConfig, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	if err := db.AutoMigrate(&sessionRow{}, &turnRow{}); err != nil {
		return nil, fmt.Errorf("migrate session schema: %w", err)
	}

	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "session.gorm"), zap.String("driver", cfg.Driver)),
	}, nil
}

// Load implements Store.
func (g *GormStore) Load(ctx context.Context, sessionID string) (*conversation.Context, error) {
	var row sessionRow
	err := g.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	slots := conversation.NewSlotSet()
	if len(row.Slots) > 0 {
		if err := json.Unmarshal(row.Slots, &slots); err != nil {
			return nil, fmt.Errorf("decode slots of session %s: %w", sessionID, err)
		}
	}

	var turnRows []turnRow
	if err := g.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("turn_index asc").
		Find(&turnRows).Error; err != nil {
		return nil, fmt.Errorf("load turns %s: %w", sessionID, err)
	}

	convo := &conversation.Context{
		SessionID: sessionID,
		Slots:     slots,
		Active:    row.Active,
		TurnCount: row.TurnCount,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	convo.Turns = make([]conversation.Turn, 0, len(turnRows))
	for _, tr := range turnRows {
		convo.Turns = append(convo.Turns, conversation.Turn{
			Index:     tr.TurnIndex,
			Role:      conversation.Role(tr.Role),
			Text:      tr.Text,
			AgentID:   tr.AgentID,
			State:     tr.State,
			Verdict:   tr.Verdict,
			Directive: tr.Directive,
			Timestamp: tr.Timestamp.UTC(),
		})
	}
	return convo, nil
}

// AppendTurn implements Store.
func (g *GormStore) AppendTurn(ctx context.Context, sessionID string, turn conversation.Turn) error {
	row := turnRow{
		SessionID: sessionID,
		TurnIndex: turn.Index,
		Role:      string(turn.Role),
		Text:      turn.Text,
		AgentID:   turn.AgentID,
		State:     turn.State,
		Verdict:   turn.Verdict,
		Directive: turn.Directive,
		Timestamp: turn.Timestamp,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append turn %s: %w", sessionID, err)
	}
	return nil
}

// Commit implements Store.
func (g *GormStore) Commit(ctx context.Context, sessionID string, convo *conversation.Context) error {
	slots, err := json.Marshal(convo.Slots)
	if err != nil {
		return fmt.Errorf("encode slots of session %s: %w", sessionID, err)
	}
	row := sessionRow{
		SessionID: sessionID,
		Slots:     slots,
		Active:    convo.Active,
		TurnCount: convo.TurnCount,
		CreatedAt: convo.CreatedAt,
		UpdatedAt: convo.UpdatedAt,
	}
	if err := g.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("commit session %s: %w", sessionID, err)
	}
	return nil
}

// Ping implements Store.
func (g *GormStore) Ping(ctx context.Context) error {
	db, err := g.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close implements Store.
func (g *GormStore) Close() error {
	db, err := g.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
