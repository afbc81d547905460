package storage

import (
	"context"
	"errors"
	"fmt"
	"swapgogo/backend/internal/config"
	"swapgogo/backend/internal/models"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the State Store consumed by the swap engine and the API.
// Multi-step mutations go through Atomically; everything else is a single statement.
type Storage interface {
	Atomically(ctx context.Context, fn func(tx Tx) error) error

	CreateChat(ctx context.Context, chat *models.ChatRoom, participantIDs []string) error
	GetChat(ctx context.Context, chatID string) (*models.ChatRoom, error)
	ChatIDsFor(ctx context.Context, userID string) ([]string, error)

	SaveUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	FindExpiredSessions(ctx context.Context, now time.Time) ([]models.SwapSession, error)
	DeactivateSession(ctx context.Context, id uint, now time.Time) (bool, error)
	FindExpiredChatIDs(ctx context.Context, now time.Time) ([]string, error)
	FindRequestChatIDs(ctx context.Context, requestedBefore time.Time) ([]string, error)
	PurgeExpiredClaims(ctx context.Context, now time.Time) (int64, error)
}

// Tx is the set of reads and writes available inside one atomic transaction.
type Tx interface {
	// LockChat loads the chat row and holds its lock until the transaction ends.
	LockChat(chatID string) (*models.ChatRoom, error)
	// GetChat loads the chat row without locking it.
	GetChat(chatID string) (*models.ChatRoom, error)
	// SaveChatSwap writes the swap columns of chat.
	SaveChatSwap(chat *models.ChatRoom) error

	ParticipantIDs(chatID string) ([]string, error)
	IsParticipant(chatID, userID string) (bool, error)
	GetUsers(userIDs []string) (map[string]models.User, error)

	LiveSessionsFor(userIDs []string, now time.Time) ([]models.SwapSession, error)
	DeactivateSessionsFor(userIDs []string) (int64, error)
	DeactivateChatSessions(chatID string) (int64, error)
	CreateSessions(sessions []models.SwapSession) error
	IncrementSessionCount(ownerID string, now time.Time) error

	ClaimParticipant(userID, chatID string, endsAt, now time.Time) (bool, error)
	ReleaseClaims(chatID string) error

	MessageCount(chatID, userID string, windowStart time.Time) (int, error)
	ConsumeMessageQuota(chatID, userID string, windowStart time.Time, limit int) (bool, error)
	PurgeMessageCounts(chatID string) error

	CreateMessage(msg *models.Message) error
}

// Service implements Storage on gorm and acts as the Redis pub/sub broker.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor. rdb may be nil for a single-instance deployment.
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// Now is the clock used for gorm timestamps: UTC at the precision PostgreSQL keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// OpenDB connects to PostgreSQL or SQLite depending on driver.
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		NowFunc: Now,
		Logger:  logger.Default.LogMode(logger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite has one writer; a single connection serializes transactions instead of failing them.
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	return db, nil
}

// Migrate creates or updates every table the backend uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.ChatRoom{},
		&models.ChatParticipant{},
		&models.SwapSession{},
		&models.SwapClaim{},
		&models.SwapMessageCount{},
		&models.Message{},
	)
}

// Atomically runs fn inside one transaction and retries the whole unit on
// transient conflicts (serialization failures, deadlocks, busy database).
func (s *Service) Atomically(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= config.MaxStoreTxAttempts; attempt++ {
		err = s.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			return fn(&txStore{db: db})
		})
		if err == nil {
			return nil
		}
		err = classify(err)
		if !errors.Is(err, ErrTransientConflict) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * config.StoreTxRetryBackoff):
		}
	}
	return fmt.Errorf("after %d attempts: %w", config.MaxStoreTxAttempts, err)
}

// CreateChat stores the chat and its participants in one transaction.
func (s *Service) CreateChat(ctx context.Context, chat *models.ChatRoom, participantIDs []string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(chat).Error; err != nil {
			return err
		}
		rows := make([]models.ChatParticipant, 0, len(participantIDs))
		for _, id := range participantIDs {
			rows = append(rows, models.ChatParticipant{ChatID: chat.ID, UserID: id, JoinedAt: Now()})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		chat.Participants = rows
		return nil
	})
}

// GetChat loads a chat with its participants.
func (s *Service) GetChat(ctx context.Context, chatID string) (*models.ChatRoom, error) {
	var chat models.ChatRoom
	err := s.DB.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("user_id") }).
		Where("id = ?", chatID).
		First(&chat).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &chat, nil
}

// ChatIDsFor returns the chats userID takes part in.
func (s *Service) ChatIDsFor(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.ChatParticipant{}).
		Where("user_id = ?", userID).
		Order("chat_id").
		Pluck("chat_id", &ids).Error
	return ids, err
}

// SaveUser зберігає користувача
func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	return s.DB.WithContext(ctx).Save(user).Error
}

// GetUserByUsername returns ErrNotFound when no user has that name.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}
