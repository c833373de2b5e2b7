package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/archibridge/archibridge/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store persists users, cached credentials, session artifacts and the
// mirrored ERP entities in a single SQLite database.
type Store struct {
	db     *gorm.DB
	box    *secretBox
	logger *slog.Logger
}

// Config configures a Store.
type Config struct {
	Path string

	// CredentialKey is a 64-char hex AES-256 key for cached ERP secrets.
	// When empty, secrets are stored as-is.
	CredentialKey string

	Logger *slog.Logger
}

// New opens (and if needed creates) the database at cfg.Path.
func New(cfg Config) (*Store, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		PrepareStmt: false,
		NowFunc:     func() time.Time { return time.Now().UTC() },
		Logger:      newGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL so sync jobs can write while the dashboard reads.
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA synchronous=NORMAL")
	db.Exec("PRAGMA foreign_keys=ON")

	if err := db.AutoMigrate(
		&models.User{},
		&models.Credential{},
		&models.SessionArtifact{},
		&models.Customer{},
		&models.Product{},
		&models.PriceEntry{},
		&models.Order{},
		&models.DDT{},
		&models.Invoice{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(0)

	var box *secretBox
	if cfg.CredentialKey != "" {
		box, err = newSecretBox(cfg.CredentialKey)
		if err != nil {
			return nil, fmt.Errorf("invalid credential key: %w", err)
		}
	} else {
		log.Warn("CREDENTIAL_KEY not set, cached ERP secrets are stored unencrypted")
	}

	return &Store{db: db, box: box, logger: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a new user with a generated id.
func (s *Store) CreateUser(ctx context.Context, username, displayName string, isAdmin bool) (*models.User, error) {
	user := &models.User{
		ID:          uuid.New().String(),
		Username:    username,
		DisplayName: displayName,
		IsAdmin:     isAdmin,
	}
	err := withRetry(func() error {
		return s.db.WithContext(ctx).Create(user).Error
	}, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// EnsureAdmin seeds an administrator on first run. It is a no-op when any
// user already exists.
func (s *Store) EnsureAdmin(ctx context.Context, username, displayName string) (*models.User, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil, nil
	}
	user, err := s.CreateUser(ctx, username, displayName, true)
	if err != nil {
		return nil, err
	}
	s.logger.Info("seeded admin user", "username", username, "id", user.ID)
	return user, nil
}

// UserByID looks a user up by id.
func (s *Store) UserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// FirstAdmin returns the id of the oldest administrator account, used as
// the fallback identity for unattended sync runs.
func (s *Store) FirstAdmin(ctx context.Context) (string, bool, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("is_admin = ?", true).
		Order("created_at ASC").
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up admin: %w", err)
	}
	return user.ID, true, nil
}

// SaveCredential caches a user's ERP secret, sealing it when a key is set.
func (s *Store) SaveCredential(ctx context.Context, userID, secret string) error {
	sealed, err := s.box.seal(secret)
	if err != nil {
		return fmt.Errorf("failed to seal credential: %w", err)
	}
	cred := &models.Credential{UserID: userID, Secret: sealed}
	return withRetry(func() error {
		return s.db.WithContext(ctx).Save(cred).Error
	}, 3)
}

// CredentialSecret returns the cached ERP secret for a user. The second
// return value is false when no secret has been cached.
func (s *Store) CredentialSecret(ctx context.Context, userID string) (string, bool, error) {
	var cred models.Credential
	err := s.db.WithContext(ctx).First(&cred, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load credential: %w", err)
	}
	secret, err := s.box.open(cred.Secret)
	if err != nil {
		return "", false, fmt.Errorf("failed to unseal credential: %w", err)
	}
	return secret, true, nil
}

// ClearCredential drops a user's cached secret.
func (s *Store) ClearCredential(ctx context.Context, userID string) error {
	return withRetry(func() error {
		return s.db.WithContext(ctx).Delete(&models.Credential{}, "user_id = ?", userID).Error
	}, 3)
}

// SaveArtifacts persists a user's cookie jar for reuse by the next login.
func (s *Store) SaveArtifacts(ctx context.Context, userID string, cookies []models.Cookie) error {
	data, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	artifact := &models.SessionArtifact{
		UserID:  userID,
		Cookies: string(data),
		SavedAt: time.Now().UTC(),
	}
	return withRetry(func() error {
		return s.db.WithContext(ctx).Save(artifact).Error
	}, 3)
}

// LoadArtifacts returns the persisted cookie jar for a user, if any.
func (s *Store) LoadArtifacts(ctx context.Context, userID string) ([]models.Cookie, bool, error) {
	var artifact models.SessionArtifact
	err := s.db.WithContext(ctx).First(&artifact, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session artifact: %w", err)
	}
	var cookies []models.Cookie
	if err := json.Unmarshal([]byte(artifact.Cookies), &cookies); err != nil {
		return nil, false, fmt.Errorf("failed to decode cookies: %w", err)
	}
	return cookies, true, nil
}

// ClearArtifacts removes a user's persisted browser state.
func (s *Store) ClearArtifacts(ctx context.Context, userID string) error {
	return withRetry(func() error {
		return s.db.WithContext(ctx).Delete(&models.SessionArtifact{}, "user_id = ?", userID).Error
	}, 3)
}

// withRetry retries fn on SQLite busy/locked errors with a linear backoff.
func withRetry(fn func() error, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}

		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
			time.Sleep(time.Millisecond * time.Duration(50*(i+1)))
			continue
		}

		return err
	}
	return fmt.Errorf("operation failed after %d retries", maxRetries)
}

// gormLogger adapts gorm's logging to slog.
type gormLogger struct {
	log   *slog.Logger
	level logger.LogLevel
}

func newGormLogger(log *slog.Logger) logger.Interface {
	return &gormLogger{log: log, level: logger.Warn}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &gormLogger{log: l.log, level: level}
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		l.log.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		l.log.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		l.log.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		sql, rows := fc()
		l.log.Error("query failed", "error", err, "duration", elapsed, "sql", sql, "rows", rows)
		return
	}
	if elapsed > 200*time.Millisecond {
		sql, rows := fc()
		l.log.Warn("slow query", "duration", elapsed, "sql", sql, "rows", rows)
	}
}
