package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/civicmesh/presence/internal/common/config"

	"gorm.io/gorm"
)

// DB implements the Database interface on top of gorm
type DB struct {
	db  *gorm.DB
	cfg *config.DatabaseConfig
}

var _ Database = (*DB)(nil)

func newDB(cfg *config.DatabaseConfig, dialector gorm.Dialector) (*DB, error) {
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := gormDB.AutoMigrate(&User{}, &HelpRequest{}, &Message{}, &UserConnection{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &DB{db: gormDB, cfg: cfg}, nil
}

func ensureSQLiteDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *DB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	var user User
	err := d.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (d *DB) CreateUser(ctx context.Context, user *User) error {
	return d.db.WithContext(ctx).Create(user).Error
}

func (d *DB) CreateHelpRequest(ctx context.Context, req *HelpRequest) error {
	return d.db.WithContext(ctx).Create(req).Error
}

func (d *DB) GetHelpRequestByID(ctx context.Context, id int64) (*HelpRequest, error) {
	var req HelpRequest
	err := d.db.WithContext(ctx).First(&req, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (d *DB) SaveMessage(ctx context.Context, message *Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	return d.db.WithContext(ctx).Create(message).Error
}

func (d *DB) GetMessages(ctx context.Context, helpRequestID int64) ([]*Message, error) {
	var messages []*Message
	err := d.db.WithContext(ctx).
		Where("help_request_id = ?", helpRequestID).
		Order("created_at asc").
		Find(&messages).Error
	return messages, err
}

func (d *DB) InsertConnection(ctx context.Context, userID int64, connectionID string) error {
	record := &UserConnection{
		UserID:       userID,
		ConnectionID: connectionID,
		ConnectedAt:  time.Now(),
	}
	return d.db.WithContext(ctx).Create(record).Error
}

func (d *DB) DeleteConnectionByConnID(ctx context.Context, connectionID string) error {
	return d.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Delete(&UserConnection{}).Error
}

func (d *DB) ListConnections(ctx context.Context) ([]*UserConnection, error) {
	var records []*UserConnection
	err := d.db.WithContext(ctx).Find(&records).Error
	return records, err
}
