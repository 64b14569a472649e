package postgres

import (
	"context"
	"docsync-server/core"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DocumentRecord is the single row kept per document.
type DocumentRecord struct {
	ID        string    `gorm:"type:varchar(256);primaryKey"`
	Content   []byte    `gorm:"type:bytea"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (DocumentRecord) TableName() string {
	return "documents"
}

// RoomRecord tracks the last activity of a document room.
type RoomRecord struct {
	RoomID     string `gorm:"type:varchar(256);primaryKey"`
	LastActive int64  `gorm:"not null;index"`
}

func (RoomRecord) TableName() string {
	return "rooms"
}

type documentStore struct {
	db *gorm.DB
}

// NewDocumentStore connects to postgres and migrates the schema.
func NewDocumentStore(dsn string) (*documentStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return newDocumentStore(db)
}

func newDocumentStore(db *gorm.DB) (*documentStore, error) {
	if err := db.AutoMigrate(&DocumentRecord{}, &RoomRecord{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &documentStore{db: db}, nil
}

func (s *documentStore) LoadOrCreate(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	created := createIfAbsent(s.db.WithContext(ctx), id)
	if created.Error != nil {
		log.WithError(created.Error).Error("Failed to create document")
		return nil, fmt.Errorf("failed to create document: %w", created.Error)
	}
	if created.RowsAffected > 0 {
		log.Info("Document created successfully")
	}

	var record DocumentRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		log.WithError(err).Error("Failed to retrieve document")
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &core.Document{ID: record.ID, Content: record.Content}, nil
}

func (s *documentStore) Save(ctx context.Context, id string, content []byte) error {
	if err := upsert(s.db.WithContext(ctx), id, content).Error; err != nil {
		logrus.WithFields(logrus.Fields{"document_id": id, "error": err}).Error("Failed to save document")
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func createIfAbsent(tx *gorm.DB, id string) *gorm.DB {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&DocumentRecord{ID: id, Content: []byte{}})
}

func upsert(tx *gorm.DB, id string, content []byte) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(&DocumentRecord{ID: id, Content: content})
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_active"}),
		}).
		Create(&RoomRecord{RoomID: roomID, LastActive: time.Now().UnixMilli()}).Error
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	var records []RoomRecord
	err := s.db.WithContext(ctx).
		Order("last_active DESC").
		Order("room_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	rooms := make([]core.Room, 0, len(records))
	for _, r := range records {
		rooms = append(rooms, core.Room{ID: r.RoomID, LastActive: r.LastActive})
	}
	return rooms, nil
}

func (s *documentStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
