package sqlite

import (
	"context"
	"database/sql"
	"docsync-server/core"
	"time"

	stdlog "log"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

type documentStore struct {
	db *sql.DB
}

func NewDocumentStore(dataSourceName string) *documentStore {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		stdlog.Fatal(err)
	}

	// Create documents table
	sts := `CREATE TABLE IF NOT EXISTS documents (id TEXT PRIMARY KEY, data BLOB);`
	if _, err = db.Exec(sts); err != nil {
		stdlog.Fatal(err)
	}

	// Create rooms table
	roomsTable := `CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		last_active INTEGER NOT NULL
	);`
	if _, err = db.Exec(roomsTable); err != nil {
		stdlog.Fatal(err)
	}

	return &documentStore{db}
}

func (s *documentStore) LoadOrCreate(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	log.Debug("Retrieving document by ID")

	res, err := s.db.ExecContext(ctx, "INSERT INTO documents (id, data) VALUES (?, ?) ON CONFLICT(id) DO NOTHING", id, []byte{})
	if err != nil {
		log.WithField("error", err).Error("Failed to create document")
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Info("Document created successfully")
	}

	var data []byte
	err = s.db.QueryRowContext(ctx, "SELECT data FROM documents WHERE id = ?", id).Scan(&data)
	if err != nil {
		log.WithField("error", err).Error("Failed to retrieve document")
		return nil, err
	}

	log.Debug("Document retrieved successfully")
	return &core.Document{ID: id, Content: data}, nil
}

func (s *documentStore) Save(ctx context.Context, id string, content []byte) error {
	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": len(content),
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data",
		id, content)
	if err != nil {
		log.WithField("error", err).Error("Failed to save document")
		return err
	}

	log.Debug("Document saved successfully")
	return nil
}

// TouchRoom records the last activity of a document room.
func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (room_id, last_active) VALUES (?, ?) ON CONFLICT(room_id) DO UPDATE SET last_active = excluded.last_active",
		roomID, time.Now().UnixMilli())
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "error": err}).Error("Failed to touch room")
	}
	return err
}

// ListRooms returns every room ever touched, most recently active first.
func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT room_id, last_active FROM rooms ORDER BY last_active DESC, room_id ASC")
	if err != nil {
		logrus.WithField("error", err).Error("Failed to list rooms")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close room rows")
		}
	}()

	var rooms []core.Room
	for rows.Next() {
		var room core.Room
		if err := rows.Scan(&room.ID, &room.LastActive); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *documentStore) Close() error {
	return s.db.Close()
}
