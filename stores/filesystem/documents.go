package filesystem

import (
	"context"
	"docsync-server/core"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

type documentStore struct {
	basePath string
}

// NewDocumentStore stores one file per document below basePath.
func NewDocumentStore(basePath string) *documentStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &documentStore{basePath: basePath}
}

func (s *documentStore) documentPath(id string) (string, error) {
	if err := core.ValidateDocumentID(id); err != nil {
		return "", fmt.Errorf("document %q: %w", id, err)
	}
	return filepath.Join(s.basePath, id), nil
}

func (s *documentStore) LoadOrCreate(ctx context.Context, id string) (*core.Document, error) {
	filePath, err := s.documentPath(id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"document_id": id, "file_path": filePath})

	data, err := os.ReadFile(filePath)
	if err == nil {
		log.Debug("Document retrieved successfully")
		return &core.Document{ID: id, Content: data}, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}

	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		// Lost the creation race, read what the winner wrote.
		data, err = os.ReadFile(filePath)
		if err != nil {
			log.WithError(err).Error("Failed to retrieve document")
			return nil, err
		}
		return &core.Document{ID: id, Content: data}, nil
	}
	if err != nil {
		log.WithError(err).Error("Failed to create document")
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	log.Info("Document created successfully")
	return &core.Document{ID: id}, nil
}

// Save writes to a temporary file and renames it over the document so readers
// never observe a partially written snapshot.
func (s *documentStore) Save(ctx context.Context, id string, content []byte) error {
	filePath, err := s.documentPath(id)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"file_path":   filePath,
		"data_length": len(content),
	})

	tmp, err := os.CreateTemp(s.basePath, ".docsync-*")
	if err != nil {
		log.WithError(err).Error("Failed to save document")
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		log.WithError(err).Error("Failed to save document")
		return err
	}
	if err := tmp.Close(); err != nil {
		log.WithError(err).Error("Failed to save document")
		return err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		log.WithError(err).Error("Failed to save document")
		return err
	}

	log.Debug("Document saved successfully")
	return nil
}
