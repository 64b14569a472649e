package stores

import (
	"docsync-server/config"
	"docsync-server/core"
	"docsync-server/stores/aws"
	"docsync-server/stores/cached"
	"docsync-server/stores/filesystem"
	"docsync-server/stores/memory"
	"docsync-server/stores/pebble"
	"docsync-server/stores/postgres"
	"docsync-server/stores/sqlite"
	"fmt"

	"github.com/sirupsen/logrus"
)

func GetStore(cfg *config.Config) (core.DocumentStore, error) {
	var store core.DocumentStore

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "filesystem":
		storageField["basePath"] = cfg.LocalStoragePath
		store = filesystem.NewDocumentStore(cfg.LocalStoragePath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store = sqlite.NewDocumentStore(cfg.DataSourceName)
	case "s3":
		if cfg.S3BucketName == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = cfg.S3BucketName
		store = aws.NewDocumentStore(cfg.S3BucketName)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable must be set for postgres storage type")
		}
		pg, err := postgres.NewDocumentStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store = pg
	case "pebble":
		storageField["pebblePath"] = cfg.PebblePath
		kv, err := pebble.NewDocumentStore(cfg.PebblePath)
		if err != nil {
			return nil, err
		}
		store = kv
	case "", "memory":
		store = memory.NewDocumentStore()
		storageField["storageType"] = "in-memory"
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}

	if cfg.SnapshotCacheSize > 0 {
		c, err := cached.NewDocumentStore(store, cfg.SnapshotCacheSize)
		if err != nil {
			return nil, err
		}
		store = c
		storageField["snapshotCacheSize"] = cfg.SnapshotCacheSize
	}

	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
