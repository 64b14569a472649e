package aws

import (
	"bytes"
	"context"
	"docsync-server/core"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "documents/"

// objectAPI is the subset of the S3 client the store uses.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Store struct {
	s3Client objectAPI
	bucket   string
}

// NewDocumentStore creates a new S3-based store.
func NewDocumentStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

func documentKey(id string) (string, error) {
	if err := core.ValidateDocumentID(id); err != nil {
		return "", fmt.Errorf("document %q: %w", id, err)
	}
	return keyPrefix + id, nil
}

// LoadOrCreate treats a missing object as an empty document without writing
// one. S3 has no create-if-absent here, and an eager empty put could land after
// a concurrent Save and erase it; the object appears on the first save instead.
func (s *s3Store) LoadOrCreate(ctx context.Context, id string) (*core.Document, error) {
	key, err := documentKey(id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"document_id": id, "bucket": s.bucket})

	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Info("Document not stored yet, using empty document")
			return &core.Document{ID: id}, nil
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, fmt.Errorf("failed to get document with id %s: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document data: %w", err)
	}

	log.Debug("Document retrieved successfully")
	return &core.Document{ID: id, Content: data}, nil
}

func (s *s3Store) Save(ctx context.Context, id string, content []byte) error {
	key, err := documentKey(id)
	if err != nil {
		return err
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{"document_id": id, "error": err}).Error("Failed to save document")
		return fmt.Errorf("failed to upload document %s: %w", id, err)
	}
	return nil
}
