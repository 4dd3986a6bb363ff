package services

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"time"

	"backend_dooh/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// ObjectStorage минимальный контракт S3 клиента
type ObjectStorage interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Uploader копирует файлы документов в бакет
type S3Uploader struct {
	Client ObjectStorage
	Bucket string
	Region string
}

// NewS3Uploader создает клиент S3 со статическими ключами
func NewS3Uploader(ctx context.Context, cfg config.DocumentsConfig) (*S3Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Uploader{
		Client: s3.NewFromConfig(sdkConfig),
		Bucket: cfg.S3Bucket,
		Region: cfg.S3Region,
	}, nil
}

// Upload загружает объект под ключом key
func (u *S3Uploader) Upload(ctx context.Context, key string, body io.Reader) error {
	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return nil
}

// Delete удаляет объект
func (u *S3Uploader) Delete(ctx context.Context, key string) error {
	_, err := u.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete S3 object: %w", err)
	}
	return nil
}

// DefaultMirrorPrefix префикс ключей документов в бакете
const DefaultMirrorPrefix = "documents/"

// MirroredFileStore сохраняет файлы локально и дублирует их в S3 под ключом Prefix + <entity_type>s/<id>/<uuid>.<ext>.
// Локальная копия остается источником истины, сбой зеркала только логируется.
type MirroredFileStore struct {
	Local    *LocalFileStore
	Uploader *S3Uploader
	Prefix   string
	Timeout  time.Duration
	log      zerolog.Logger
}

// NewMirroredFileStore создает хранилище с зеркалом
func NewMirroredFileStore(local *LocalFileStore, uploader *S3Uploader, log zerolog.Logger) *MirroredFileStore {
	return &MirroredFileStore{
		Local:    local,
		Uploader: uploader,
		Prefix:   DefaultMirrorPrefix,
		Timeout:  30 * time.Second,
		log:      log.With().Str("component", "s3_mirror").Logger(),
	}
}

func (m *MirroredFileStore) Save(entityType, entityID, fileName string, r io.Reader) (*StoredFile, error) {
	stored, err := m.Local.Save(entityType, entityID, fileName, r)
	if err != nil {
		return nil, err
	}

	f, err := m.Local.Open(stored.Path)
	if err != nil {
		m.log.Warn().Err(err).Str("key", stored.Key).Msg("mirror skipped")
		return stored, nil
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), m.Timeout)
	defer cancel()
	if err := m.Uploader.Upload(ctx, m.Prefix+stored.Key, f); err != nil {
		m.log.Warn().Err(err).Str("key", stored.Key).Msg("mirror upload failed")
	}
	return stored, nil
}

func (m *MirroredFileStore) Open(path string) (io.ReadCloser, error) {
	return m.Local.Open(path)
}

func (m *MirroredFileStore) Remove(path string) error {
	if err := m.Local.Remove(path); err != nil {
		return err
	}

	key, err := m.Local.KeyFor(path)
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.Timeout)
	defer cancel()
	if err := m.Uploader.Delete(ctx, m.Prefix+key); err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("mirror delete failed")
	}
	return nil
}
