package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"goalcoach/internal/conversation"
	"goalcoach/internal/logging"
)

var errSnapshotNotFound = errors.New("snapshot not found")

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Object    string
	UseSSL    bool
}

// Complete reports whether enough is configured to reach a bucket.
func (c S3Config) Complete() bool {
	return strings.TrimSpace(c.Endpoint) != "" &&
		strings.TrimSpace(c.AccessKey) != "" &&
		strings.TrimSpace(c.SecretKey) != "" &&
		strings.TrimSpace(c.Bucket) != ""
}

// ObjectStore is the slice of an S3 client the mirror needs.
type ObjectStore interface {
	PutSnapshot(ctx context.Context, content []byte) error
	GetSnapshot(ctx context.Context) ([]byte, error)
}

type S3Snapshots struct {
	client      *minio.Client
	bucket      string
	region      string
	object      string
	bucketReady readyOnce
}

// readyOnce runs setup until it succeeds once. Failures are not remembered, so a bucket
// that was unreachable at startup is retried on the next write.
type readyOnce struct {
	mu    sync.Mutex
	ready bool
}

func (o *readyOnce) Do(setup func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ready {
		return nil
	}
	if err := setup(); err != nil {
		return err
	}
	o.ready = true
	return nil
}

func NewS3Snapshots(cfg S3Config) (*S3Snapshots, error) {
	if !cfg.Complete() {
		return nil, fmt.Errorf("s3 endpoint, credentials and bucket are required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	object := strings.TrimLeft(strings.TrimSpace(cfg.Object), "/")
	if object == "" {
		object = "conversation/conversationStore.json"
	}
	client, err := minio.New(strings.TrimSpace(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Snapshots{
		client: client,
		bucket: strings.TrimSpace(cfg.Bucket),
		region: region,
		object: object,
	}, nil
}

func (s *S3Snapshots) ensureBucket(ctx context.Context) error {
	return s.bucketReady.Do(func() error {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
}

func (s *S3Snapshots) PutSnapshot(ctx context.Context, content []byte) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.object, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (s *S3Snapshots) GetSnapshot(ctx context.Context) ([]byte, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.object, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NoSuchBucket" {
			return nil, errSnapshotNotFound
		}
		return nil, err
	}
	return data, nil
}

// MirrorPersister writes through to a primary persister and copies every document to an
// object store. When the primary holds nothing on startup the mirror is used to restore.
type MirrorPersister struct {
	primary Persister
	mirror  ObjectStore
	logger  *zap.Logger
}

func NewMirrorPersister(primary Persister, mirror ObjectStore, logger *zap.Logger) *MirrorPersister {
	return &MirrorPersister{primary: primary, mirror: mirror, logger: logging.OrNop(logger)}
}

func (m *MirrorPersister) Name() string { return m.primary.Name() + "+s3" }

func (m *MirrorPersister) Load(ctx context.Context) (map[string]conversation.State, error) {
	rows, err := m.primary.Load(ctx)
	if err == nil && len(rows) > 0 {
		return rows, nil
	}
	raw, mirrorErr := m.mirror.GetSnapshot(ctx)
	if mirrorErr != nil {
		if !errors.Is(mirrorErr, errSnapshotNotFound) {
			m.logger.Warn("snapshot mirror read failed", zap.Error(mirrorErr))
		}
		return rows, err
	}
	restored, decodeErr := decodeDocument(raw)
	if decodeErr != nil {
		m.logger.Warn("snapshot mirror is corrupt", zap.Error(decodeErr))
		return rows, err
	}
	m.logger.Info("conversation memory restored from snapshot mirror", zap.Int("users", len(restored)))
	return restored, nil
}

func (m *MirrorPersister) Save(ctx context.Context, rows map[string]conversation.State) error {
	if err := m.primary.Save(ctx, rows); err != nil {
		return err
	}
	raw, err := encodeDocument(rows)
	if err != nil {
		return err
	}
	if err := m.mirror.PutSnapshot(ctx, raw); err != nil {
		m.logger.Warn("snapshot mirror write failed", zap.Error(err))
	}
	return nil
}
