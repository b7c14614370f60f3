package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"goalcoach/internal/gateway/config"
	"goalcoach/internal/memory"
)

const storeConnectTimeout = 5 * time.Second

// openPersister picks postgres when a DSN is configured and reachable, otherwise the JSON
// file, and mirrors either one to S3 when the snapshot bucket is fully configured.
func openPersister(ctx context.Context, cfg *config.Config, logger *zap.Logger) (memory.Persister, func() error, error) {
	closer := func() error { return nil }

	var primary memory.Persister
	if dsn := strings.TrimSpace(cfg.Store.PostgresDSN); dsn != "" {
		pingCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
		pg, err := memory.NewPostgresPersister(pingCtx, dsn)
		cancel()
		if err != nil {
			logger.Warn("postgres store unavailable, falling back to file",
				zap.String("path", cfg.Store.Path), zap.Error(err))
		} else {
			primary = pg
			closer = pg.Close
		}
	}
	if primary == nil {
		primary = memory.NewFilePersister(cfg.Store.Path)
	}

	s3Cfg := memory.S3Config{
		Endpoint:  cfg.Snapshot.Endpoint,
		Region:    cfg.Snapshot.Region,
		AccessKey: cfg.Snapshot.AccessKey,
		SecretKey: cfg.Snapshot.SecretKey,
		Bucket:    cfg.Snapshot.Bucket,
		Object:    cfg.Snapshot.Object,
		UseSSL:    cfg.Snapshot.UseSSL,
	}
	if !s3Cfg.Complete() {
		if s3Cfg.Endpoint != "" {
			logger.Info("snapshot mirror disabled (s3 config incomplete)")
		}
		logger.Info("conversation store", zap.String("backend", primary.Name()))
		return primary, closer, nil
	}
	snapshots, err := memory.NewS3Snapshots(s3Cfg)
	if err != nil {
		_ = closer()
		return nil, nil, fmt.Errorf("failed to initialize snapshot mirror: %w", err)
	}
	mirrored := memory.NewMirrorPersister(primary, snapshots, logger)
	logger.Info("conversation store",
		zap.String("backend", mirrored.Name()),
		zap.String("bucket", s3Cfg.Bucket),
		zap.String("endpoint", s3Cfg.Endpoint))
	return mirrored, closer, nil
}
