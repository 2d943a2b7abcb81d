package app

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"shelfpilot/internal/gateway/config"
	"shelfpilot/internal/gateway/repository/storage"
)

func initStore(cfg *config.Config) (storage.Store, error) {
	s3Store, err := storage.NewS3Store(storage.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	log.Info().Str("bucket", cfg.Storage.Bucket).Str("endpoint", cfg.Storage.Endpoint).Msg("artifact store ready")

	return storage.NewCachedStore(s3Store, storage.DefaultCacheConfig()), nil
}
