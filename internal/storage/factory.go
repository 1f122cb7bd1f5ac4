package storage

import (
	"strings"

	"github.com/timmy/assetingest/internal/config"
)

// NewStorage creates an ObjectStorage instance based on the configuration.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	if cfg.IsLocal() {
		return NewLocalStorage(cfg.LocalDir)
	}

	storeType := StorageType(cfg.Type)
	if storeType == "" || storeType == "s3compatible" {
		storeType = detectStorageType(cfg.Endpoint)
	}

	return NewS3Storage(&S3Config{
		Type:      storeType,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Prefix:    cfg.Prefix,
	})
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
