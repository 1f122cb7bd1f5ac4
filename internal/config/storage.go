package config

import (
	"fmt"
	"os"
)

// StorageConfig selects and configures the object storage backend.
type StorageConfig struct {
	Type         string `mapstructure:"type"`      // local, s3, r2, s3compatible
	LocalDir     string `mapstructure:"local_dir"` // root directory for the local backend
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	AccessKeyEnv string `mapstructure:"access_key_env"` // env var holding the access key
	SecretKey    string `mapstructure:"secret_key"`
	SecretKeyEnv string `mapstructure:"secret_key_env"` // env var holding the secret key
	UseSSL       bool   `mapstructure:"use_ssl"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Prefix       string `mapstructure:"prefix"` // key prefix inside the bucket
}

// IsLocal reports whether files are kept on the local filesystem.
func (c *StorageConfig) IsLocal() bool {
	return c.Type == "" || c.Type == "local"
}

// ResolveEnvVars loads credentials from the referenced environment variables.
// Direct values take precedence if already set.
func (c *StorageConfig) ResolveEnvVars() {
	if c.AccessKeyEnv != "" && c.AccessKey == "" {
		c.AccessKey = os.Getenv(c.AccessKeyEnv)
	}
	if c.SecretKeyEnv != "" && c.SecretKey == "" {
		c.SecretKey = os.Getenv(c.SecretKeyEnv)
	}
}

// Validate checks that the selected backend has what it needs.
func (c *StorageConfig) Validate() error {
	switch c.Type {
	case "", "local":
		if c.LocalDir == "" {
			return fmt.Errorf("storage: local_dir is required for the local backend")
		}
	case "s3", "r2", "s3compatible":
		if c.Endpoint == "" {
			return fmt.Errorf("storage %q: endpoint is required", c.Type)
		}
		if c.Bucket == "" {
			return fmt.Errorf("storage %q: bucket is required", c.Type)
		}
		if c.AccessKey == "" || c.SecretKey == "" {
			return fmt.Errorf("storage %q: access_key and secret_key are required (set directly or via %s/%s)",
				c.Type, c.AccessKeyEnv, c.SecretKeyEnv)
		}
	default:
		return fmt.Errorf("storage: unknown type %q", c.Type)
	}
	return nil
}
