// Package artifacts sinks handle completion reports (SPEC_FULL.md
// §10.2): a terse JSON operational record — handle id, task counts, wall
// time, per-VP utilization — written once a handle.Handle's completion
// callback fires. It is deliberately not a task-level trace or the .dot
// graph emitter spec.md's Non-goals exclude.
package artifacts

import (
	"context"
	"fmt"
	"io"
)

// Store is the object-storage boundary a completion report is written
// through, mirroring the teacher's storage.Storage interface shape.
type Store interface {
	Upload(ctx context.Context, key string, reader io.Reader) error
	UploadFile(ctx context.Context, key string, localPath string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	DownloadFile(ctx context.Context, key string, localPath string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetURL(key string) string
}

// Type selects a Store implementation.
type Type string

const (
	TypeLocal Type = "local"
	TypeCOS   Type = "cos"
)

// Config selects and parameterizes a Store.
type Config struct {
	Type      string `mapstructure:"type"` // "local" (default) or "cos"
	LocalPath string `mapstructure:"local_path"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
}

// NewStore builds a Store per cfg.
func NewStore(cfg *Config) (Store, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch Type(cfg.Type) {
	case "", TypeLocal:
		return NewLocalStore(cfg.LocalPath)
	case TypeCOS:
		return NewCOSStore(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		return NewLocalStore(cfg.LocalPath)
	}
}

// ValidateConfig validates cfg's fields for the selected Type.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("artifacts: config is nil")
	}

	t := Type(cfg.Type)
	if t == "" {
		t = TypeLocal
	}
	if t != TypeCOS && t != TypeLocal {
		return fmt.Errorf("artifacts: unsupported store type: %s", cfg.Type)
	}

	if t == TypeCOS {
		if cfg.Bucket == "" {
			return fmt.Errorf("artifacts: COS bucket is required")
		}
		if cfg.Region == "" {
			return fmt.Errorf("artifacts: COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return fmt.Errorf("artifacts: COS credentials are required")
		}
	}

	return nil
}
