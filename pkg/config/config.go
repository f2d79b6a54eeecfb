// Package config turns key/value settings into the explicit configuration the CLI and
// the storage layer run with.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/DrSkyle/cloudblob/pkg/storage"
)

// Setting keys.
const (
	KeyConnectionString = "StorageConnectionString"
	KeyContainer        = "Container"
	KeyLogContainer     = "LogContainer"
	KeyBlockBlobName    = "BlockBlobName"
	KeyAppendBlobName   = "AppendBlobName"
	KeyUploadPath       = "UploadPath"
	KeyDownloadPath     = "DownloadPath"
	KeyPageSize         = "PageSize"
	KeyAccessLevel      = "AccessLevel"
	KeyOtelEndpoint     = "OtelEndpoint"
	KeyJSONLogs         = "JSONLogs"
	KeyVerbose          = "Verbose"
	KeyRetries          = "Retries"
)

// Defaults.
const (
	DefaultContainer      = "myblobstorage"
	DefaultLogContainer   = "logs"
	DefaultBlockBlobName  = "myblob"
	DefaultAppendBlobName = "journal.log"
	DefaultPageSize       = storage.DefaultPageSize
	DefaultRetries        = 3
)

// ErrMissingSetting is returned when a required key has no value.
var ErrMissingSetting = errors.New("missing setting")

// Settings looks up a single configuration value. Lookups of unknown keys return
// ErrMissingSetting.
type Settings interface {
	GetSetting(key string) (string, error)
}

// MapSettings is a fixed set of settings.
type MapSettings map[string]string

func (m MapSettings) GetSetting(key string) (string, error) {
	v, ok := m[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingSetting, key)
	}
	return v, nil
}

// ViperSettings reads settings from a viper instance (config file, env, bound flags).
type ViperSettings struct {
	v *viper.Viper
}

// NewViperSettings wraps v. A nil v uses the global viper instance.
func NewViperSettings(v *viper.Viper) *ViperSettings {
	if v == nil {
		v = viper.GetViper()
	}
	return &ViperSettings{v: v}
}

func (s *ViperSettings) GetSetting(key string) (string, error) {
	if !s.v.IsSet(key) {
		return "", fmt.Errorf("%w: %s", ErrMissingSetting, key)
	}
	v := strings.TrimSpace(s.v.GetString(key))
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingSetting, key)
	}
	return v, nil
}

// Config is everything a run needs.
type Config struct {
	ConnectionString string
	Container        string
	LogContainer     string
	BlockBlobName    string
	AppendBlobName   string
	// UploadPath is the local file the tutorial uploads. Empty uploads a generated greeting.
	UploadPath string
	// DownloadPath is where the tutorial writes the downloaded blob. Empty skips the file sink.
	DownloadPath string
	PageSize     int
	AccessLevel  storage.AccessLevel
	OtelEndpoint string
	JSONLogs     bool
	Verbose      bool
	Retries      int
}

// Load reads every key from s. Only the connection string is required.
func Load(s Settings) (Config, error) {
	cfg := Config{
		Container:      DefaultContainer,
		LogContainer:   DefaultLogContainer,
		BlockBlobName:  DefaultBlockBlobName,
		AppendBlobName: DefaultAppendBlobName,
		PageSize:       DefaultPageSize,
		AccessLevel:    storage.AccessPublicBlob,
		Retries:        DefaultRetries,
	}

	var err error
	if cfg.ConnectionString, err = s.GetSetting(KeyConnectionString); err != nil {
		return Config{}, err
	}

	strs := []struct {
		key string
		dst *string
	}{
		{KeyContainer, &cfg.Container},
		{KeyLogContainer, &cfg.LogContainer},
		{KeyBlockBlobName, &cfg.BlockBlobName},
		{KeyAppendBlobName, &cfg.AppendBlobName},
		{KeyUploadPath, &cfg.UploadPath},
		{KeyDownloadPath, &cfg.DownloadPath},
		{KeyOtelEndpoint, &cfg.OtelEndpoint},
	}
	for _, f := range strs {
		if v, ok, err := optional(s, f.key); err != nil {
			return Config{}, err
		} else if ok {
			*f.dst = v
		}
	}

	if v, ok, err := optional(s, KeyPageSize); err != nil {
		return Config{}, err
	} else if ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid %s %q: must be a positive integer", KeyPageSize, v)
		}
		cfg.PageSize = n
	}
	if v, ok, err := optional(s, KeyRetries); err != nil {
		return Config{}, err
	} else if ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid %s %q: must be zero or more", KeyRetries, v)
		}
		cfg.Retries = n
	}
	if v, ok, err := optional(s, KeyAccessLevel); err != nil {
		return Config{}, err
	} else if ok {
		level, err := storage.ParseAccessLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyAccessLevel, err)
		}
		cfg.AccessLevel = level
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{KeyJSONLogs, &cfg.JSONLogs},
		{KeyVerbose, &cfg.Verbose},
	}
	for _, f := range bools {
		v, ok, err := optional(s, f.key)
		if err != nil {
			return Config{}, err
		}
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", f.key, v, err)
		}
		*f.dst = b
	}

	if err := storage.ValidateContainerName(cfg.Container); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyContainer, err)
	}
	if err := storage.ValidateContainerName(cfg.LogContainer); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyLogContainer, err)
	}
	return cfg, nil
}

// optional returns ok=false for missing keys and passes every other error through.
func optional(s Settings, key string) (string, bool, error) {
	v, err := s.GetSetting(key)
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, ErrMissingSetting):
		return "", false, nil
	}
	return "", false, err
}
