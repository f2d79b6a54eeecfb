// Package providers opens a storage.Backend from a connection string.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/DrSkyle/cloudblob/pkg/storage"
	"github.com/DrSkyle/cloudblob/pkg/storage/azurestore"
	"github.com/DrSkyle/cloudblob/pkg/storage/s3store"
)

// ErrUnsupported is returned for connection strings no backend understands.
var ErrUnsupported = errors.New("unsupported storage connection string")

// azuriteConnectionString is what UseDevelopmentStorage=true stands for.
const azuriteConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

// Options are shared by every backend.
type Options struct {
	Logger *slog.Logger
	// MaxRetries is passed to SDK retryers that support it.
	MaxRetries int
	Verbose    bool
}

// Open returns the backend selected by connStr:
//
//	memory://
//	file:///abs/path
//	s3://[access_key:secret_key@]host?region=&endpoint=host:port&disable_https=true&use_path_style=true&profile=
//	DefaultEndpointsProtocol=...;AccountName=...;AccountKey=...   (Azure)
//	UseDevelopmentStorage=true                                     (Azurite)
func Open(ctx context.Context, connStr string, opts Options) (storage.Backend, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	connStr = strings.TrimSpace(connStr)
	if connStr == "" {
		return nil, fmt.Errorf("%w: empty", ErrUnsupported)
	}
	if isAzure(connStr) {
		return openAzure(connStr, opts)
	}

	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	switch u.Scheme {
	case "memory":
		return storage.NewMemoryBackend(), nil
	case "file":
		root := u.Path
		if !filepath.IsAbs(root) {
			return nil, fmt.Errorf("file backend needs an absolute path, got %q", root)
		}
		return storage.NewLocalBackend(root), nil
	case "s3":
		so, err := S3Options(u)
		if err != nil {
			return nil, err
		}
		so.Verbose = opts.Verbose
		so.Logger = opts.Logger
		so.MaxRetries = opts.MaxRetries
		b, err := s3store.Open(ctx, so)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: scheme %q", ErrUnsupported, u.Scheme)
}

func isAzure(connStr string) bool {
	for _, part := range strings.Split(connStr, ";") {
		key, _, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "accountname", "blobendpoint", "usedevelopmentstorage", "defaultendpointsprotocol", "sharedaccesssignature":
			return true
		}
	}
	return false
}

func openAzure(connStr string, opts Options) (storage.Backend, error) {
	if strings.EqualFold(strings.TrimSuffix(strings.ReplaceAll(connStr, " ", ""), ";"), "UseDevelopmentStorage=true") {
		connStr = azuriteConnectionString
	}
	b, err := azurestore.Open(connStr, azurestore.Options{
		MaxRetries: int32(opts.MaxRetries),
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// S3Options decodes an s3:// URL. The host part is ignored; buckets are containers.
func S3Options(u *url.URL) (s3store.SessionOptions, error) {
	var so s3store.SessionOptions
	if u.User != nil {
		so.AccessKey = u.User.Username()
		so.SecretKey, _ = u.User.Password()
		if so.AccessKey == "" || so.SecretKey == "" {
			return so, errors.New("s3 credentials need both access key and secret key")
		}
	}
	q := u.Query()
	so.Region = q.Get("region")
	so.Profile = q.Get("profile")

	if endpoint := q.Get("endpoint"); endpoint != "" {
		scheme := "https"
		if v := q.Get("disable_https"); v != "" {
			disable, err := strconv.ParseBool(v)
			if err != nil {
				return so, fmt.Errorf("invalid disable_https %q: %w", v, err)
			}
			if disable {
				scheme = "http"
			}
		}
		if !strings.Contains(endpoint, "://") {
			endpoint = scheme + "://" + endpoint
		}
		so.Endpoint = endpoint
	}
	if v := q.Get("use_path_style"); v != "" {
		pathStyle, err := strconv.ParseBool(v)
		if err != nil {
			return so, fmt.Errorf("invalid use_path_style %q: %w", v, err)
		}
		so.UsePathStyle = pathStyle
	}
	return so, nil
}
