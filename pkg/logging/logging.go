// Package logging builds the slog loggers used by the CLI.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Options selects the handler.
type Options struct {
	JSON    bool
	Verbose bool
}

// New returns a logger writing to w. Sensitive attributes are redacted.
func New(w io.Writer, opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	ho := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSensitiveData,
	}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, ho))
	}
	return slog.New(slog.NewTextHandler(w, ho))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var sensitiveKeys = map[string]bool{
	"account_key": true, "password": true, "access_key": true, "token": true,
	"secret": true, "secret_key": true, "api_key": true, "private_key": true,
	"auth_token": true, "signature": true, "sas": true, "credential": true,
	"connection_string": true,
}

// redactSensitiveData scrubs sensitive keys from logs.
func redactSensitiveData(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		if v := a.Value.String(); strings.Contains(v, "AccountKey=") || strings.Contains(v, "SharedAccessSignature=") {
			return slog.String(a.Key, RedactConnectionString(v))
		}
	}
	return a
}

// RedactConnectionString masks secrets in an Azure connection string or in the userinfo
// of an s3:// URL.
func RedactConnectionString(s string) string {
	if scheme, rest, ok := strings.Cut(s, "://"); ok {
		if userinfo, host, ok := strings.Cut(rest, "@"); ok {
			user, _, _ := strings.Cut(userinfo, ":")
			return scheme + "://" + user + ":[REDACTED]@" + host
		}
		if !strings.Contains(s, ";") {
			return s
		}
	}
	parts := strings.Split(s, ";")
	for i, part := range parts {
		key, _, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "accountkey", "sharedaccesssignature":
			parts[i] = key + "=[REDACTED]"
		}
	}
	return strings.Join(parts, ";")
}
