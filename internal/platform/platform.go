// Package platform abstracts host capabilities (file I/O, sleep, crypto,
// encoding, environment) so the core runs identically in server and
// constrained environments.
package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Platform is the capability set required by the SDK core.
type Platform interface {
	// SaveFile decodes base64url data and writes it to path, creating parent
	// directories as needed.
	SaveFile(path, data string) error
	// Sleep blocks for the given duration or until ctx is cancelled.
	Sleep(ctx context.Context, d time.Duration) error
	// CreateDataURL renders raw bytes as a data: URL with the given mime type.
	CreateDataURL(data []byte, mime string) string
	// Fetch executes an HTTP request with the process-default client.
	Fetch(req *http.Request) (*http.Response, error)
	// Sign returns the base64url HMAC-SHA256 of text under secret.
	Sign(text, secret string) string
	// Verify checks a signature produced by Sign in constant time.
	Verify(text, sig, secret string) bool
	// RandomUUID returns a new random UUID string.
	RandomUUID() string
	// Base64URLEncode encodes bytes without padding.
	Base64URLEncode(data []byte) string
	// Base64URLDecode decodes a base64url string, tolerating padding.
	Base64URLDecode(s string) ([]byte, error)
	// Getenv looks up an environment variable.
	Getenv(key string) string

	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	DeleteFile(path string) error
}

// OS is the host-backed Platform implementation.
type OS struct {
	httpClient *http.Client
}

// NewOS returns a Platform backed by the operating system.
func NewOS() *OS {
	return &OS{httpClient: &http.Client{}}
}

func (p *OS) SaveFile(path, data string) error {
	raw, err := p.Base64URLDecode(data)
	if err != nil {
		return fmt.Errorf("decode file data: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func (p *OS) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *OS) CreateDataURL(data []byte, mime string) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func (p *OS) Fetch(req *http.Request) (*http.Response, error) {
	return p.httpClient.Do(req)
}

func (p *OS) Sign(text, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(text))
	return p.Base64URLEncode(mac.Sum(nil))
}

func (p *OS) Verify(text, sig, secret string) bool {
	expected := p.Sign(text, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (p *OS) RandomUUID() string {
	return uuid.NewString()
}

func (p *OS) Base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func (p *OS) Base64URLDecode(s string) ([]byte, error) {
	if raw, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

func (p *OS) Getenv(key string) string {
	return os.Getenv(key)
}

func (p *OS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (p *OS) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (p *OS) DeleteFile(path string) error {
	return os.Remove(path)
}
