// Package storage abstracts the object store holding galleys and decision
// attachments. The filesystem implementation signs expiring download URLs
// with HS256 tokens.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrObjectNotFound = errors.New("object not found")

// Store is the object-storage boundary.
type Store interface {
	Upload(ctx context.Context, data []byte, path, contentType string) error
	SignedURL(path string, ttl time.Duration) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// FSStore keeps objects under Dir and signs URLs pointing at BaseURL.
type FSStore struct {
	Dir     string
	Secret  string
	BaseURL string
	Now     func() time.Time
}

func (s FSStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// cleanPath rejects traversal outside the store root.
func (s FSStore) cleanPath(path string) (string, error) {
	rel := filepath.Clean("/" + path)
	if rel == "/" {
		return "", errors.New("empty object path")
	}
	return filepath.Join(s.Dir, rel), nil
}

func (s FSStore) Upload(ctx context.Context, data []byte, path, contentType string) error {
	full, err := s.cleanPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (s FSStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := s.cleanPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, ErrObjectNotFound
	}
	return f, err
}

type urlClaims struct {
	jwt.RegisteredClaims
	Path string `json:"path"`
}

// SignedURL returns an expiring download link for the object.
func (s FSStore) SignedURL(path string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return "", errors.New("storage url secret not configured")
	}
	now := s.now()
	claims := urlClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Path: path,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
	if err != nil {
		return "", err
	}
	base := strings.TrimRight(s.BaseURL, "/")
	return fmt.Sprintf("%s/files?token=%s", base, url.QueryEscape(token)), nil
}

// VerifyToken validates a signed download token and returns the object path.
func (s FSStore) VerifyToken(token string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &urlClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Path == "" {
		return "", errors.New("invalid download token")
	}
	return claims.Path, nil
}
