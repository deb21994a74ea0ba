package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultHTTPTimeout bounds a single download when none is configured.
	DefaultHTTPTimeout = 60 * time.Second
	// DefaultMaxBytes caps the size of an acquired file when none is configured.
	DefaultMaxBytes = 512 << 20
)

var (
	// ErrTooLarge is returned when a source exceeds the configured size cap.
	ErrTooLarge = errors.New("source file exceeds size limit")
	// ErrNoS3Client is returned for s3:// references when no client is configured.
	ErrNoS3Client = errors.New("s3 source requested but no s3 client configured")
)

// File is a local working copy of an upload. Close removes it.
type File struct {
	Path   string
	logger *zap.Logger
}

// Close deletes the working copy. It is safe to call more than once.
func (f *File) Close() error {
	if f == nil || f.Path == "" {
		return nil
	}
	err := os.Remove(f.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove temporary file: %w", err)
	}
	f.logger.Debug("removed temporary file", zap.String("file", f.Path))
	f.Path = ""
	return nil
}

// Acquirer copies upload sources into a scratch directory.
type Acquirer struct {
	tempDir  string
	baseURL  string
	maxBytes int64
	client   *http.Client
	s3       ObjectGetter
	logger   *zap.Logger
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithTempDir sets the scratch directory.
func WithTempDir(dir string) Option {
	return func(a *Acquirer) {
		if dir != "" {
			a.tempDir = dir
		}
	}
}

// WithBaseURL resolves relative job paths against base instead of the local filesystem.
func WithBaseURL(base string) Option {
	return func(a *Acquirer) {
		a.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPTimeout bounds a single download.
func WithHTTPTimeout(timeout time.Duration) Option {
	return func(a *Acquirer) {
		if timeout > 0 {
			a.client = &http.Client{Timeout: timeout}
		}
	}
}

// WithHTTPClient replaces the download client.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Acquirer) {
		if client != nil {
			a.client = client
		}
	}
}

// WithMaxBytes caps the size of an acquired file.
func WithMaxBytes(n int64) Option {
	return func(a *Acquirer) {
		if n > 0 {
			a.maxBytes = n
		}
	}
}

// WithS3 enables s3://bucket/key references.
func WithS3(client ObjectGetter) Option {
	return func(a *Acquirer) {
		a.s3 = client
	}
}

// WithLogger sets the acquirer's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Acquirer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an Acquirer and makes sure its scratch directory exists.
func New(opts ...Option) (*Acquirer, error) {
	a := &Acquirer{
		tempDir:  filepath.Join(os.TempDir(), "sheetpipe"),
		maxBytes: DefaultMaxBytes,
		client:   &http.Client{Timeout: DefaultHTTPTimeout},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := os.MkdirAll(a.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return a, nil
}

// Acquire makes a local copy of ref. ref may be an s3:// or http(s):// URL,
// a path relative to the base URL, or a local path.
func (a *Acquirer) Acquire(ctx context.Context, ref string) (*File, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("source path is empty")
	}

	switch {
	case strings.HasPrefix(ref, "s3://"):
		bucket, key, err := parseS3Ref(ref)
		if err != nil {
			return nil, err
		}
		return a.fromS3(ctx, bucket, key)
	case isHTTP(ref):
		return a.fromURL(ctx, ref)
	case a.baseURL != "":
		return a.fromURL(ctx, a.baseURL+"/"+escapePath(ref))
	default:
		return a.fromLocal(ref)
	}
}

func (a *Acquirer) fromLocal(source string) (*File, error) {
	in, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	a.logger.Info("copying source file", zap.String("source", source))
	return a.store(filepath.Base(source), in)
}

func (a *Acquirer) fromURL(ctx context.Context, rawURL string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	a.logger.Info("downloading source file", zap.String("url", rawURL))
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: unexpected status %s", resp.Status)
	}

	name := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		name = path.Base(parsed.Path)
	}
	return a.store(name, resp.Body)
}

// store streams r into a new file in the scratch directory, keeping the
// source's extension.
func (a *Acquirer) store(name string, r io.Reader) (*File, error) {
	ext := filepath.Ext(name)
	if ext == "" || len(ext) > 8 {
		ext = ".xlsx"
	}

	out, err := os.CreateTemp(a.tempDir, "upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	file := &File{Path: out.Name(), logger: a.logger}

	written, copyErr := io.Copy(out, io.LimitReader(r, a.maxBytes+1))
	closeErr := out.Close()
	switch {
	case copyErr != nil:
		file.Close()
		return nil, fmt.Errorf("failed to write temporary file: %w", copyErr)
	case closeErr != nil:
		file.Close()
		return nil, fmt.Errorf("failed to write temporary file: %w", closeErr)
	case written > a.maxBytes:
		file.Close()
		return nil, fmt.Errorf("%w of %d bytes", ErrTooLarge, a.maxBytes)
	}

	a.logger.Info("source file ready", zap.String("file", file.Path), zap.Int64("bytes", written))
	return file, nil
}

func isHTTP(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func escapePath(ref string) string {
	segments := strings.Split(strings.TrimLeft(filepath.ToSlash(ref), "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
