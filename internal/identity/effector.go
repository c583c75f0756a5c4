package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Effector reads and writes the platform identity value.
type Effector interface {
	CurrentID(ctx context.Context) (string, error)
	SetID(ctx context.Context, id string) error
	GenerateID() string
}

// NewEffector selects the effector strategy by kind ("file" or "memory").
// An empty path picks the platform default location.
func NewEffector(kind, path string) (Effector, error) {
	switch kind {
	case "", "file":
		return NewPlatformEffector(runtime.GOOS, path), nil
	case "memory":
		return NewMemoryEffector(FormatUUIDUpper, ""), nil
	default:
		return nil, fmt.Errorf("unknown identity effector %q", kind)
	}
}

// FileEffector stores the identity in a single file.
type FileEffector struct {
	Path   string
	Format Format
}

// NewPlatformEffector returns the file effector for goos: machine-id style
// hex on linux, upper-case UUID in a per-user file elsewhere.
func NewPlatformEffector(goos, path string) *FileEffector {
	format := FormatUUIDUpper
	if goos == "linux" {
		format = FormatHex32
	}
	if path == "" {
		path = defaultPath(goos)
	}
	return &FileEffector{Path: path, Format: format}
}

func defaultPath(goos string) string {
	if goos == "linux" {
		return "/etc/machine-id"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "account-nexus", "machine-id")
}

// CurrentID reads the stored identity.
func (e *FileEffector) CurrentID(context.Context) (string, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return "", mapFSError("read", err)
	}
	id := strings.TrimSpace(string(data))
	if !ValidID(id) {
		return "", fmt.Errorf("%s: %w", e.Path, ErrInvalidID)
	}
	return id, nil
}

// SetID writes id in the effector's format.
func (e *FileEffector) SetID(_ context.Context, id string) error {
	norm, err := e.Format.Normalize(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(e.Path), 0755); err != nil {
		return mapFSError("create dir", err)
	}
	if err := os.WriteFile(e.Path, []byte(norm+"\n"), 0644); err != nil {
		return mapFSError("write", err)
	}
	return nil
}

// GenerateID returns a fresh id in the effector's format.
func (e *FileEffector) GenerateID() string {
	return e.Format.Generate()
}

func mapFSError(op string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %s: %v", ErrRequiresAdmin, op, err)
	}
	return fmt.Errorf("identity %s: %w", op, err)
}

// MemoryEffector keeps the identity in memory. It is used for dry runs and
// tests.
type MemoryEffector struct {
	mu     sync.Mutex
	id     string
	format Format

	// ReadErr and WriteErr, when set, are returned by the next calls.
	ReadErr  error
	WriteErr error
	Writes   []string
}

// NewMemoryEffector starts with initial, or a generated id when empty.
func NewMemoryEffector(format Format, initial string) *MemoryEffector {
	if initial == "" {
		initial = format.Generate()
	}
	return &MemoryEffector{id: initial, format: format}
}

func (m *MemoryEffector) CurrentID(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return "", m.ReadErr
	}
	return m.id, nil
}

func (m *MemoryEffector) SetID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	norm, err := m.format.Normalize(id)
	if err != nil {
		return err
	}
	m.id = norm
	m.Writes = append(m.Writes, norm)
	return nil
}

func (m *MemoryEffector) GenerateID() string {
	return m.format.Generate()
}
