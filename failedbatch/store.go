package failedbatch

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
)

const (
	// ArchiveDirName is the subdirectory delivered batches are moved into
	ArchiveDirName = "archived"

	fileExt    = ".json"
	tempPrefix = ".pending-"
	idLayout   = "20060102T150405.000000000"
)

// Record is a single log record
type Record map[string]any

// Payload is the content of a batch file
type Payload struct {
	Data     []Record  `json:"data"`
	LogType  string    `json:"log_type,omitempty"`
	FailedAt time.Time `json:"failed_at,omitzero"`
	Error    string    `json:"error,omitempty"`
}

// Batch describes a pending batch file without reading it
type Batch struct {
	ID      string
	Path    string
	Size    int64
	ModTime time.Time
}

// Store manages the failed-batch directory. Operations on the same id are
// serialized; different ids proceed concurrently.
type Store struct {
	dir        string
	archiveDir string
	locks      idLocks
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for ids and failed_at
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore opens the failed-batch directory, creating it if absent
func NewStore(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Store", "NewStore", "failed-batch directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "Store", "NewStore", "create failed-batch directory")
	}

	s := &Store{
		dir:        dir,
		archiveDir: filepath.Join(dir, ArchiveDirName),
		locks:      idLocks{locks: make(map[string]*idLock)},
		logger:     slog.Default().With("component", "failed-batch-store"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the pending directory
func (s *Store) Dir() string {
	return s.dir
}

// NewID returns a fresh batch id for t
func NewID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return t.UTC().Format(idLayout) + "-" + suffix
}

// Persist writes records as a new pending batch and returns its id.
// The file appears atomically: readers never observe a partial write.
func (s *Store) Persist(ctx context.Context, logType string, records []Record, cause error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.WrapTransient(err, "Store", "Persist", "context done before write")
	}
	if records == nil {
		records = []Record{}
	}

	now := s.now()
	payload := Payload{
		Data:     records,
		LogType:  logType,
		FailedAt: now.UTC(),
	}
	if cause != nil {
		payload.Error = cause.Error()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.WrapInvalid(err, "Store", "Persist", "encode batch")
	}

	id := NewID(now)
	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.writeAtomic(s.path(id), data); err != nil {
		if stderrors.Is(err, syscall.ENOSPC) {
			return "", errors.WrapFatal(errors.ErrStorageFull, "Store", "Persist", err.Error())
		}
		return "", errors.WrapTransient(err, "Store", "Persist", "write batch file")
	}

	s.logger.Info("Persisted failed batch",
		"batch_id", id, "log_type", logType, "records", len(records))
	return id, nil
}

func (s *Store) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// List returns pending batches sorted by id, which is creation order for ids
// from Persist. Archived batches and temp files are excluded.
func (s *Store) List() ([]Batch, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "Store", "List", "read failed-batch directory")
	}

	batches := make([]Batch, 0, len(entries))
	for _, entry := range entries {
		if !isBatchFile(entry) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		batches = append(batches, Batch{
			ID:      strings.TrimSuffix(entry.Name(), fileExt),
			Path:    filepath.Join(s.dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	// ReadDir orders by file name, and the extension can reorder ids that
	// share a prefix ("a-1.json" < "a.json")
	sort.Slice(batches, func(i, j int) bool { return batches[i].ID < batches[j].ID })
	return batches, nil
}

// Count returns the number of pending batch files
func (s *Store) Count() (int, error) {
	batches, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(batches), nil
}

// ArchivedCount returns the number of archived batch files
func (s *Store) ArchivedCount() (int, error) {
	entries, err := os.ReadDir(s.archiveDir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "Store", "ArchivedCount", "read archive directory")
	}
	n := 0
	for _, entry := range entries {
		if isBatchFile(entry) {
			n++
		}
	}
	return n, nil
}

// Load reads and decodes a pending batch. A file that is not valid JSON or
// has no "data" array returns ErrCorruptBatch.
func (s *Store) Load(id string) (Payload, error) {
	if err := validateID(id); err != nil {
		return Payload{}, err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return Payload{}, errors.WrapInvalid(errors.ErrBatchNotFound, "Store", "Load", id)
		}
		return Payload{}, errors.WrapTransient(err, "Store", "Load", "read batch file")
	}

	var payload Payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return Payload{}, errors.WrapInvalid(errors.ErrCorruptBatch, "Store", "Load",
			fmt.Sprintf("decode %s: %v", id, err))
	}
	if payload.Data == nil {
		return Payload{}, errors.WrapInvalid(errors.ErrCorruptBatch, "Store", "Load",
			fmt.Sprintf("%s has no data array", id))
	}
	return payload, nil
}

// Archive moves a pending batch into the archive directory. Archiving an
// already-archived batch is a no-op.
func (s *Store) Archive(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	if err := os.MkdirAll(s.archiveDir, 0o755); err != nil {
		return errors.WrapTransient(err, "Store", "Archive", "create archive directory")
	}

	dst := filepath.Join(s.archiveDir, id+fileExt)
	if err := os.Rename(s.path(id), dst); err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			if _, statErr := os.Stat(dst); statErr == nil {
				return nil
			}
			return errors.WrapInvalid(errors.ErrBatchNotFound, "Store", "Archive", id)
		}
		return errors.WrapTransient(err, "Store", "Archive", "rename batch file")
	}

	s.logger.Debug("Archived batch", "batch_id", id)
	return nil
}

// Remove deletes a pending batch. Used for manual cleanup only.
func (s *Store) Remove(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return errors.WrapInvalid(errors.ErrBatchNotFound, "Store", "Remove", id)
		}
		return errors.WrapTransient(err, "Store", "Remove", "delete batch file")
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

func isBatchFile(entry fs.DirEntry) bool {
	name := entry.Name()
	return entry.Type().IsRegular() &&
		strings.HasSuffix(name, fileExt) &&
		!strings.HasPrefix(name, ".")
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return errors.WrapInvalid(errors.ErrBatchNotFound, "Store", "validateID",
			fmt.Sprintf("invalid batch id %q", id))
	}
	return nil
}

// idLocks hands out one mutex per batch id and forgets it once unused
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func (l *idLocks) lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &idLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
