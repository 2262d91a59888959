package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/internal/observability"
)

// maxLineBytes bounds a single transcript record.
const maxLineBytes = 10 * 1024 * 1024

// Store persists session transcripts as JSONL files, one per session
// key. The first record of each file is the session metadata; every
// following record is a turn. Appends are fsynced; metadata updates
// rewrite the file atomically via temp file and rename.
type Store struct {
	dir    string
	logger zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewStore creates a session store rooted at dir.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "session").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// validateKey rejects keys that cannot form a session file.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key is empty")
	}
	if !strings.Contains(key, ":") {
		return fmt.Errorf("session key %q must be channel:chat_id", key)
	}
	return nil
}

// writeLock returns the per-key mutex, creating it on first use.
func (s *Store) writeLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// path returns the session file path for a key.
func (s *Store) path(key string) string {
	return filepath.Join(s.dir, encodeKey(key)+".jsonl")
}

// Exists reports whether a session file exists for the key.
func (s *Store) Exists(key string) bool {
	if validateKey(key) != nil {
		return false
	}
	_, err := os.Stat(s.path(key))
	return err == nil
}

// Load reads a session. A missing file yields an empty session with
// fresh metadata; malformed records are skipped with a warning so a
// torn tail never blocks recovery.
func (s *Store) Load(ctx context.Context, key string) (*Session, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	sess := &Session{Key: key, Meta: NewMetadata()}

	f, err := os.Open(s.path(key))
	if os.IsNotExist(err) {
		return sess, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session %s: %w", key, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	sawMeta := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !sawMeta {
			var meta Metadata
			if err := json.Unmarshal([]byte(line), &meta); err == nil && meta.Type == metadataType {
				sess.Meta = meta
				sawMeta = true
				continue
			}
			// First record is not metadata: treat it as a turn from a
			// legacy file and keep defaults.
			sawMeta = true
		}

		var turn Turn
		if err := json.Unmarshal([]byte(line), &turn); err != nil || turn.Role == "" {
			s.logger.Warn().
				Str("session_key", key).
				Int("line", lineNo).
				Msg("skipping malformed session record")
			continue
		}
		sess.Turns = append(sess.Turns, turn)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", key, err)
	}

	return sess, nil
}

// AppendTurn durably appends a turn. The file and its metadata record
// are created on first append.
func (s *Store) AppendTurn(ctx context.Context, key string, turn Turn) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	defer func() {
		observability.RecordSessionAppend(time.Since(start))
	}()

	path := s.path(key)
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open session %s: %w", key, err)
	}
	defer f.Close()

	var buf []byte
	if fresh {
		metaLine, err := json.Marshal(NewMetadata())
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		buf = append(buf, metaLine...)
		buf = append(buf, '\n')
	}

	turnLine, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	buf = append(buf, turnLine...)
	buf = append(buf, '\n')

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("failed to append to session %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync session %s: %w", key, err)
	}

	return nil
}

// UpdateMeta applies fn to the session metadata and rewrites the file
// atomically. The session file is created if it does not exist.
func (s *Store) UpdateMeta(ctx context.Context, key string, fn func(*Metadata)) error {
	if err := validateKey(key); err != nil {
		return err
	}

	lock := s.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Load(ctx, key)
	if err != nil {
		return err
	}

	fn(&sess.Meta)
	sess.Meta.Type = metadataType
	sess.Meta.UpdatedAt = time.Now().UTC()

	return s.rewrite(key, sess)
}

// rewrite writes the whole session through a temp file and renames it
// into place. Caller holds the write lock.
func (s *Store) rewrite(key string, sess *Session) error {
	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, encodeKey(key)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	write := func(v interface{}) error {
		line, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			return err
		}
		return nil
	}

	if err := write(sess.Meta); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metadata for %s: %w", key, err)
	}
	for _, turn := range sess.Turns {
		if err := write(turn); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write turn for %s: %w", key, err)
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", key, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace session %s: %w", key, err)
	}

	return nil
}

// Repair rewrites a session file, dropping any malformed records.
func (s *Store) Repair(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	lock := s.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Load(ctx, key)
	if err != nil {
		return err
	}

	return s.rewrite(key, sess)
}

// Delete removes a session file. Deleting a missing session is not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	lock := s.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}

	s.logger.Info().Str("session_key", key).Msg("session deleted")
	return nil
}

// List returns summaries for all sessions, newest first. Only the
// metadata record of each file is read.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		key, err := decodeKey(strings.TrimSuffix(name, ".jsonl"))
		if err != nil {
			s.logger.Warn().Str("file", name).Msg("skipping unrecognized session file")
			continue
		}

		info := Info{Key: key}
		if meta, err := s.readMeta(filepath.Join(s.dir, name)); err == nil {
			info.CreatedAt = meta.CreatedAt
			info.UpdatedAt = meta.UpdatedAt
			info.Persona = meta.Persona
		}
		if fi, err := entry.Info(); err == nil && fi.ModTime().After(info.UpdatedAt) {
			info.UpdatedAt = fi.ModTime().UTC()
		}

		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})

	observability.SetSessionsTotal(len(infos))
	return infos, nil
}

// readMeta reads only the first record of a session file.
func (s *Store) readMeta(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	if !scanner.Scan() {
		return Metadata{}, fmt.Errorf("empty session file")
	}

	var meta Metadata
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return Metadata{}, err
	}
	if meta.Type != metadataType {
		return Metadata{}, fmt.Errorf("first record is not metadata")
	}
	return meta, nil
}
