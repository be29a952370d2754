package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/satindergrewal/twindeck/internal/logger"
)

// ErrNotFound is returned when a named session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrBadName is returned for a session name that cannot be stored.
var ErrBadName = errors.New("invalid session name")

// Store persists named snapshots.
type Store interface {
	Save(ctx context.Context, name string, s Snapshot) error
	Load(ctx context.Context, name string) (Snapshot, error)
	List(ctx context.Context) ([]string, error)
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

func checkName(name string) error {
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return nil
}

// FileStore keeps one JSON file per session under Dir.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.Dir, name+".json")
}

func (f *FileStore) Save(_ context.Context, name string, s Snapshot) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	tmp := f.path(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, f.path(name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write session: %w", err)
	}
	logger.Debug("Session saved", logger.String("name", name), logger.String("path", f.path(name)))
	return nil
}

func (f *FileStore) Load(_ context.Context, name string) (Snapshot, error) {
	if err := checkName(name); err != nil {
		return Snapshot{}, err
	}
	data, err := os.ReadFile(f.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read session: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

func (f *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// RedisStore keeps sessions as string keys under a prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// ConnectRedis dials addr and verifies the connection with a ping.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("Connected to Redis session store", logger.String("addr", addr))
	return NewRedisStore(client, "twindeck:session:"), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Save(ctx context.Context, name string, s Snapshot) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+name, data, 0).Err(); err != nil {
		return fmt.Errorf("save session to Redis: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, name string) (Snapshot, error) {
	if err := checkName(name); err != nil {
		return Snapshot{}, err
	}
	data, err := r.client.Get(ctx, r.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session from Redis: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	var names []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list sessions in Redis: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close releases the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
