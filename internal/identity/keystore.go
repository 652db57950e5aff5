package identity

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrUnknownToken is returned when a bearer token is not recognized.
var ErrUnknownToken = errors.New("unknown api token")

// KeyStore resolves bearer tokens to user ids. Entries are loaded from a
// text file ("token:user-id" per line, # comments and blank lines
// ignored) or from the GANTRY_API_KEYS environment variable
// (comma-separated "token:user-id" pairs), which takes precedence.
type KeyStore struct {
	mu     sync.RWMutex
	users  map[string]string
	path   string
	logger *slog.Logger
}

// NewKeyStore creates a KeyStore and loads its entries.
func NewKeyStore(path string, logger *slog.Logger) (*KeyStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ks := &KeyStore{users: make(map[string]string), path: path, logger: logger}

	// Environment variable takes precedence over the file.
	if env := os.Getenv("GANTRY_API_KEYS"); env != "" {
		for _, pair := range strings.Split(env, ",") {
			token, userID, ok := parseEntry(pair)
			if !ok {
				continue
			}
			ks.users[token] = userID
		}
		if len(ks.users) == 0 {
			return nil, errors.New("GANTRY_API_KEYS is set but contains no valid token:user-id pairs")
		}
		ks.path = "" // env-sourced stores have nothing to watch
		return ks, nil
	}

	if path == "" {
		return nil, errors.New("no keys file path provided and GANTRY_API_KEYS is not set")
	}

	users, err := loadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keys file: %w", err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("keys file %q contains no valid token:user-id entries", path)
	}
	ks.users = users

	return ks, nil
}

// ResolveUserID implements Resolver. A request without a bearer token is
// anonymous; an unrecognized token is a verification failure.
func (ks *KeyStore) ResolveUserID(r *http.Request) (string, error) {
	token, ok := BearerToken(r)
	if !ok {
		return "", nil
	}

	ks.mu.RLock()
	defer ks.mu.RUnlock()

	userID, ok := ks.users[token]
	if !ok {
		return "", ErrUnknownToken
	}
	return userID, nil
}

// Count returns the number of loaded entries.
func (ks *KeyStore) Count() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.users)
}

// Watch reloads the keys file whenever it changes on disk, until ctx is
// cancelled. It is a no-op for stores loaded from the environment.
func (ks *KeyStore) Watch(ctx context.Context) error {
	if ks.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(ks.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", ks.path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := ks.reload(); err != nil {
					// Keep serving the last good set.
					ks.logger.Error("key store reload failed", "path", ks.path, "err", err)
					continue
				}
				ks.logger.Info("key store reloaded", "path", ks.path, "count", ks.Count())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				ks.logger.Error("key store watcher error", "err", err)
			}
		}
	}()

	return nil
}

func (ks *KeyStore) reload() error {
	users, err := loadFile(ks.path)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return fmt.Errorf("keys file %q contains no valid token:user-id entries", ks.path)
	}

	ks.mu.Lock()
	ks.users = users
	ks.mu.Unlock()
	return nil
}

func loadFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	users := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		token, userID, ok := parseEntry(line)
		if !ok {
			continue
		}
		users[token] = userID
	}
	return users, scanner.Err()
}

// parseEntry splits "token:user-id". Entries without a user id are
// skipped rather than defaulted.
func parseEntry(entry string) (token, userID string, ok bool) {
	entry = strings.TrimSpace(entry)
	token, userID, found := strings.Cut(entry, ":")
	token = strings.TrimSpace(token)
	userID = strings.TrimSpace(userID)
	if !found || token == "" || userID == "" {
		return "", "", false
	}
	return token, userID, true
}
