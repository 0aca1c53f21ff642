package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"keyward/internal/domain"
	"keyward/internal/matrix"
	"keyward/internal/services/machine"
	"keyward/internal/store"
	"keyward/internal/store/redisstate"
	"keyward/internal/store/sqlstore"
	"keyward/internal/syncer"
)

// ErrOlmUnavailable is returned for encrypted to-device events when no olm
// implementation is wired in.
var ErrOlmUnavailable = errors.New("app: olm decryption is not available")

// ErrNoHomeserver is returned by operations that need the homeserver when
// none is configured.
var ErrNoHomeserver = errors.New("app: no homeserver configured")

var _ syncer.Handler = (*machine.OlmMachine)(nil)

// Wire bundles the stores, client and services for the CLI.
type Wire struct {
	Config  *Config
	Store   domain.CryptoStore
	State   domain.StateStore
	Machine *machine.OlmMachine
	Syncer  *syncer.Dispatcher
	// Client is nil when no homeserver is configured.
	Client *matrix.Client
	Logger *slog.Logger

	closers []func() error
}

// Options carries what does not belong in the config file.
type Options struct {
	// Passphrase seals the account in the file and sqlite stores.
	Passphrase string
	HTTP       *http.Client
	// Decrypter handles olm to-device payloads. Nil rejects them with
	// ErrOlmUnavailable.
	Decrypter domain.OlmDecrypter
	Logger    *slog.Logger
}

// NewWire constructs the dependency graph from cfg. The caller must Close
// the result.
func NewWire(ctx context.Context, cfg *Config, opts Options) (w *Wire, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w = &Wire{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = w.Close()
		}
	}()

	if w.Store, err = w.openStore(ctx, opts.Passphrase); err != nil {
		return nil, err
	}
	state, err := w.openState(ctx)
	if err != nil {
		return nil, err
	}
	w.State = state

	var client domain.KeysClient = offlineClient{}
	if cfg.Homeserver != "" {
		token, err := cfg.AccessToken()
		if err != nil {
			return nil, err
		}
		w.Client, err = matrix.NewClient(matrix.ClientConfig{
			HomeserverURL: cfg.Homeserver,
			AccessToken:   token,
			HTTPClient:    opts.HTTP,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		client = w.Client
	}

	decrypter := opts.Decrypter
	if decrypter == nil {
		decrypter = noOlm{}
	}
	w.Machine = machine.New(machine.Config{
		UserID:                 cfg.UserID,
		DeviceID:               cfg.DeviceID,
		MaxOneTimeKeys:         cfg.MaxOneTimeKeys,
		AllowUnverifiedDevices: cfg.AllowUnverifiedDevices,
		Logger:                 logger,
	}, w.Store, state, client, decrypter)
	w.Syncer = syncer.New(w.Machine, state, logger)
	return w, nil
}

type stateBackend interface {
	domain.StateStore
	domain.StateWriter
}

func (w *Wire) openStore(ctx context.Context, passphrase string) (domain.CryptoStore, error) {
	cfg := w.Config.Store
	switch cfg.Backend {
	case BackendMemory:
		return store.NewMemoryStore(), nil
	case BackendFile:
		return store.NewFileStore(cfg.Path, passphrase)
	case BackendSQLite:
		s, err := sqlstore.Open(ctx, sqlstore.Config{
			Path:       cfg.Path,
			Passphrase: passphrase,
			PoolSize:   cfg.PoolSize,
			Logger:     w.Logger,
		})
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, s.Close)
		return s, nil
	}
	return nil, fmt.Errorf("app: unknown store backend %q", cfg.Backend)
}

func (w *Wire) openState(ctx context.Context) (stateBackend, error) {
	cfg := w.Config.State
	switch cfg.Backend {
	case BackendMemory:
		// The memory store doubles as the state oracle.
		if mem, ok := w.Store.(*store.MemoryStore); ok {
			return mem, nil
		}
		return store.NewMemoryStore(), nil
	case BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		w.closers = append(w.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("app: connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		return redisstate.New(rdb, cfg.Prefix), nil
	}
	return nil, fmt.Errorf("app: unknown state backend %q", cfg.Backend)
}

// Close releases backend connections.
func (w *Wire) Close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}

type noOlm struct{}

func (noOlm) DecryptOlmEvent(context.Context, *domain.ToDeviceEvent) (*domain.DecryptedOlmEvent, error) {
	return nil, ErrOlmUnavailable
}

// offlineClient stands in for the homeserver when none is configured.
type offlineClient struct{}

func (offlineClient) QueryKeys(context.Context, []domain.UserID, domain.SyncToken) (*domain.QueryKeysResponse, error) {
	return nil, ErrNoHomeserver
}

func (offlineClient) UploadKeys(context.Context, map[string]domain.OneTimeKey, *domain.DeviceKeys) (*domain.UploadKeysResponse, error) {
	return nil, ErrNoHomeserver
}
