package sqlstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"keyward/internal/account"
	"keyward/internal/domain"
	"keyward/internal/store"
)

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file. It is created if missing.
	Path string
	// Passphrase seals the account row.
	Passphrase string
	// PoolSize defaults to 4.
	PoolSize int
	// Logger receives open/close messages. Nil discards.
	Logger *slog.Logger
}

// Store is a SQLite-backed domain.CryptoStore.
type Store struct {
	pool       *sqlitex.Pool
	passphrase string
	logger     *slog.Logger
	path       string
}

// Open creates the pool, applies pragmas and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlstore: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s: %w", cfg.Path, err)
	}
	s := &Store{pool: pool, passphrase: cfg.Passphrase, logger: logger, path: cfg.Path}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlstore: take: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlstore: creating schema: %w", err)
	}

	logger.Info("key store opened", "path", cfg.Path, "pool_size", poolSize)
	return s, nil
}

// Close closes all connections. Blocks until borrowed connections return.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlstore: closing %s: %w", s.path, err)
	}
	s.logger.Info("key store closed", "path", s.path)
	return nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlstore: %s: %w", pragma, err)
		}
	}
	return nil
}

// withConn borrows a connection for the duration of fn.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: take: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// ---------- Account ----------

func (s *Store) GetAccount(ctx context.Context) (*account.Account, error) {
	var sealed []byte
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT sealed FROM account WHERE id = 0`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sealed = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, sealed)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading account: %w", err)
	}
	if sealed == nil {
		return nil, nil
	}
	return store.OpenAccount(s.passphrase, sealed)
}

func (s *Store) PutAccount(ctx context.Context, acc *account.Account) error {
	sealed, err := store.SealAccount(s.passphrase, acc)
	if err != nil {
		return err
	}
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO account (id, sealed) VALUES (0, ?)
			 ON CONFLICT (id) DO UPDATE SET sealed = excluded.sealed`,
			&sqlitex.ExecOptions{Args: []any{sealed}})
	})
}

// ---------- Devices ----------

func (s *Store) GetDevices(ctx context.Context, user domain.UserID) (map[domain.DeviceID]*domain.DeviceIdentity, error) {
	var devices map[domain.DeviceID]*domain.DeviceIdentity
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		stored := false
		err := sqlitex.Execute(conn,
			`SELECT devices_stored FROM tracked_users WHERE user_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{user},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					stored = stmt.ColumnInt(0) != 0
					return nil
				},
			})
		if err != nil || !stored {
			return err
		}

		devices = make(map[domain.DeviceID]*domain.DeviceIdentity)
		return sqlitex.Execute(conn,
			`SELECT device_id, identity_key, signing_key, trust, name, deleted
			 FROM devices WHERE user_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{user},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					// Columns: device_id(0), identity_key(1), signing_key(2),
					// trust(3), name(4), deleted(5).
					dev := &domain.DeviceIdentity{
						UserID:      user,
						DeviceID:    domain.DeviceID(stmt.ColumnText(0)),
						IdentityKey: domain.Curve25519(stmt.ColumnText(1)),
						SigningKey:  domain.Ed25519(stmt.ColumnText(2)),
						Trust:       domain.TrustState(stmt.ColumnInt(3)),
						Name:        stmt.ColumnText(4),
						Deleted:     stmt.ColumnInt(5) != 0,
					}
					devices[dev.DeviceID] = dev
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading devices of %s: %w", user, err)
	}
	return devices, nil
}

// PutDevices replaces the user's devices in one IMMEDIATE transaction.
func (s *Store) PutDevices(ctx context.Context, user domain.UserID, devices map[domain.DeviceID]*domain.DeviceIdentity) error {
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer endTransaction(&err)

		if err := sqlitex.Execute(conn, `DELETE FROM devices WHERE user_id = ?`,
			&sqlitex.ExecOptions{Args: []any{user}}); err != nil {
			return err
		}
		for _, dev := range devices {
			err := sqlitex.Execute(conn,
				`INSERT INTO devices
				 (user_id, device_id, identity_key, signing_key, trust, name, deleted)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				&sqlitex.ExecOptions{Args: []any{
					user,
					dev.DeviceID,
					dev.IdentityKey,
					dev.SigningKey,
					int(dev.Trust),
					dev.Name,
					dev.Deleted,
				}})
			if err != nil {
				return err
			}
		}
		return sqlitex.Execute(conn,
			`INSERT INTO tracked_users (user_id, devices_stored) VALUES (?, 1)
			 ON CONFLICT (user_id) DO UPDATE SET devices_stored = 1`,
			&sqlitex.ExecOptions{Args: []any{user}})
	})
	if err != nil {
		return fmt.Errorf("sqlstore: storing devices of %s: %w", user, err)
	}
	return nil
}

func (s *Store) MarkTracked(ctx context.Context, users []domain.UserID) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		for _, u := range users {
			err := sqlitex.Execute(conn,
				`INSERT INTO tracked_users (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING`,
				&sqlitex.ExecOptions{Args: []any{u}})
			if err != nil {
				return fmt.Errorf("sqlstore: tracking %s: %w", u, err)
			}
		}
		return nil
	})
}

func (s *Store) FilterTrackedUsers(ctx context.Context, users []domain.UserID) ([]domain.UserID, error) {
	out := make([]domain.UserID, 0, len(users))
	seen := make(map[domain.UserID]struct{}, len(users))
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		for _, u := range users {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			err := sqlitex.Execute(conn, `SELECT 1 FROM tracked_users WHERE user_id = ?`,
				&sqlitex.ExecOptions{
					Args: []any{u},
					ResultFunc: func(*sqlite.Stmt) error {
						out = append(out, u)
						return nil
					},
				})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: filtering tracked users: %w", err)
	}
	return out, nil
}

// ---------- Group sessions ----------

func (s *Store) PutOutboundGroupSession(ctx context.Context, sess *domain.OutboundGroupSession) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO outbound_sessions (room_id, session_id, created_at, message_count, shared)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (room_id) DO UPDATE SET
			   session_id = excluded.session_id,
			   created_at = excluded.created_at,
			   message_count = excluded.message_count,
			   shared = excluded.shared`,
			&sqlitex.ExecOptions{Args: []any{
				sess.RoomID,
				sess.SessionID,
				sess.CreatedAt.UnixNano(),
				sess.MessageCount,
				sess.Shared,
			}})
	})
}

func (s *Store) GetOutboundGroupSession(ctx context.Context, room domain.RoomID) (*domain.OutboundGroupSession, error) {
	var sess *domain.OutboundGroupSession
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT session_id, created_at, message_count, shared
			 FROM outbound_sessions WHERE room_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{room},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					sess = &domain.OutboundGroupSession{
						RoomID:       room,
						SessionID:    domain.SessionID(stmt.ColumnText(0)),
						CreatedAt:    time.Unix(0, stmt.ColumnInt64(1)).UTC(),
						MessageCount: stmt.ColumnInt(2),
						Shared:       stmt.ColumnInt(3) != 0,
					}
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading outbound session of %s: %w", room, err)
	}
	return sess, nil
}

func (s *Store) RemoveOutboundGroupSession(ctx context.Context, room domain.RoomID) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `DELETE FROM outbound_sessions WHERE room_id = ?`,
			&sqlitex.ExecOptions{Args: []any{room}})
	})
}

func (s *Store) PutInboundGroupSession(ctx context.Context, sess *domain.InboundGroupSession) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO inbound_sessions (sender_key, room_id, session_id, signing_key, session_key)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (sender_key, room_id, session_id) DO UPDATE SET
			   signing_key = excluded.signing_key,
			   session_key = excluded.session_key`,
			&sqlitex.ExecOptions{Args: []any{
				sess.SenderKey,
				sess.RoomID,
				sess.SessionID,
				sess.SigningKey,
				sess.SessionKey,
			}})
	})
}

func (s *Store) GetInboundGroupSession(ctx context.Context, sender domain.Curve25519, room domain.RoomID, id domain.SessionID) (*domain.InboundGroupSession, error) {
	var sess *domain.InboundGroupSession
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT signing_key, session_key FROM inbound_sessions
			 WHERE sender_key = ? AND room_id = ? AND session_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{sender, room, id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					sess = &domain.InboundGroupSession{
						SenderKey:  sender,
						SigningKey: domain.Ed25519(stmt.ColumnText(0)),
						RoomID:     room,
						SessionID:  id,
						SessionKey: stmt.ColumnText(1),
					}
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading inbound session: %w", err)
	}
	return sess, nil
}

// Compile-time assertion that Store implements domain.CryptoStore.
var _ domain.CryptoStore = (*Store)(nil)
