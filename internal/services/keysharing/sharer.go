package keysharing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"keyward/internal/account"
	"keyward/internal/crypto"
	"keyward/internal/domain"
	"keyward/internal/domain/types"
)

// ErrNotLoaded is returned by account operations before Load.
var ErrNotLoaded = errString("keysharing: account not loaded")

type errString string

func (e errString) Error() string { return string(e) }

// Sharer publishes keys for one (user, device).
type Sharer struct {
	store  domain.CryptoStore
	client domain.KeysClient
	user   domain.UserID
	device domain.DeviceID
	log    *slog.Logger

	mu  sync.Mutex
	acc *account.Account
}

// New builds a Sharer. A nil logger discards output.
func New(
	store domain.CryptoStore,
	client domain.KeysClient,
	user domain.UserID,
	device domain.DeviceID,
	logger *slog.Logger,
) *Sharer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sharer{store: store, client: client, user: user, device: device, log: logger}
}

// Load reads the account from the store. When none exists a fresh one with
// a pool of maxOneTimeKeys is generated and stored.
func (s *Sharer) Load(ctx context.Context, maxOneTimeKeys int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.store.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("keysharing: loading account: %w", err)
	}
	if acc == nil {
		if acc, err = account.New(maxOneTimeKeys); err != nil {
			return err
		}
		if err := s.store.PutAccount(ctx, acc); err != nil {
			return fmt.Errorf("keysharing: storing new account: %w", err)
		}
		s.log.Info("created new account", "user_id", string(s.user), "device_id", string(s.device))
	}
	s.acc = acc
	return nil
}

// Account returns a copy of the loaded account.
func (s *Sharer) Account() (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acc == nil {
		return nil, ErrNotLoaded
	}
	return s.acc.Clone()
}

// MaxOneTimeKeys reports the loaded account's pool size, or 0 before Load.
func (s *Sharer) MaxOneTimeKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acc == nil {
		return 0
	}
	return s.acc.MaxOneTimeKeys
}

// ShareKeys uploads whatever key material the server is missing given that
// it still holds currentOTKCount one-time keys. Device keys are included
// until the account has been shared once. Nothing is sent when there is
// nothing to upload. An upload error is returned and the stored account is
// left as it was.
func (s *Sharer) ShareKeys(ctx context.Context, currentOTKCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acc == nil {
		return ErrNotLoaded
	}

	var deviceKeys *domain.DeviceKeys
	if !s.acc.Shared {
		keys, err := s.acc.DeviceKeys(s.user, s.device)
		if err != nil {
			return err
		}
		deviceKeys = keys
	}
	oneTimeKeys, err := s.acc.SignedOneTimeKeys(s.user, s.device, currentOTKCount)
	if err != nil {
		return err
	}
	if deviceKeys == nil && len(oneTimeKeys) == 0 {
		s.log.Debug("no keys to share", "current_otk_count", currentOTKCount)
		return nil
	}

	s.log.Debug("uploading keys",
		"device_keys", deviceKeys != nil,
		"one_time_keys", len(oneTimeKeys),
	)
	resp, err := s.client.UploadKeys(ctx, oneTimeKeys, deviceKeys)
	if err != nil {
		return fmt.Errorf("keysharing: uploading keys: %w", err)
	}

	s.acc.MarkKeysAsPublished()
	s.acc.Shared = true
	if err := s.store.PutAccount(ctx, s.acc); err != nil {
		return fmt.Errorf("keysharing: storing account: %w", err)
	}
	serverCount := 0
	if resp != nil {
		serverCount = resp.OneTimeKeyCounts[types.KeyAlgorithmSignedCurve25519]
	}
	s.log.Info("shared keys",
		"device_keys", deviceKeys != nil,
		"one_time_keys", len(oneTimeKeys),
		"server_otk_count", serverCount,
	)
	return nil
}

// ReceiveRoomKey stores the inbound group session announced by a decrypted
// m.room_key event. Keys for other algorithms, or from a sender whose
// signing key is unknown, are ignored without error. Redelivery of the same
// key overwrites the stored session with identical content.
func (s *Sharer) ReceiveRoomKey(ctx context.Context, evt *domain.DecryptedOlmEvent) error {
	content, err := evt.RoomKey()
	if err != nil {
		return fmt.Errorf("keysharing: decoding room key: %w", err)
	}
	if content.Algorithm != types.AlgorithmMegolmV1 {
		s.log.Debug("ignoring room key with unsupported algorithm",
			"sender", string(evt.Sender), "algorithm", string(content.Algorithm))
		return nil
	}
	if evt.Keys.Ed25519 == "" {
		s.log.Debug("ignoring room key without sender signing key", "sender", string(evt.Sender))
		return nil
	}

	sess, err := crypto.NewInboundGroupSession(
		evt.SenderKey,
		evt.Keys.Ed25519,
		content.RoomID,
		content.SessionID,
		content.SessionKey,
	)
	if err != nil {
		return fmt.Errorf("keysharing: room key from %s: %w", evt.Sender, err)
	}
	if err := s.store.PutInboundGroupSession(ctx, sess); err != nil {
		return fmt.Errorf("keysharing: storing inbound session: %w", err)
	}
	s.log.Info("received room key",
		"sender", string(evt.Sender),
		"room_id", string(content.RoomID),
		"session_id", string(content.SessionID),
	)
	return nil
}
