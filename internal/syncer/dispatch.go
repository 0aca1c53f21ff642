package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"keyward/internal/domain"
	"keyward/internal/domain/types"
)

// Handler receives the signals carried by a sync response.
// machine.OlmMachine implements it.
type Handler interface {
	HandleOTKCount(ctx context.Context, count domain.OTKCount) error
	HandleDeviceLists(ctx context.Context, lists domain.DeviceLists) error
	HandleMemberEvent(ctx context.Context, evt *domain.MemberEvent) error
	HandleToDeviceEvent(ctx context.Context, evt *domain.ToDeviceEvent) error
}

// Dispatcher delivers sync responses to a Handler.
type Dispatcher struct {
	handler Handler
	state   domain.StateWriter
	log     *slog.Logger
}

// New returns a Dispatcher. state may be nil when room state is maintained
// elsewhere. A nil logger discards output.
func New(handler Handler, state domain.StateWriter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{handler: handler, state: state, log: logger}
}

// Dispatch records room state from resp, then runs the handlers. Errors
// from every handler are joined; one failing event does not stop the rest.
func (d *Dispatcher) Dispatch(ctx context.Context, resp *Response) error {
	members, err := d.applyState(ctx, resp)
	if err != nil {
		return err
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	run := func(class string, fn func() []error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			failed := fn()
			if len(failed) == 0 {
				return
			}
			d.log.Warn("sync handler failed", "signal", class, "errors", len(failed))
			mu.Lock()
			errs = append(errs, failed...)
			mu.Unlock()
		}()
	}

	if count, ok := resp.OTKCounts[types.KeyAlgorithmSignedCurve25519]; ok {
		run("one_time_keys", func() []error {
			return single(d.handler.HandleOTKCount(ctx, domain.OTKCount{
				Curve25519:       resp.OTKCounts[types.KeyAlgorithmCurve25519],
				SignedCurve25519: count,
			}))
		})
	}
	if resp.DeviceLists != nil && len(resp.DeviceLists.Changed) > 0 {
		run("device_lists", func() []error {
			return single(d.handler.HandleDeviceLists(ctx, *resp.DeviceLists))
		})
	}
	if len(members) > 0 {
		run("membership", func() []error {
			var out []error
			for _, evt := range members {
				if err := d.handler.HandleMemberEvent(ctx, evt); err != nil {
					out = append(out, err)
				}
			}
			return out
		})
	}
	if len(resp.ToDevice.Events) > 0 {
		run("to_device", func() []error {
			var out []error
			for _, evt := range resp.ToDevice.Events {
				if evt == nil {
					continue
				}
				if err := d.handler.HandleToDeviceEvent(ctx, evt); err != nil {
					out = append(out, err)
				}
			}
			return out
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

// applyState records encryption and membership for every joined room and
// returns the membership changes in sync order. Rooms are visited in id
// order so repeated dispatches behave the same.
func (d *Dispatcher) applyState(ctx context.Context, resp *Response) ([]*domain.MemberEvent, error) {
	rooms := make([]domain.RoomID, 0, len(resp.Rooms.Join))
	for id := range resp.Rooms.Join {
		rooms = append(rooms, id)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })

	var members []*domain.MemberEvent
	for _, id := range rooms {
		joined := resp.Rooms.Join[id]
		events := append(append([]RoomEvent(nil), joined.State.Events...), joined.Timeline.Events...)
		for i := range events {
			evt := &events[i]
			if evt.encryptionEvent() {
				if d.state != nil {
					if err := d.state.SetEncrypted(ctx, id, true); err != nil {
						return nil, fmt.Errorf("syncer: recording encryption of %s: %w", id, err)
					}
				}
				continue
			}
			member, ok := evt.memberEvent(id)
			if !ok {
				continue
			}
			if d.state != nil {
				if err := d.state.SetMembership(ctx, id, domain.UserID(member.StateKey), member.Content.Membership); err != nil {
					return nil, fmt.Errorf("syncer: recording membership in %s: %w", id, err)
				}
			}
			members = append(members, member)
		}
	}
	return members, nil
}

func single(err error) []error {
	if err == nil {
		return nil
	}
	return []error{err}
}
