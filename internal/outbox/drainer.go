// Package outbox uploads messages written while offline or before the
// remote service acknowledged them.
package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/scope"
)

// Uploader is the write side of the remote message service.
type Uploader interface {
	SendMessage(ctx context.Context, conversation string, req remote.SendRequest) (*remote.SendResult, error)
}

// Connectivity answers whether the remote service is believed reachable.
type Connectivity interface {
	IsOnline() bool
}

// Drainer replays pending local writes against the remote service.
type Drainer struct {
	cache    *cache.Manager
	uploader Uploader
	net      Connectivity
	locks    *scope.Locks
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time

	// inflight tracks drains started by AddOptimistic.
	inflight sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	kick   chan struct{}
}

// NewDrainer creates a drainer. bus may be nil.
func NewDrainer(c *cache.Manager, u Uploader, net Connectivity, locks *scope.Locks, b *bus.Bus, logger *zap.Logger) *Drainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drainer{
		cache:    c,
		uploader: u,
		net:      net,
		locks:    locks,
		bus:      b,
		logger:   logger,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
	}
}

// Drain uploads every pending message of the scope in stored order and
// returns how many were acknowledged. Failed uploads stay pending.
func (d *Drainer) Drain(ctx context.Context, conv, user string) int {
	uploaded, _ := d.drain(ctx, conv, user)
	return uploaded
}

// DrainScope is Drain reporting failed uploads as well.
func (d *Drainer) DrainScope(ctx context.Context, conv, user string) (uploaded, failed int) {
	return d.drain(ctx, conv, user)
}

func (d *Drainer) drain(ctx context.Context, conv, user string) (uploaded, failed int) {
	if !d.net.IsOnline() {
		return 0, 0
	}

	unlock, err := d.locks.Lock(ctx, scope.Key{Conversation: conv, User: user})
	if err != nil {
		return 0, 0
	}
	defer unlock()

	pending := d.cache.UnsyncedMessages(ctx, conv, user)
	if len(pending) == 0 {
		return 0, 0
	}

	log := d.logger.With(zap.String("conversation", conv), zap.String("user", user))
	for _, msg := range pending {
		if ctx.Err() != nil {
			break
		}
		res, err := d.uploader.SendMessage(ctx, conv, remote.SendRequest{
			Content:        msg.Content,
			Type:           string(msg.MessageType),
			AudioDuration:  msg.AudioDuration,
			IdempotencyKey: msg.ID,
		})
		if err != nil {
			failed++
			log.Warn("upload failed", zap.String("temp_id", msg.ID), zap.Error(err))
			if errors.Is(err, remote.ErrUnauthorized) {
				d.bus.Emit(bus.KindAuthFailed, map[string]string{"conversation": conv})
			}
			d.bus.Emit(bus.KindMessageUploadFailed, map[string]string{
				"conversation": conv,
				"user":         user,
				"temp_id":      msg.ID,
				"error":        err.Error(),
			})
			continue
		}

		if !d.confirm(ctx, conv, user, msg, res) {
			// Left pending; the idempotent replay confirms it next round.
			log.Warn("upload acknowledged but cache unreadable", zap.String("temp_id", msg.ID), zap.String("id", res.ID))
			continue
		}
		uploaded++
		log.Info("message uploaded", zap.String("temp_id", msg.ID), zap.String("id", res.ID))
		d.bus.Emit(bus.KindMessageConfirmed, map[string]string{
			"conversation": conv,
			"user":         user,
			"temp_id":      msg.ID,
			"id":           res.ID,
		})
	}
	return uploaded, failed
}

// confirm rewrites the pending record to its server id. If a sync already
// pulled the server copy in, the pending duplicate is dropped instead. It
// reports false, changing nothing, when the scope could not be read.
func (d *Drainer) confirm(ctx context.Context, conv, user string, msg cache.CachedMessage, res *remote.SendResult) bool {
	cached, ok := d.cache.ReadMessages(ctx, conv, user)
	if !ok {
		return false
	}
	present := make(map[string]bool, len(cached))
	for _, m := range cached {
		present[m.ID] = true
	}

	if present[res.ID] {
		d.cache.RemoveMessage(ctx, conv, user, msg.ID)
	} else {
		d.cache.UpdateMessage(ctx, conv, user, msg.ID, cache.ConfirmPatch(res.ID))
	}

	if res.Reply != nil && !present[res.Reply.ID] {
		reply := cache.MessageFromRemote(*res.Reply, d.cache.LoadAgent(ctx, conv))
		d.cache.AddMessage(ctx, conv, user, reply)
	}
	return true
}

// AddOptimistic records a user message locally, updates the chat list and
// starts an upload in the background. The returned record is pending.
func (d *Drainer) AddOptimistic(ctx context.Context, conv, user, content string, typ cache.MessageType) cache.CachedMessage {
	if typ == "" {
		typ = cache.TypeText
	}
	msg := cache.CachedMessage{
		ID:          cache.NewTempID(),
		Content:     content,
		Sender:      cache.SenderUser,
		Timestamp:   d.now().UTC(),
		MessageType: typ,
		LocalOnly:   true,
	}

	// The write must land even if the caller goes away.
	detached := context.WithoutCancel(ctx)
	if unlock, err := d.locks.Lock(detached, scope.Key{Conversation: conv, User: user}); err == nil {
		if !d.cache.AddMessage(detached, conv, user, msg) {
			d.logger.Warn("optimistic message not stored",
				zap.String("conversation", conv),
				zap.String("temp_id", msg.ID),
			)
		}
		unlock()
	}

	agent := d.cache.LoadAgent(detached, conv)
	d.cache.EditChatListEntry(detached, user, conv, func(item *cache.ChatListItem) bool {
		item.LastMessage = content
		item.LastMessageTime = msg.Timestamp
		if agent != nil {
			item.AgentName = agent.Name
			item.AgentAvatar = agent.Avatar
		}
		return true
	})

	d.bus.Emit(bus.KindMessageLocal, map[string]string{
		"conversation": conv,
		"user":         user,
		"temp_id":      msg.ID,
	})

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.Drain(detached, conv, user)
	}()
	return msg
}

// Wait blocks until drains started by AddOptimistic have finished.
func (d *Drainer) Wait() {
	d.inflight.Wait()
}
