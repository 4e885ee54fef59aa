package sync

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/scope"
)

// DefaultWindowLimit is the number of recent messages fetched per sync.
const DefaultWindowLimit = 50

// Remote is the read side of the remote message service.
type Remote interface {
	FetchMessages(ctx context.Context, conversation string, limit int) ([]remote.Message, error)
	FetchAgent(ctx context.Context, agentID string) (*remote.Agent, error)
}

// Connectivity answers whether the remote service is believed reachable.
type Connectivity interface {
	IsOnline() bool
}

// Reconciler brings a scope's cache in line with the remote service.
type Reconciler struct {
	cache  *cache.Manager
	remote Remote
	net    Connectivity
	locks  *scope.Locks
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	group singleflight.Group
}

// NewReconciler creates a reconciler. bus may be nil.
func NewReconciler(c *cache.Manager, r Remote, net Connectivity, locks *scope.Locks, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		cache:  c,
		remote: r,
		net:    net,
		locks:  locks,
		bus:    b,
		logger: logger,
		now:    time.Now,
	}
}

// Sync reconciles one scope and returns the merged view. It never fails:
// remote errors degrade to the cached state. Concurrent calls for the same
// scope and window share a single run.
func (r *Reconciler) Sync(ctx context.Context, conv, user string, windowLimit int) Result {
	if windowLimit <= 0 {
		windowLimit = DefaultWindowLimit
	}
	key := conv + "\x00" + user + "\x00" + strconv.Itoa(windowLimit)
	v, _, shared := r.group.Do(key, func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		return r.sync(context.WithoutCancel(ctx), conv, user, windowLimit), nil
	})
	res := v.(Result)
	if shared {
		res = res.clone()
	}
	return res
}

func (r *Reconciler) sync(ctx context.Context, conv, user string, windowLimit int) Result {
	log := r.logger.With(zap.String("conversation", conv), zap.String("user", user))

	unlock, err := r.locks.Lock(ctx, scope.Key{Conversation: conv, User: user})
	if err != nil {
		log.Warn("scope lock failed", zap.Error(err))
		return Result{Source: SourceCache, Messages: r.cache.LoadMessages(ctx, conv, user), Agent: r.cache.LoadAgent(ctx, conv), IsOnline: r.net.IsOnline()}
	}
	defer unlock()

	cached, readOK := r.cache.ReadMessages(ctx, conv, user)
	agent := r.cache.LoadAgent(ctx, conv)

	if !r.net.IsOnline() {
		return Result{Source: SourceCache, Messages: cached, Agent: agent, IsOnline: false}
	}

	var (
		g         errgroup.Group
		fetched   []remote.Message
		fetchedAg *remote.Agent
		msgErr    error
		agentErr  error
	)
	g.Go(func() error {
		fetched, msgErr = r.remote.FetchMessages(ctx, conv, windowLimit)
		return nil
	})
	g.Go(func() error {
		fetchedAg, agentErr = r.remote.FetchAgent(ctx, conv)
		return nil
	})
	_ = g.Wait()
	if agentErr == nil && fetchedAg == nil {
		agentErr = errors.New("empty agent response")
	}

	if errors.Is(msgErr, remote.ErrUnauthorized) || errors.Is(agentErr, remote.ErrUnauthorized) {
		r.bus.Emit(bus.KindAuthFailed, map[string]string{"conversation": conv})
	}

	if msgErr != nil && agentErr != nil {
		log.Warn("sync failed, serving cache",
			zap.NamedError("messages_error", msgErr),
			zap.NamedError("agent_error", agentErr),
		)
		r.bus.Emit(bus.KindSyncFailed, map[string]string{"conversation": conv, "user": user})
		return Result{Source: SourceCache, Messages: cached, Agent: agent, IsOnline: false}
	}

	now := r.now()
	if agentErr == nil {
		a := cache.AgentFromRemote(*fetchedAg, now)
		r.cache.SaveAgent(ctx, conv, a)
		agent = &a
	} else {
		log.Warn("agent fetch failed", zap.Error(agentErr))
	}

	res := Result{Source: SourceHybrid, Messages: cached, Agent: agent, IsOnline: true}
	if msgErr == nil {
		converted := make([]cache.CachedMessage, 0, len(fetched))
		for _, m := range fetched {
			converted = append(converted, cache.MessageFromRemote(m, agent))
		}
		merged := Merge(cached, converted, windowLimit)
		res.Messages = merged

		if !readOK {
			// Pending writes may be stored but unseen; keep them.
			log.Warn("cache unreadable, serving remote window without saving")
		} else {
			r.cache.SaveMessages(ctx, conv, user, merged)
			if len(cached) == 0 {
				res.Source = SourceBackend
			}
			res.HasNewMessages = len(merged) > len(cached)
			if len(merged) < len(cached) {
				log.Info("remote window shrank", zap.Int("before", len(cached)), zap.Int("after", len(merged)))
			}
			r.refreshChatList(ctx, user, conv, agent, cached, merged)
		}
	} else {
		log.Warn("message fetch failed", zap.Error(msgErr))
	}

	r.cache.SaveLastSync(ctx, conv, user, now)
	r.bus.Emit(bus.KindSyncCompleted, map[string]string{
		"conversation": conv,
		"user":         user,
		"source":       string(res.Source),
		"count":        strconv.Itoa(len(res.Messages)),
		"new":          strconv.FormatBool(res.HasNewMessages),
	})
	return res
}

// refreshChatList bumps the conversation's list entry when the sync brought
// agent messages that were not cached before.
func (r *Reconciler) refreshChatList(ctx context.Context, user, conv string, agent *cache.CachedAgent, before, after []cache.CachedMessage) {
	seen := make(map[string]struct{}, len(before))
	for _, m := range before {
		seen[m.ID] = struct{}{}
	}
	fresh := 0
	for _, m := range after {
		if _, ok := seen[m.ID]; !ok && m.Sender == cache.SenderAgent {
			fresh++
		}
	}
	if fresh == 0 || len(after) == 0 {
		return
	}

	last := after[len(after)-1]
	r.cache.EditChatListEntry(ctx, user, conv, func(item *cache.ChatListItem) bool {
		item.LastMessage = last.Content
		item.LastMessageTime = last.Timestamp
		item.UnreadCount += fresh
		if agent != nil {
			item.AgentName = agent.Name
			item.AgentAvatar = agent.Avatar
		}
		return true
	})
}

// Clear drops a scope's cached messages once no sync or drain is using it.
func (r *Reconciler) Clear(ctx context.Context, conv, user string) error {
	unlock, err := r.locks.Lock(ctx, scope.Key{Conversation: conv, User: user})
	if err != nil {
		return err
	}
	defer unlock()
	r.cache.ClearConversation(ctx, conv, user)
	return nil
}
