package api

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/connectivity"
	"github.com/matheus3301/chatsync/internal/outbox"
	daemonstatus "github.com/matheus3301/chatsync/internal/status"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
)

const eventBuffer = 64

// Options carries the identity and defaults a Service answers with.
type Options struct {
	Profile     string
	UserID      string
	WindowLimit int
}

// Service implements SyncServer on top of the sync engine and outbox.
type Service struct {
	opts    Options
	cache   *cache.Manager
	engine  *chatsync.Engine
	drainer *outbox.Drainer
	net     *connectivity.Monitor
	machine *daemonstatus.Machine
	bus     *bus.Bus
	logger  *zap.Logger
}

var _ SyncServer = (*Service)(nil)

func NewService(
	opts Options,
	c *cache.Manager,
	engine *chatsync.Engine,
	drainer *outbox.Drainer,
	net *connectivity.Monitor,
	machine *daemonstatus.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *Service {
	if opts.WindowLimit <= 0 {
		opts.WindowLimit = chatsync.DefaultWindowLimit
	}
	return &Service{
		opts:    opts,
		cache:   c,
		engine:  engine,
		drainer: drainer,
		net:     net,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
}

func (s *Service) user(u string) string {
	if u = strings.TrimSpace(u); u != "" {
		return u
	}
	return s.opts.UserID
}

func (s *Service) limit(n int) int {
	if n > 0 {
		return n
	}
	return s.opts.WindowLimit
}

func (s *Service) scope(sc Scope) (conv, user string, err error) {
	conv = strings.TrimSpace(sc.Conversation)
	if conv == "" {
		return "", "", status.Error(codes.InvalidArgument, "conversation is required")
	}
	user = s.user(sc.User)
	if user == "" {
		return "", "", status.Error(codes.InvalidArgument, "user is required")
	}
	return conv, user, nil
}

func toSyncResponse(r chatsync.Result) *SyncResponse {
	msgs := r.Messages
	if msgs == nil {
		msgs = []cache.CachedMessage{}
	}
	return &SyncResponse{
		Source:         string(r.Source),
		Messages:       msgs,
		Agent:          r.Agent,
		HasNewMessages: r.HasNewMessages,
		IsOnline:       r.IsOnline,
	}
}

func (s *Service) GetStatus(ctx context.Context, _ *StatusRequest) (*StatusResponse, error) {
	scopes := s.cache.Scopes(ctx)
	pending := 0
	for _, k := range scopes {
		pending += len(s.cache.UnsyncedMessages(ctx, k.Conversation, k.User))
	}
	return &StatusResponse{
		Profile:       s.opts.Profile,
		State:         string(s.machine.Current()),
		Online:        s.net.IsOnline(),
		User:          s.opts.UserID,
		Scopes:        len(scopes),
		Pending:       pending,
		DroppedEvents: s.bus.Dropped(),
	}, nil
}

func (s *Service) Sync(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	conv, user, err := s.scope(req.Scope)
	if err != nil {
		return nil, err
	}

	syncing := s.machine.Transition(daemonstatus.Syncing) == nil
	res := s.engine.Sync(ctx, conv, user, s.limit(req.Limit))
	if syncing && s.machine.Current() == daemonstatus.Syncing {
		_ = s.machine.Transition(daemonstatus.Online)
	}
	return toSyncResponse(res), nil
}

func (s *Service) SendMessage(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	conv, user, err := s.scope(req.Scope)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, status.Error(codes.InvalidArgument, "content is required")
	}
	msg := s.drainer.AddOptimistic(ctx, conv, user, req.Content, cache.ParseMessageType(req.Type))
	return &SendResponse{Message: msg}, nil
}

func (s *Service) Drain(ctx context.Context, req *DrainRequest) (*DrainResponse, error) {
	if req.All {
		uploaded, failed := s.drainer.DrainAll(ctx)
		return &DrainResponse{Uploaded: uploaded, Failed: failed}, nil
	}
	conv, user, err := s.scope(req.Scope)
	if err != nil {
		return nil, err
	}
	uploaded, failed := s.drainer.DrainScope(ctx, conv, user)
	return &DrainResponse{Uploaded: uploaded, Failed: failed}, nil
}

func (s *Service) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	conv, user, err := s.scope(req.Scope)
	if err != nil {
		return nil, err
	}
	msgs := s.cache.LoadMessages(ctx, conv, user)
	pending := 0
	for _, m := range msgs {
		if !m.Synced {
			pending++
		}
	}
	if req.Limit > 0 && len(msgs) > req.Limit {
		msgs = msgs[len(msgs)-req.Limit:]
	}
	return &ListMessagesResponse{
		Messages: msgs,
		Pending:  pending,
		LastSync: s.cache.LoadLastSync(ctx, conv, user),
	}, nil
}

func (s *Service) SearchMessages(ctx context.Context, req *SearchMessagesRequest) (*SearchMessagesResponse, error) {
	conv, user, err := s.scope(req.Scope)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, status.Error(codes.InvalidArgument, "query is required")
	}
	msgs := s.cache.SearchMessages(ctx, conv, user, req.Query, req.Limit)
	if msgs == nil {
		msgs = []cache.CachedMessage{}
	}
	return &SearchMessagesResponse{Messages: msgs}, nil
}

func (s *Service) ListChats(ctx context.Context, req *ListChatsRequest) (*ListChatsResponse, error) {
	user := s.user(req.User)
	if user == "" {
		return nil, status.Error(codes.InvalidArgument, "user is required")
	}
	chats := s.cache.LoadChatList(ctx, user)
	if chats == nil {
		chats = []cache.ChatListItem{}
	}
	return &ListChatsResponse{Chats: chats}, nil
}

func (s *Service) MarkRead(ctx context.Context, req *MarkReadRequest) (*MarkReadResponse, error) {
	conv, user, err := s.scope(req.Scope)
	if err != nil {
		return nil, err
	}
	if !s.cache.MarkChatRead(ctx, user, conv) {
		return nil, status.Errorf(codes.NotFound, "no chat list entry for %s", conv)
	}
	return &MarkReadResponse{}, nil
}

func (s *Service) ClearConversation(ctx context.Context, req *ClearConversationRequest) (*ClearConversationResponse, error) {
	conv, user, err := s.scope(req.Scope)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Clear(ctx, conv, user); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	s.logger.Info("conversation cleared", zap.String("conversation", conv), zap.String("user", user))
	return &ClearConversationResponse{}, nil
}

func (s *Service) WatchEvents(req *WatchEventsRequest, stream grpc.ServerStreamingServer[bus.Event]) error {
	ctx := stream.Context()
	ch, unsub := s.bus.Subscribe(req.Namespace, eventBuffer)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-ch:
			if err := stream.Send(&evt); err != nil {
				return err
			}
		}
	}
}

// WatchConversation sends the current sync result, then a fresh one after
// every reconnect until the client goes away.
func (s *Service) WatchConversation(req *WatchConversationRequest, stream grpc.ServerStreamingServer[SyncResponse]) error {
	conv, user, err := s.scope(req.Scope)
	if err != nil {
		return err
	}
	// Cancelled before stop so a pending delivery can give up.
	ctx, cancel := context.WithCancel(stream.Context())
	limit := s.limit(req.Limit)

	results := make(chan chatsync.Result, 4)
	stop := s.engine.Watch(ctx, conv, user, limit, func(r chatsync.Result) {
		select {
		case results <- r:
		case <-ctx.Done():
		}
	})
	defer stop()
	defer cancel()

	if err := stream.Send(toSyncResponse(s.engine.Sync(ctx, conv, user, limit))); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-results:
			if err := stream.Send(toSyncResponse(r)); err != nil {
				return err
			}
		}
	}
}
