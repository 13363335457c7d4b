package ws

import (
	"context"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/synsocial/chatsync/internal/delivery"
	"github.com/synsocial/chatsync/internal/events"
	"github.com/synsocial/chatsync/internal/identity"
	"github.com/synsocial/chatsync/internal/signal"
	"github.com/synsocial/chatsync/internal/store"
	"github.com/synsocial/chatsync/internal/supervisor"
	"github.com/synsocial/chatsync/internal/transport"
)

// feed is the per-chat supervision state, shared by every connection on
// that chat and torn down when the last one leaves.
type feed struct {
	cancel context.CancelFunc
	refs   int
}

type Server struct {
	hub      *Hub
	machine  *delivery.Machine
	typing   *signal.TypingSignaler
	presence *signal.PresenceKeeper
	chats    store.ChatStore
	messages store.MessageStore
	bus      *events.Bus
	rt       transport.Realtime
	supCfg   supervisor.Config
	secret   string
	log      *zap.SugaredLogger

	mu    sync.Mutex
	feeds map[string]*feed
}

func NewServer(machine *delivery.Machine, typing *signal.TypingSignaler, presence *signal.PresenceKeeper, chats store.ChatStore, messages store.MessageStore, bus *events.Bus, rt transport.Realtime, supCfg supervisor.Config, secret string, log *zap.SugaredLogger) *Server {
	return &Server{
		hub:      NewHub(),
		machine:  machine,
		typing:   typing,
		presence: presence,
		chats:    chats,
		messages: messages,
		bus:      bus,
		rt:       rt,
		supCfg:   supCfg,
		secret:   secret,
		log:      log,
		feeds:    make(map[string]*feed),
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// HandleWS authenticates the upgrade, joins the chat room and pumps
// until the peer goes away.
func (s *Server) HandleWS() func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		token := conn.Query("token")
		chatID := conn.Query("chat_id")
		if token == "" || chatID == "" {
			_ = conn.Close()
			return
		}
		claims, err := identity.ParseAndValidateToken(s.secret, token)
		if err != nil {
			_ = conn.Close()
			return
		}
		userID := claims.UserUUID

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ok, err := s.chats.IsParticipant(ctx, chatID, userID)
		if err != nil || !ok {
			_ = conn.Close()
			return
		}

		c := newConnection(conn, chatID, userID, s)
		s.hub.Register(chatID, c)
		s.acquireFeed(chatID)
		go s.presence.Keep(ctx, chatID, userID)
		go c.writePump()
		c.Send(s.snapshot(ctx, chatID, userID))

		c.readPump(ctx)

		s.hub.Unregister(chatID, c)
		s.releaseFeed(chatID)
		// a background pause must not outlive the connection; whatever
		// was observed but not yet flushed becomes read now
		s.machine.Foreground(userID)
		s.machine.ChatClosed(chatID, userID)
	}
}

// snapshot seeds a fresh connection with who is online and typing right
// now. Later changes arrive as incremental typing frames.
func (s *Server) snapshot(ctx context.Context, chatID, userID string) Frame {
	f := Frame{Type: "snapshot"}
	typers, err := s.typing.Typers(ctx, chatID, userID)
	if err != nil {
		s.log.Warnw("typing snapshot", "chat_id", chatID, "err", err)
	}
	f.Typers = typers
	entries, err := s.presence.Online(ctx, chatID)
	if err != nil {
		s.log.Warnw("presence snapshot", "chat_id", chatID, "err", err)
	}
	for _, e := range entries {
		f.Online = append(f.Online, e.UserID)
	}
	return f
}

// acquireFeed starts the chat's supervised subscription and bus pump on
// first use.
func (s *Server) acquireFeed(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.feeds[chatID]; ok {
		f.refs++
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.feeds[chatID] = &feed{cancel: cancel, refs: 1}

	sup := supervisor.New(s.rt, s.messages, s.bus, s.supCfg, s.log)
	go sup.Run(ctx, chatID)
	go s.pump(ctx, chatID)
}

func (s *Server) releaseFeed(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[chatID]
	if !ok {
		return
	}
	f.refs--
	if f.refs <= 0 {
		f.cancel()
		delete(s.feeds, chatID)
	}
}

// pump forwards the chat's bus traffic into the room.
func (s *Server) pump(ctx context.Context, chatID string) {
	msgs, cancelMsgs := s.bus.SubscribeMessages(chatID)
	defer cancelMsgs()
	typing, cancelTyping := s.bus.SubscribeTyping(chatID)
	defer cancelTyping()
	status, cancelStatus := s.bus.SubscribeStatus()
	defer cancelStatus()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-msgs:
			e := ev
			// delete-for-me is visible only to the deleting user
			only := ""
			if ev.Kind == events.MessageDeleted && ev.ReaderID != "" {
				only = ev.ReaderID
			}
			s.hub.Broadcast(chatID, Frame{Type: "message", Event: &e}, only)
		case sig := <-typing:
			t := sig
			s.hub.Broadcast(chatID, Frame{Type: "typing", Typing: &t}, "")
		case st := <-status:
			s.hub.Broadcast(chatID, Frame{Type: "status", Status: st.String()}, "")
		}
	}
}
