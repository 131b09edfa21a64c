package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/wishp/circles/internal/auth"
	"github.com/wishp/circles/internal/chat"
	"github.com/wishp/circles/internal/hub"
	"github.com/wishp/circles/internal/middleware"
	"github.com/wishp/circles/internal/room"
	"github.com/wishp/circles/internal/social"
	"go.uber.org/zap"
)

var (
	errMalformedFrame = errors.New("malformed frame")
	errUnknownFrame   = errors.New("unknown frame type")
	errRateLimited    = errors.New("rate limit exceeded")
)

// frame is a client -> server message. Only the fields its type needs are
// read.
type frame struct {
	Type      string           `json:"type"`
	ID        string           `json:"id,omitempty"`
	Topic     string           `json:"topic,omitempty"`
	Target    chat.Target      `json:"target"`
	Draft     chat.Draft       `json:"draft"`
	MessageID string           `json:"messageId,omitempty"`
	Emoji     string           `json:"emoji,omitempty"`
	Code      string           `json:"code,omitempty"`
	Name      string           `json:"name,omitempty"`
	Mode      room.Mode        `json:"mode,omitempty"`
	Custom    room.PhaseConfig `json:"custom"`
	Version   int64            `json:"version,omitempty"`
	Text      string           `json:"text,omitempty"`
}

// reply answers one frame: {type: "ack", id, data} or {type: "error", id, error}.
type reply struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// WebsocketHandler GET /api/ws?token=
func (s *Server) WebsocketHandler(c *websocket.Conn) {
	cl, _ := c.Locals(middleware.ClaimsKey).(*auth.Claims)
	if cl == nil {
		_ = c.Close()
		return
	}
	client := hub.NewClient(cl.UID, s.nameFor(context.Background(), cl.UID, cl.Name), c, 64)
	sess := s.newSession(client)
	defer sess.close()

	go client.WritePump()
	client.ReadPump(sess.handle)
}

// wsSession is the server side of one connection. handle and close run on
// the connection's read goroutine only.
type wsSession struct {
	srv    *Server
	client *hub.Client
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	chats map[string]chat.Target // chat id -> open target
	rooms map[string]string      // room code -> participant key
}

func (s *Server) newSession(client *hub.Client) *wsSession {
	ctx, cancel := context.WithCancel(context.Background())
	w := &wsSession{
		srv:    s,
		client: client,
		ctx:    ctx,
		cancel: cancel,
		log:    s.Log.With(zap.String("uid", client.UID), zap.String("conn", client.ID())),
		chats:  map[string]chat.Target{},
		rooms:  map[string]string{},
	}
	s.Hub.Subscribe(chat.InboxTopic(client.UID), client)
	s.Hub.Subscribe(social.NotificationsTopic(client.UID), client)
	if s.Presence != nil {
		s.Presence.Online(ctx, client.UID, client.ID())
	}
	w.log.Debug("ws connected")
	return w
}

// close undoes everything the connection holds: open chats (viewers and
// typing), room seats, subscriptions and presence.
func (w *wsSession) close() {
	s := w.srv
	for _, t := range w.chats {
		if err := s.Chat.CloseChat(w.ctx, w.client.UID, t); err != nil {
			w.log.Debug("close chat on disconnect", zap.Error(err))
		}
	}
	for code, key := range w.rooms {
		if err := s.Rooms.Leave(w.ctx, code, key); err != nil && !errors.Is(err, room.ErrRoomNotFound) {
			w.log.Warn("leave room on disconnect", zap.String("room", code), zap.Error(err))
		}
	}
	s.Hub.Drop(w.client.ID())
	if s.Presence != nil {
		s.Presence.Offline(w.ctx, w.client.UID, w.client.ID())
	}
	w.cancel()
	w.client.Close()
	w.log.Debug("ws disconnected")
}

func (w *wsSession) handle(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		w.send(reply{Type: "error", Error: errMalformedFrame.Error()})
		return
	}
	data, err := w.dispatch(f)
	if err != nil {
		w.send(reply{Type: "error", ID: f.ID, Error: err.Error()})
		return
	}
	w.send(reply{Type: "ack", ID: f.ID, Data: data})
}

func (w *wsSession) send(r reply) {
	b, err := json.Marshal(r)
	if err != nil {
		w.log.Error("marshal reply", zap.Error(err))
		return
	}
	if err := w.client.Send(b); err != nil {
		w.log.Debug("reply dropped", zap.Error(err))
	}
}

func (w *wsSession) limited() bool {
	l := w.srv.FrameLimiter
	return l != nil && !l.Allow("ws:"+w.client.UID)
}

func (w *wsSession) dispatch(f frame) (any, error) {
	s, uid, name := w.srv, w.client.UID, w.client.Name
	switch f.Type {
	case "subscribe":
		if !s.canSubscribe(uid, f.Topic) {
			return nil, chat.ErrForbidden
		}
		s.Hub.Subscribe(f.Topic, w.client)
		return nil, nil
	case "unsubscribe":
		s.Hub.Unsubscribe(f.Topic, w.client.ID())
		return nil, nil

	case "open_chat":
		th, err := s.Chat.OpenChat(w.ctx, uid, f.Target)
		if err != nil {
			return nil, err
		}
		if _, open := w.chats[th.ChatID]; !open {
			w.chats[th.ChatID] = f.Target
			for _, topic := range chat.Topics(th.ChatID) {
				s.Hub.Subscribe(topic, w.client)
			}
		}
		return th, nil
	case "close_chat":
		id, err := chat.ChatID(uid, f.Target)
		if err != nil {
			return nil, err
		}
		if _, open := w.chats[id]; !open {
			return nil, nil
		}
		delete(w.chats, id)
		for _, topic := range chat.Topics(id) {
			s.Hub.Unsubscribe(topic, w.client.ID())
		}
		err = s.Chat.CloseChat(w.ctx, uid, f.Target)
		if errors.Is(err, chat.ErrForbidden) || errors.Is(err, chat.ErrNotFound) {
			// the user left or the chat is gone, nothing to close
			return nil, nil
		}
		return nil, err
	case "send":
		if w.limited() {
			return nil, errRateLimited
		}
		return s.Chat.SendMessage(w.ctx, uid, name, f.Target, f.Draft)
	case "typing":
		if w.limited() {
			return nil, errRateLimited
		}
		return s.Chat.Typing(w.ctx, uid, name, f.Target)
	case "stop_typing":
		return nil, s.Chat.StopTyping(w.ctx, uid, f.Target)
	case "seen":
		return nil, s.Chat.MarkSeen(w.ctx, uid, f.Target)
	case "react":
		return s.Chat.ToggleReaction(w.ctx, uid, f.Target, f.MessageID, f.Emoji)
	case "unsend":
		return nil, s.Chat.Unsend(w.ctx, uid, f.Target, f.MessageID)

	case "room_create":
		v, err := s.Rooms.Create(w.ctx, uid, name, f.Name)
		if err != nil {
			return nil, err
		}
		w.seat(v)
		return v, nil
	case "room_join":
		code := room.NormalizeCode(f.Code)
		if key, ok := w.rooms[code]; ok {
			return s.Rooms.View(code, key)
		}
		v, err := s.Rooms.Join(w.ctx, code, uid, name)
		if err != nil {
			return nil, err
		}
		w.seat(v)
		return v, nil
	case "room_leave":
		code, key, err := w.roomKey(f.Code)
		if err != nil {
			return nil, err
		}
		delete(w.rooms, code)
		s.Hub.Unsubscribe(room.Topic(code), w.client.ID())
		s.Hub.Unsubscribe(room.MessagesTopic(code), w.client.ID())
		return nil, s.Rooms.Leave(w.ctx, code, key)
	case "room_toggle":
		return w.withRoom(f.Code, func(code, key string) (room.View, error) { return s.Rooms.Toggle(w.ctx, code, key) })
	case "room_reset":
		return w.withRoom(f.Code, func(code, key string) (room.View, error) { return s.Rooms.Reset(w.ctx, code, key) })
	case "room_mode":
		return w.withRoom(f.Code, func(code, key string) (room.View, error) {
			return s.Rooms.SetMode(w.ctx, code, key, f.Mode, f.Custom)
		})
	case "room_advance":
		return w.withRoom(f.Code, func(code, key string) (room.View, error) {
			return s.Rooms.AdvancePhase(w.ctx, code, key, f.Version)
		})
	case "room_claim_host":
		return w.withRoom(f.Code, func(code, key string) (room.View, error) { return s.Rooms.ClaimHost(w.ctx, code, key) })
	case "room_message":
		if w.limited() {
			return nil, errRateLimited
		}
		code, key, err := w.roomKey(f.Code)
		if err != nil {
			return nil, err
		}
		return s.Rooms.SendMessage(w.ctx, code, key, f.Text)
	}
	return nil, errUnknownFrame
}

// seat remembers the participant key of a joined room and subscribes to
// the room's topics.
func (w *wsSession) seat(v room.View) {
	code := v.Room.Code
	w.rooms[code] = v.Key
	w.srv.Hub.Subscribe(room.Topic(code), w.client)
	w.srv.Hub.Subscribe(room.MessagesTopic(code), w.client)
}

func (w *wsSession) roomKey(code string) (string, string, error) {
	code = room.NormalizeCode(code)
	key, ok := w.rooms[code]
	if !ok {
		return "", "", room.ErrNotParticipant
	}
	return code, key, nil
}

func (w *wsSession) withRoom(code string, op func(code, key string) (room.View, error)) (any, error) {
	code, key, err := w.roomKey(code)
	if err != nil {
		return nil, err
	}
	return op(code, key)
}

// canSubscribe authorizes a topic subscription for uid.
func (s *Server) canSubscribe(uid, topic string) bool {
	if s.Chat.CanSubscribe(uid, topic) {
		return true
	}
	prefix, rest, _ := strings.Cut(topic, "/")
	if rest == "" {
		return false
	}
	switch prefix {
	case "rooms":
		code, _, _ := strings.Cut(rest, "/")
		return s.Rooms.IsParticipant(code, uid)
	case "notifications", "friends", "friendRequests":
		return rest == uid
	case "presence":
		return !s.Social.Blocked(uid, rest)
	case "posts":
		_, err := s.Social.Post(uid, rest)
		return err == nil
	}
	return false
}

// nameFor prefers the stored profile name over fallback.
func (s *Server) nameFor(ctx context.Context, uid, fallback string) string {
	if s.Users != nil {
		if u, err := s.Users.GetUser(ctx, uid); err == nil && u.DisplayName != "" {
			return u.DisplayName
		}
	}
	return fallback
}
