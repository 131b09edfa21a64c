// Package handlers exposes the service over fiber: REST routes under /api
// and the realtime websocket at /api/ws.
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/wishp/circles/internal/auth"
	"github.com/wishp/circles/internal/chat"
	"github.com/wishp/circles/internal/data"
	"github.com/wishp/circles/internal/hub"
	"github.com/wishp/circles/internal/media"
	"github.com/wishp/circles/internal/middleware"
	"github.com/wishp/circles/internal/presence"
	"github.com/wishp/circles/internal/room"
	"github.com/wishp/circles/internal/social"
	"go.uber.org/zap"
)

// Server bundles what the handlers need.
type Server struct {
	Chat     *chat.ChatManager
	Rooms    *room.Manager
	Social   *social.Service
	Presence *presence.Tracker
	Hub      *hub.Hub
	Users    data.UserStore
	Sessions data.SessionStore

	JWT  *auth.JWTManager
	Gate *auth.AccessGate

	Uploader    media.Uploader
	MediaLimits media.Limits

	// APILimiter limits REST calls; FrameLimiter limits chatty websocket
	// frames (send, typing, room messages) per uid.
	APILimiter   *middleware.LimiterStore
	FrameLimiter *middleware.LimiterStore

	// DB is pinged by the health check when set.
	DB Pinger

	Log *zap.Logger
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// NewApp builds the fiber app with every route registered.
func NewApp(s *Server) *fiber.App {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	if s.Uploader == nil {
		s.Uploader = media.Disabled{}
	}
	app := fiber.New(fiber.Config{
		AppName:      "circles",
		BodyLimit:    bodyLimit(s.MediaLimits.MaxBytes),
		ErrorHandler: s.errorHandler,
	})
	app.Use(recover.New())
	app.Use(middleware.RequestLogger(s.Log))
	s.Routes(app)
	return app
}

func bodyLimit(maxMedia int64) int {
	const floor = 4 * 1024 * 1024
	if maxMedia+1024*1024 > floor {
		return int(maxMedia + 1024*1024)
	}
	return floor
}

func (s *Server) Routes(app *fiber.App) {
	app.Get("/api/health", s.HealthHandler)

	api := app.Group("/api", middleware.JWTAuth(s.JWT))
	if s.APILimiter != nil {
		api.Use(middleware.RateLimit(s.APILimiter))
	}
	api.Post("/access/redeem", s.RedeemAccessHandler)

	gated := api.Group("", middleware.RequireAccess(s.Gate))

	// WS
	gated.Use("/ws", upgradeOnly)
	gated.Get("/ws", websocket.New(s.WebsocketHandler))

	// profile
	gated.Get("/me", s.MeHandler)
	gated.Put("/me", s.UpdateMeHandler)
	gated.Get("/me/sessions", s.SessionsHandler)
	gated.Get("/users/:uid", s.UserHandler)

	// inbox & chats
	gated.Get("/inbox", s.InboxHandler)
	gated.Post("/inbox/:id/read", s.MarkReadHandler)
	gated.Get("/chats/:type/:id/messages", s.MessagesHandler)
	gated.Post("/chats/:type/:id/messages", s.SendMessageHandler)
	gated.Delete("/chats/:type/:id/messages/:msgId", s.UnsendHandler)
	gated.Post("/chats/:type/:id/messages/:msgId/reactions", s.ReactHandler)
	gated.Post("/chats/:type/:id/seen", s.SeenHandler)
	gated.Get("/chats/:type/:id/seen", s.SeenByHandler)

	// groups
	gated.Get("/groups", s.GroupsHandler)
	gated.Post("/groups", s.CreateGroupHandler)
	gated.Get("/groups/:id", s.GroupHandler)
	gated.Patch("/groups/:id", s.RenameGroupHandler)
	gated.Delete("/groups/:id", s.DeleteGroupHandler)
	gated.Post("/groups/:id/members", s.AddMembersHandler)
	gated.Post("/groups/:id/leave", s.LeaveGroupHandler)

	// rooms
	gated.Post("/rooms", s.CreateRoomHandler)
	gated.Get("/rooms/:code", s.RoomHandler)
	gated.Post("/rooms/:code/join", s.JoinRoomHandler)
	gated.Post("/rooms/:code/leave", s.LeaveRoomHandler)
	gated.Delete("/rooms/:code", s.DeleteRoomHandler)
	gated.Post("/rooms/:code/timer/toggle", s.ToggleTimerHandler)
	gated.Post("/rooms/:code/timer/reset", s.ResetTimerHandler)
	gated.Post("/rooms/:code/timer/mode", s.SetModeHandler)
	gated.Post("/rooms/:code/timer/advance", s.AdvancePhaseHandler)
	gated.Post("/rooms/:code/host", s.ClaimHostHandler)
	gated.Post("/rooms/:code/messages", s.RoomMessageHandler)

	// social
	gated.Get("/friends", s.FriendsHandler)
	gated.Get("/friends/requests", s.FriendRequestsHandler)
	gated.Post("/friends/requests/:uid", s.SendFriendRequestHandler)
	gated.Post("/friends/requests/:uid/accept", s.AcceptFriendRequestHandler)
	gated.Post("/friends/requests/:uid/decline", s.DeclineFriendRequestHandler)
	gated.Delete("/friends/requests/:uid", s.CancelFriendRequestHandler)
	gated.Delete("/friends/:uid", s.UnfriendHandler)
	gated.Post("/follow/:uid", s.FollowHandler)
	gated.Delete("/follow/:uid", s.UnfollowHandler)
	gated.Get("/blocks", s.BlocksHandler)
	gated.Post("/blocks/:uid", s.BlockHandler)
	gated.Delete("/blocks/:uid", s.UnblockHandler)

	// posts
	gated.Get("/feed", s.FeedHandler)
	gated.Get("/users/:uid/posts", s.UserPostsHandler)
	gated.Post("/posts", s.CreatePostHandler)
	gated.Get("/posts/:id", s.PostHandler)
	gated.Delete("/posts/:id", s.DeletePostHandler)
	gated.Post("/posts/:id/like", s.LikeHandler)
	gated.Get("/posts/:id/comments", s.CommentsHandler)
	gated.Post("/posts/:id/comments", s.AddCommentHandler)
	gated.Delete("/posts/:id/comments/:commentId", s.DeleteCommentHandler)

	gated.Get("/notifications", s.NotificationsHandler)
	gated.Post("/notifications/read", s.MarkNotificationsReadHandler)
	gated.Get("/search", s.SearchHandler)
	gated.Get("/leaderboard", s.LeaderboardHandler)
	gated.Post("/media", s.UploadHandler)
}

func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HealthHandler GET /api/health
func (s *Server) HealthHandler(c *fiber.Ctx) error {
	if s.DB != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := s.DB.Ping(ctx); err != nil {
			s.Log.Warn("health: db ping failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
	}
	return c.JSON(fiber.Map{"status": "ok", "rooms": s.Rooms.Len()})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, chat.ErrNotFound),
		errors.Is(err, room.ErrRoomNotFound),
		errors.Is(err, social.ErrNotFound),
		errors.Is(err, data.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, chat.ErrForbidden),
		errors.Is(err, chat.ErrBlocked),
		errors.Is(err, room.ErrNotHost),
		errors.Is(err, room.ErrNotParticipant),
		errors.Is(err, social.ErrForbidden),
		errors.Is(err, social.ErrBlocked),
		errors.Is(err, auth.ErrAccessRequired):
		return fiber.StatusForbidden
	case errors.Is(err, room.ErrVersionConflict),
		errors.Is(err, room.ErrCooldown),
		errors.Is(err, room.ErrNotDue),
		errors.Is(err, social.ErrDuplicateRequest),
		errors.Is(err, social.ErrAlreadyFriends):
		return fiber.StatusConflict
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalid),
		errors.Is(err, room.ErrInvalidMode),
		errors.Is(err, room.ErrEmptyMessage),
		errors.Is(err, social.ErrSelf),
		errors.Is(err, social.ErrInvalid),
		errors.Is(err, media.ErrUnsupportedType),
		errors.Is(err, media.ErrVideoTooLong),
		errors.Is(err, auth.ErrInvalidAccessCode):
		return fiber.StatusBadRequest
	case errors.Is(err, media.ErrTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, media.ErrDisabled):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := errorStatus(err)
	msg := err.Error()
	if code == fiber.StatusInternalServerError {
		s.Log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		msg = "internal error"
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func badRequest(msg string) error { return fiber.NewError(fiber.StatusBadRequest, msg) }

// claims returns the caller's token claims; JWTAuth guarantees them.
func claims(c *fiber.Ctx) *auth.Claims {
	if cl := middleware.ClaimsFrom(c); cl != nil {
		return cl
	}
	return &auth.Claims{}
}

func (s *Server) displayName(c *fiber.Ctx) string {
	cl := claims(c)
	return s.nameFor(c.UserContext(), cl.UID, cl.Name)
}

// parseBody decodes a JSON or form body; an empty body leaves v untouched.
func parseBody(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return c.BodyParser(v)
}
