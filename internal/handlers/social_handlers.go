package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/wishp/circles/internal/social"
)

// FriendsHandler GET /api/friends
func (s *Server) FriendsHandler(c *fiber.Ctx) error {
	return c.JSON(s.Social.Friends(claims(c).UID))
}

// FriendRequestsHandler GET /api/friends/requests
func (s *Server) FriendRequestsHandler(c *fiber.Ctx) error {
	uid := claims(c).UID
	return c.JSON(fiber.Map{
		"incoming": s.Social.IncomingRequests(uid),
		"outgoing": s.Social.OutgoingRequests(uid),
	})
}

// SendFriendRequestHandler POST /api/friends/requests/:uid
func (s *Server) SendFriendRequestHandler(c *fiber.Ctx) error {
	req, err := s.Social.SendFriendRequest(c.UserContext(), claims(c).UID, s.displayName(c), c.Params("uid"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

// AcceptFriendRequestHandler POST /api/friends/requests/:uid/accept
func (s *Server) AcceptFriendRequestHandler(c *fiber.Ctx) error {
	return noContent(c, s.Social.AcceptFriendRequest(c.UserContext(), claims(c).UID, s.displayName(c), c.Params("uid")))
}

// DeclineFriendRequestHandler POST /api/friends/requests/:uid/decline
func (s *Server) DeclineFriendRequestHandler(c *fiber.Ctx) error {
	return noContent(c, s.Social.DeclineFriendRequest(c.UserContext(), claims(c).UID, c.Params("uid")))
}

// CancelFriendRequestHandler DELETE /api/friends/requests/:uid
func (s *Server) CancelFriendRequestHandler(c *fiber.Ctx) error {
	return noContent(c, s.Social.CancelFriendRequest(c.UserContext(), claims(c).UID, c.Params("uid")))
}

// UnfriendHandler DELETE /api/friends/:uid
func (s *Server) UnfriendHandler(c *fiber.Ctx) error {
	return noContent(c, s.Social.Unfriend(c.UserContext(), claims(c).UID, c.Params("uid")))
}

// FollowHandler POST /api/follow/:uid
func (s *Server) FollowHandler(c *fiber.Ctx) error {
	return noContent(c, s.Social.Follow(c.UserContext(), claims(c).UID, s.displayName(c), c.Params("uid")))
}

// UnfollowHandler DELETE /api/follow/:uid
func (s *Server) UnfollowHandler(c *fiber.Ctx) error {
	return noContent(c, s.Social.Unfollow(c.UserContext(), claims(c).UID, c.Params("uid")))
}

// BlocksHandler GET /api/blocks
func (s *Server) BlocksHandler(c *fiber.Ctx) error {
	return c.JSON(s.Social.Blocks(claims(c).UID))
}

// BlockHandler POST /api/blocks/:uid
func (s *Server) BlockHandler(c *fiber.Ctx) error {
	return noContent(c, s.Social.Block(c.UserContext(), claims(c).UID, c.Params("uid")))
}

// UnblockHandler DELETE /api/blocks/:uid
func (s *Server) UnblockHandler(c *fiber.Ctx) error {
	return noContent(c, s.Social.Unblock(c.UserContext(), claims(c).UID, c.Params("uid")))
}

// FeedHandler GET /api/feed?limit=
func (s *Server) FeedHandler(c *fiber.Ctx) error {
	return c.JSON(s.Social.Feed(claims(c).UID, c.QueryInt("limit", 50)))
}

// UserPostsHandler GET /api/users/:uid/posts?limit=
func (s *Server) UserPostsHandler(c *fiber.Ctx) error {
	return c.JSON(s.Social.UserPosts(claims(c).UID, c.Params("uid"), c.QueryInt("limit", 50)))
}

type postBody struct {
	Text  string            `json:"text"`
	Media *social.PostMedia `json:"media"`
}

// CreatePostHandler POST /api/posts {text, media}
func (s *Server) CreatePostHandler(c *fiber.Ctx) error {
	var body postBody
	if err := parseBody(c, &body); err != nil {
		return badRequest("invalid body")
	}
	p, err := s.Social.CreatePost(c.UserContext(), claims(c).UID, s.displayName(c), body.Text, body.Media)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// PostHandler GET /api/posts/:id
func (s *Server) PostHandler(c *fiber.Ctx) error {
	p, err := s.Social.Post(claims(c).UID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// DeletePostHandler DELETE /api/posts/:id
func (s *Server) DeletePostHandler(c *fiber.Ctx) error {
	return noContent(c, s.Social.DeletePost(c.UserContext(), claims(c).UID, c.Params("id")))
}

// LikeHandler POST /api/posts/:id/like
func (s *Server) LikeHandler(c *fiber.Ctx) error {
	liked, n, err := s.Social.ToggleLike(c.UserContext(), claims(c).UID, s.displayName(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"liked": liked, "likes": n})
}

// CommentsHandler GET /api/posts/:id/comments
func (s *Server) CommentsHandler(c *fiber.Ctx) error {
	list, err := s.Social.Comments(claims(c).UID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(list)
}

// AddCommentHandler POST /api/posts/:id/comments {text}
func (s *Server) AddCommentHandler(c *fiber.Ctx) error {
	var body postBody
	if err := parseBody(c, &body); err != nil {
		return badRequest("invalid body")
	}
	cm, err := s.Social.AddComment(c.UserContext(), claims(c).UID, s.displayName(c), c.Params("id"), body.Text)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(cm)
}

// DeleteCommentHandler DELETE /api/posts/:id/comments/:commentId
func (s *Server) DeleteCommentHandler(c *fiber.Ctx) error {
	return noContent(c, s.Social.DeleteComment(c.UserContext(), claims(c).UID, c.Params("id"), c.Params("commentId")))
}

// NotificationsHandler GET /api/notifications
func (s *Server) NotificationsHandler(c *fiber.Ctx) error {
	uid := claims(c).UID
	return c.JSON(fiber.Map{
		"notifications": s.Social.Notifications(uid),
		"unread":        s.Social.UnreadNotifications(uid),
	})
}

// MarkNotificationsReadHandler POST /api/notifications/read {ids}
func (s *Server) MarkNotificationsReadHandler(c *fiber.Ctx) error {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := parseBody(c, &body); err != nil {
		return badRequest("invalid body")
	}
	n := s.Social.MarkNotificationsRead(c.UserContext(), claims(c).UID, body.IDs...)
	return c.JSON(fiber.Map{"updated": n})
}

// SearchHandler GET /api/search?q=&limit=
func (s *Server) SearchHandler(c *fiber.Ctx) error {
	users, err := s.Social.Search(c.UserContext(), claims(c).UID, c.Query("q"), c.QueryInt("limit", 20))
	if err != nil {
		return err
	}
	return c.JSON(users)
}

// LeaderboardHandler GET /api/leaderboard?limit=
func (s *Server) LeaderboardHandler(c *fiber.Ctx) error {
	board, err := s.Social.Leaderboard(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return c.JSON(board)
}

func noContent(c *fiber.Ctx, err error) error {
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
