package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/wishp/circles/internal/chat"
)

func target(c *fiber.Ctx) (chat.Target, error) {
	t := chat.Target{Type: chat.ChatType(c.Params("type")), ID: strings.TrimSpace(c.Params("id"))}
	if (t.Type != chat.ChatDM && t.Type != chat.ChatGroup) || t.ID == "" {
		return chat.Target{}, badRequest("chat type must be dm or group")
	}
	return t, nil
}

// InboxHandler GET /api/inbox
func (s *Server) InboxHandler(c *fiber.Ctx) error {
	uid := claims(c).UID
	return c.JSON(fiber.Map{"chats": s.Chat.Inbox(uid), "unread": s.Chat.UnreadTotal(uid)})
}

// MarkReadHandler POST /api/inbox/:id/read
func (s *Server) MarkReadHandler(c *fiber.Ctx) error {
	s.Chat.MarkRead(c.UserContext(), claims(c).UID, c.Params("id"))
	return c.SendStatus(fiber.StatusNoContent)
}

// MessagesHandler GET /api/chats/:type/:id/messages
func (s *Server) MessagesHandler(c *fiber.Ctx) error {
	t, err := target(c)
	if err != nil {
		return err
	}
	msgs, err := s.Chat.Messages(claims(c).UID, t)
	if err != nil {
		return err
	}
	return c.JSON(msgs)
}

// SendMessageHandler POST /api/chats/:type/:id/messages
func (s *Server) SendMessageHandler(c *fiber.Ctx) error {
	t, err := target(c)
	if err != nil {
		return err
	}
	var d chat.Draft
	if err := parseBody(c, &d); err != nil {
		return badRequest("invalid body")
	}
	msg, err := s.Chat.SendMessage(c.UserContext(), claims(c).UID, s.displayName(c), t, d)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// UnsendHandler DELETE /api/chats/:type/:id/messages/:msgId
func (s *Server) UnsendHandler(c *fiber.Ctx) error {
	t, err := target(c)
	if err != nil {
		return err
	}
	if err := s.Chat.Unsend(c.UserContext(), claims(c).UID, t, c.Params("msgId")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ReactHandler POST /api/chats/:type/:id/messages/:msgId/reactions {emoji}
func (s *Server) ReactHandler(c *fiber.Ctx) error {
	t, err := target(c)
	if err != nil {
		return err
	}
	var body struct {
		Emoji string `json:"emoji"`
	}
	if err := parseBody(c, &body); err != nil {
		return badRequest("invalid body")
	}
	on, err := s.Chat.ToggleReaction(c.UserContext(), claims(c).UID, t, c.Params("msgId"), body.Emoji)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"reacted": on})
}

// SeenHandler POST /api/chats/:type/:id/seen
func (s *Server) SeenHandler(c *fiber.Ctx) error {
	t, err := target(c)
	if err != nil {
		return err
	}
	if err := s.Chat.MarkSeen(c.UserContext(), claims(c).UID, t); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SeenByHandler GET /api/chats/:type/:id/seen
func (s *Server) SeenByHandler(c *fiber.Ctx) error {
	t, err := target(c)
	if err != nil {
		return err
	}
	r, err := s.Chat.SeenBy(claims(c).UID, t)
	if err != nil {
		return err
	}
	return c.JSON(r)
}

// GroupsHandler GET /api/groups
func (s *Server) GroupsHandler(c *fiber.Ctx) error {
	return c.JSON(s.Chat.Groups(claims(c).UID))
}

type groupBody struct {
	Name     string   `json:"name"`
	PhotoURL string   `json:"photoURL"`
	Members  []string `json:"members"`
}

// CreateGroupHandler POST /api/groups {name, photoURL, members}
func (s *Server) CreateGroupHandler(c *fiber.Ctx) error {
	var body groupBody
	if err := parseBody(c, &body); err != nil {
		return badRequest("invalid body")
	}
	g, err := s.Chat.CreateGroup(c.UserContext(), claims(c).UID, s.displayName(c), body.Name, body.PhotoURL, body.Members)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(g)
}

// GroupHandler GET /api/groups/:id
func (s *Server) GroupHandler(c *fiber.Ctx) error {
	g, err := s.Chat.Group(claims(c).UID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(g)
}

// RenameGroupHandler PATCH /api/groups/:id {name, photoURL}
func (s *Server) RenameGroupHandler(c *fiber.Ctx) error {
	var body groupBody
	if err := parseBody(c, &body); err != nil {
		return badRequest("invalid body")
	}
	g, err := s.Chat.RenameGroup(c.UserContext(), claims(c).UID, c.Params("id"), body.Name, body.PhotoURL)
	if err != nil {
		return err
	}
	return c.JSON(g)
}

// DeleteGroupHandler DELETE /api/groups/:id
func (s *Server) DeleteGroupHandler(c *fiber.Ctx) error {
	if err := s.Chat.DeleteGroup(c.UserContext(), claims(c).UID, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddMembersHandler POST /api/groups/:id/members {members}
func (s *Server) AddMembersHandler(c *fiber.Ctx) error {
	var body groupBody
	if err := parseBody(c, &body); err != nil {
		return badRequest("invalid body")
	}
	g, err := s.Chat.AddMembers(c.UserContext(), claims(c).UID, s.displayName(c), c.Params("id"), body.Members)
	if err != nil {
		return err
	}
	return c.JSON(g)
}

// LeaveGroupHandler POST /api/groups/:id/leave
func (s *Server) LeaveGroupHandler(c *fiber.Ctx) error {
	if err := s.Chat.LeaveGroup(c.UserContext(), claims(c).UID, s.displayName(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
