package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/wishp/circles/internal/room"
)

type roomBody struct {
	Key     string           `json:"key"`
	Name    string           `json:"name"`
	Mode    room.Mode        `json:"mode"`
	Custom  room.PhaseConfig `json:"custom"`
	Version int64            `json:"version"`
	Text    string           `json:"text"`
}

// roomRequest parses the body and checks that key belongs to the caller.
func (s *Server) roomRequest(c *fiber.Ctx) (string, roomBody, error) {
	var body roomBody
	if err := parseBody(c, &body); err != nil {
		return "", body, badRequest("invalid body")
	}
	code := room.NormalizeCode(c.Params("code"))
	r, err := s.Rooms.Get(code)
	if err != nil {
		return "", body, err
	}
	if p, ok := r.Participants[body.Key]; !ok || p.UID != claims(c).UID {
		return "", body, room.ErrNotParticipant
	}
	return code, body, nil
}

// CreateRoomHandler POST /api/rooms {name}
func (s *Server) CreateRoomHandler(c *fiber.Ctx) error {
	var body roomBody
	if err := parseBody(c, &body); err != nil {
		return badRequest("invalid body")
	}
	v, err := s.Rooms.Create(c.UserContext(), claims(c).UID, s.displayName(c), body.Name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(v)
}

// RoomHandler GET /api/rooms/:code?key=
func (s *Server) RoomHandler(c *fiber.Ctx) error {
	v, err := s.Rooms.View(c.Params("code"), c.Query("key"))
	if err != nil {
		return err
	}
	return c.JSON(v)
}

// JoinRoomHandler POST /api/rooms/:code/join
func (s *Server) JoinRoomHandler(c *fiber.Ctx) error {
	v, err := s.Rooms.Join(c.UserContext(), c.Params("code"), claims(c).UID, s.displayName(c))
	if err != nil {
		return err
	}
	return c.JSON(v)
}

// LeaveRoomHandler POST /api/rooms/:code/leave {key}
func (s *Server) LeaveRoomHandler(c *fiber.Ctx) error {
	code, body, err := s.roomRequest(c)
	if err != nil {
		return err
	}
	if err := s.Rooms.Leave(c.UserContext(), code, body.Key); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteRoomHandler DELETE /api/rooms/:code {key}
func (s *Server) DeleteRoomHandler(c *fiber.Ctx) error {
	code, body, err := s.roomRequest(c)
	if err != nil {
		return err
	}
	if err := s.Rooms.Delete(c.UserContext(), code, body.Key); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleTimerHandler POST /api/rooms/:code/timer/toggle {key}
func (s *Server) ToggleTimerHandler(c *fiber.Ctx) error {
	code, body, err := s.roomRequest(c)
	if err != nil {
		return err
	}
	return roomView(c)(s.Rooms.Toggle(c.UserContext(), code, body.Key))
}

// ResetTimerHandler POST /api/rooms/:code/timer/reset {key}
func (s *Server) ResetTimerHandler(c *fiber.Ctx) error {
	code, body, err := s.roomRequest(c)
	if err != nil {
		return err
	}
	return roomView(c)(s.Rooms.Reset(c.UserContext(), code, body.Key))
}

// SetModeHandler POST /api/rooms/:code/timer/mode {key, mode, custom}
func (s *Server) SetModeHandler(c *fiber.Ctx) error {
	code, body, err := s.roomRequest(c)
	if err != nil {
		return err
	}
	return roomView(c)(s.Rooms.SetMode(c.UserContext(), code, body.Key, body.Mode, body.Custom))
}

// AdvancePhaseHandler POST /api/rooms/:code/timer/advance {key, version}
func (s *Server) AdvancePhaseHandler(c *fiber.Ctx) error {
	code, body, err := s.roomRequest(c)
	if err != nil {
		return err
	}
	return roomView(c)(s.Rooms.AdvancePhase(c.UserContext(), code, body.Key, body.Version))
}

// ClaimHostHandler POST /api/rooms/:code/host {key}
func (s *Server) ClaimHostHandler(c *fiber.Ctx) error {
	code, body, err := s.roomRequest(c)
	if err != nil {
		return err
	}
	return roomView(c)(s.Rooms.ClaimHost(c.UserContext(), code, body.Key))
}

// RoomMessageHandler POST /api/rooms/:code/messages {key, text}
func (s *Server) RoomMessageHandler(c *fiber.Ctx) error {
	code, body, err := s.roomRequest(c)
	if err != nil {
		return err
	}
	line, err := s.Rooms.SendMessage(c.UserContext(), code, body.Key, body.Text)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(line)
}

func roomView(c *fiber.Ctx) func(room.View, error) error {
	return func(v room.View, err error) error {
		if err != nil {
			return err
		}
		return c.JSON(v)
	}
}
