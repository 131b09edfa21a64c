package handlers

import (
	"errors"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/wishp/circles/internal/data"
	"github.com/wishp/circles/internal/media"
	"github.com/wishp/circles/internal/presence"
	"github.com/wishp/circles/internal/social"
	"go.uber.org/zap"
)

type profile struct {
	data.User
	Counts   social.Counts   `json:"counts"`
	Presence presence.Status `json:"presence"`
}

func (s *Server) profile(c *fiber.Ctx, uid string) (profile, error) {
	u, err := s.Users.GetUser(c.UserContext(), uid)
	if err != nil {
		return profile{}, err
	}
	p := profile{User: u, Counts: s.Social.Counts(uid)}
	if s.Presence != nil {
		if st, err := s.Presence.Get(c.UserContext(), uid); err == nil {
			p.Presence = st
		}
	}
	return p, nil
}

// MeHandler GET /api/me
func (s *Server) MeHandler(c *fiber.Ctx) error {
	cl := claims(c)
	p, err := s.profile(c, cl.UID)
	if errors.Is(err, data.ErrNotFound) {
		p = profile{User: data.User{UID: cl.UID, DisplayName: cl.Name}, Counts: s.Social.Counts(cl.UID)}
	} else if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"profile":             p,
		"unreadChats":         s.Chat.UnreadTotal(cl.UID),
		"unreadNotifications": s.Social.UnreadNotifications(cl.UID),
	})
}

// UpdateMeHandler PUT /api/me {displayName, photoURL, bio}
func (s *Server) UpdateMeHandler(c *fiber.Ctx) error {
	var body struct {
		DisplayName string `json:"displayName"`
		PhotoURL    string `json:"photoURL"`
		Bio         string `json:"bio"`
	}
	if err := parseBody(c, &body); err != nil {
		return badRequest("invalid body")
	}
	cl := claims(c)
	if body.DisplayName == "" {
		body.DisplayName = cl.Name
	}
	u, err := s.Users.UpsertUser(c.UserContext(), data.User{
		UID:         cl.UID,
		DisplayName: body.DisplayName,
		PhotoURL:    body.PhotoURL,
		Bio:         body.Bio,
	})
	if err != nil {
		return err
	}
	return c.JSON(u)
}

// UserHandler GET /api/users/:uid
func (s *Server) UserHandler(c *fiber.Ctx) error {
	uid := c.Params("uid")
	if s.Social.Blocked(claims(c).UID, uid) {
		return data.ErrNotFound
	}
	p, err := s.profile(c, uid)
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// SessionsHandler GET /api/me/sessions?limit=
func (s *Server) SessionsHandler(c *fiber.Ctx) error {
	list, err := s.Sessions.ListSessions(c.UserContext(), claims(c).UID, c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return c.JSON(list)
}

// RedeemAccessHandler POST /api/access/redeem {code}
func (s *Server) RedeemAccessHandler(c *fiber.Ctx) error {
	var body struct {
		Code string `json:"code"`
	}
	if err := parseBody(c, &body); err != nil {
		return badRequest("invalid body")
	}
	if s.Gate == nil {
		return c.JSON(fiber.Map{"granted": true})
	}
	if err := s.Gate.Redeem(claims(c).UID, body.Code); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"granted": true})
}

// UploadHandler POST /api/media (multipart: file, duration)
func (s *Server) UploadHandler(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest("file is required")
	}
	duration, _ := strconv.ParseFloat(c.FormValue("duration"), 64)
	ct := fh.Header.Get(fiber.HeaderContentType)
	kind, err := media.Validate(ct, fh.Size, duration, s.MediaLimits)
	if err != nil {
		return err
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	res, err := s.Uploader.Upload(c.UserContext(), fh.Filename, ct, buf)
	if err != nil {
		s.Log.Warn("media upload failed", zap.String("uid", claims(c).UID), zap.String("type", ct), zap.Error(err))
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"url":          res.URL,
		"thumbnailUrl": res.ThumbnailURL,
		"type":         kind,
		"duration":     duration,
	})
}
