// Package api is the HTTP surface: chat/message REST endpoints, the
// websocket upgrade and operational endpoints.
package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/synsocial/chatsync/internal/delivery"
	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/identity"
	"github.com/synsocial/chatsync/internal/metrics"
	"github.com/synsocial/chatsync/internal/syncerr"
	"github.com/synsocial/chatsync/internal/ws"
)

type Server struct {
	machine *delivery.Machine
	wsrv    *ws.Server
	secret  string
	log     *zap.SugaredLogger
}

func NewServer(machine *delivery.Machine, wsrv *ws.Server, secret string, log *zap.SugaredLogger) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	s := &Server{machine: machine, wsrv: wsrv, secret: secret, log: log}

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/v1")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(s.wsrv.HandleWS()))

	authed := api.Group("", s.requireAuth)
	authed.Get("/chats", s.listChats)
	authed.Post("/chats/direct/:peer_id", s.openDirect)
	authed.Get("/chats/:chat_id/messages", s.listMessages)
	authed.Get("/messages/:message_id/history", s.editHistory)

	return app
}

// requireAuth resolves the caller from the Authorization header and
// stashes the user id on the request context.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	token, err := identity.ParseBearerToken(c.Get("Authorization"))
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}
	claims, err := identity.ParseAndValidateToken(s.secret, token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	c.Locals("user_id", claims.UserUUID)
	return c.Next()
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func (s *Server) listChats(c *fiber.Ctx) error {
	summaries, err := s.machine.Summaries(c.Context(), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "success", "data": summaries})
}

func (s *Server) openDirect(c *fiber.Ctx) error {
	chat, err := s.machine.OpenDirect(c.Context(), userID(c), c.Params("peer_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "success", "data": chat})
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	limit, err := strconv.ParseInt(c.Query("limit", "50"), 10, 64)
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		before, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "before must be RFC3339")
		}
	}
	msgs, err := s.machine.Messages(c.Context(), c.Params("chat_id"), userID(c), limit, before)
	if err != nil {
		return s.fail(c, err)
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return c.JSON(fiber.Map{"status": "success", "data": msgs})
}

func (s *Server) editHistory(c *fiber.Ctx) error {
	history, err := s.machine.History(c.Context(), c.Params("message_id"), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	if history == nil {
		history = []domain.EditSnapshot{}
	}
	return c.JSON(fiber.Map{"status": "success", "data": history})
}

// fail maps the error taxonomy onto HTTP statuses.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, syncerr.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, syncerr.ErrPermission):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, syncerr.ErrValidation), errors.Is(err, syncerr.ErrInvalidState):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	s.log.Errorw("request failed", "path", c.Path(), "err", err)
	return fiber.NewError(fiber.StatusInternalServerError, "internal error")
}
