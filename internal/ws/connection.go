package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/synsocial/chatsync/internal/delivery"
	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/syncerr"
)

const (
	readLimit    = 1024 * 64
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// command is the inbound wire envelope.
type command struct {
	Type      string           `json:"type"`
	MessageID string           `json:"message_id,omitempty"`
	Content   string           `json:"content,omitempty"`
	ReplyTo   string           `json:"reply_to,omitempty"`
	Media     *domain.MediaRef `json:"media,omitempty"`
}

type Connection struct {
	conn   *websocket.Conn
	send   chan Frame
	chatID string
	userID string
	srv    *Server
	log    *zap.SugaredLogger
}

func newConnection(conn *websocket.Conn, chatID, userID string, srv *Server) *Connection {
	return &Connection{
		conn:   conn,
		send:   make(chan Frame, 256),
		chatID: chatID,
		userID: userID,
		srv:    srv,
		log:    srv.log.With("chat_id", chatID, "user_id", userID),
	}
}

func (c *Connection) Send(f Frame) {
	select {
	case c.send <- f:
	default:
		// drop if blocked
	}
}

func (c *Connection) readPump(ctx context.Context) {
	defer func() { _ = c.conn.Close() }()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.Send(Frame{Type: "error", Error: "malformed command"})
			continue
		}
		if err := c.dispatch(ctx, cmd); err != nil {
			if syncerr.UserFacing(err) {
				c.Send(Frame{Type: "error", Error: err.Error()})
				continue
			}
			c.log.Errorw("command", "type", cmd.Type, "err", err)
			c.Send(Frame{Type: "error", Error: "internal error"})
		}
	}
}

func (c *Connection) dispatch(ctx context.Context, cmd command) error {
	switch cmd.Type {
	case "send":
		_ = c.srv.typing.Stopped(ctx, c.chatID, c.userID)
		_, err := c.srv.machine.Send(ctx, delivery.SendInput{
			ChatID:   c.chatID,
			SenderID: c.userID,
			Content:  cmd.Content,
			Media:    cmd.Media,
			ReplyTo:  cmd.ReplyTo,
		})
		return err
	case "typing_start":
		return c.srv.typing.Started(ctx, c.chatID, c.userID)
	case "typing_stop":
		return c.srv.typing.Stopped(ctx, c.chatID, c.userID)
	case "mark_delivered":
		return c.srv.machine.Delivered(ctx, cmd.MessageID, c.userID)
	case "mark_read":
		return c.srv.machine.Read(ctx, cmd.MessageID, c.userID)
	case "background":
		c.srv.machine.Background(c.userID)
		return nil
	case "foreground":
		c.srv.machine.Foreground(c.userID)
		return nil
	case "edit":
		_, err := c.srv.machine.Edit(ctx, cmd.MessageID, c.userID, cmd.Content)
		return err
	case "delete_for_me":
		return c.srv.machine.DeleteForMe(ctx, cmd.MessageID, c.userID)
	case "delete_for_everyone":
		return c.srv.machine.DeleteForEveryone(ctx, cmd.MessageID, c.userID)
	default:
		return syncerr.Validationf("unknown command %q", cmd.Type)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}
