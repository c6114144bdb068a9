package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mvolkov/roomcast-server/internal/config"
	"github.com/mvolkov/roomcast-server/internal/core"
	"github.com/mvolkov/roomcast-server/internal/proto"
	"github.com/mvolkov/roomcast-server/internal/store"
)

// WSHandler upgrades HTTP connections and bridges them to a core.Session.
type WSHandler struct {
	reg   *core.Registry
	store store.MessageStore
	opts  core.SessionOptions
	log   *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(reg *core.Registry, st store.MessageStore, roomCfg config.RoomConfig, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		reg:   reg,
		store: st,
		opts: core.SessionOptions{
			HistoryLimit:     roomCfg.HistoryLimit,
			MaxMessageLength: roomCfg.MaxMessageLength,
		},
		log: logger,
	}
}

// Handle accepts GET /ws/:room. The room id must parse as the store's
// partition key; anything else is rejected before the upgrade.
func (h *WSHandler) Handle(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("room"))
	if err != nil {
		h.log.Warn().Str("room", c.Param("room")).Msg("invalid room id")
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "room id must be a valid UUID"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	session := core.NewSession(h.reg, h.store, h.log, h.opts)
	err = session.Run(c.Request.Context(), roomID, &wsStream{conn: conn})

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = truncateReason(err.Error())
			h.log.Warn().Err(err).Str("room", roomID.String()).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// maxCloseReason is the close-reason byte budget: the payload of a close
// control frame is capped at 125 bytes, two of which hold the status code.
const maxCloseReason = 123

// truncateReason bounds a close reason so the close frame stays sendable,
// cutting on a rune boundary to keep the payload valid UTF-8.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// wsStream adapts a websocket connection to core.Stream. Frames are read raw
// and decoded separately so a bad payload stays recoverable while a transport
// failure ends the session.
type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) ReadCommand(ctx context.Context) (core.Command, error) {
	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		return core.Command{}, err
	}
	if typ != websocket.MessageText {
		return core.Command{}, core.ErrMalformedCommand
	}
	return proto.DecodeCommand(data)
}

func (s *wsStream) WriteEvent(ctx context.Context, ev core.Event) error {
	data, err := proto.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}
