package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	domain "goalcoach/internal/conversation"
	"goalcoach/internal/gateway/middleware"
	convsvc "goalcoach/internal/gateway/service/conversation"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type wsInbound struct {
	Type      string               `json:"type"`
	Message   string               `json:"message,omitempty"`
	History   []domain.HistoryItem `json:"history,omitempty"`
	RequestID string               `json:"requestId,omitempty"`
}

type wsOutbound struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"requestId,omitempty"`
	Reply     string                 `json:"reply,omitempty"`
	Sentiment *domain.SentimentScore `json:"sentiment,omitempty"`
	Meta      domain.Meta            `json:"meta,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Details   any                    `json:"details,omitempty"`
}

// HandleConversationWS runs turns over one socket. Identity comes from the query string
// (user, phase, session, client) and falls back to the usual headers.
func (h *ConversationHandler) HandleConversationWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cctx := domain.NewContext(
		firstNonEmpty(q.Get("user"), r.Header.Get(headerUserID)),
		firstNonEmpty(q.Get("phase"), r.Header.Get(headerUserPhase)),
		firstNonEmpty(q.Get("session"), r.Header.Get(headerSessionID)),
		firstNonEmpty(q.Get("client"), r.Header.Get(headerClientVersion)),
	)
	connID := middleware.RequestIDFrom(r.Context())

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		h.logger.Warn("ws set read deadline failed", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writeCh := make(chan wsOutbound, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		switch strings.ToLower(strings.TrimSpace(in.Type)) {
		case "ping":
			pushWS(writeCh, wsOutbound{Type: "pong"})
		case "message":
			pushWS(writeCh, h.wsTurn(ctx, cctx, connID, in))
		case "":
			pushWS(writeCh, wsOutbound{Type: "error", Code: "invalid_request", Message: "type is required"})
		default:
			pushWS(writeCh, wsOutbound{Type: "error", Code: "invalid_request", Message: "unsupported type: " + in.Type})
		}
	}
}

func (h *ConversationHandler) wsTurn(ctx context.Context, cctx domain.Context, connID string, in wsInbound) wsOutbound {
	requestID := strings.TrimSpace(in.RequestID)
	if err := convsvc.Validate(in.Message, in.History); err != nil {
		out := wsOutbound{Type: "error", RequestID: requestID, Code: "invalid_request", Message: err.Error()}
		var verr *convsvc.ValidationError
		if errors.As(err, &verr) {
			out.Details = verr
		}
		return out
	}
	resp, err := h.svc.Converse(ctx, convsvc.Request{
		Message:   in.Message,
		History:   in.History,
		Context:   cctx,
		RequestID: requestID,
	})
	if err != nil {
		h.logger.Error("ws conversation turn failed",
			zap.String("conn", connID),
			zap.String("request_id", requestID),
			zap.Error(err))
		return wsOutbound{Type: "error", RequestID: requestID, Code: "internal_error"}
	}
	sentiment := resp.Sentiment
	return wsOutbound{
		Type:      "reply",
		RequestID: requestID,
		Reply:     resp.Reply,
		Sentiment: &sentiment,
		Meta:      resp.Meta,
	}
}

// pushWS never blocks the reader; when the buffer is full the oldest frame is dropped.
func pushWS(writeCh chan wsOutbound, out wsOutbound) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
