package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"facesync/internal/gallery"
	"facesync/internal/middleware"
	"facesync/internal/models"
	"facesync/internal/security"
	"facesync/internal/session"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 8 << 10
)

type clientFrame struct {
	Type  string `json:"type"`
	Limit int    `json:"limit,omitempty"`
	Token string `json:"token,omitempty"`
}

type snapshotFrame struct {
	Type    string               `json:"type"`
	State   string               `json:"state"`
	UserID  string               `json:"userId,omitempty"`
	Records []models.ImageRecord `json:"records"`
}

type errorFrame struct {
	Type string `json:"type"`
	errorBody
}

// LiveGallery upgrades to a websocket that carries one gallery view. The
// connection has its own session: login and logout frames change its
// identity and the view follows.
func (h HandlerSet) LiveGallery(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("request_id", middleware.RequestIDFrom(c)).Msg("websocket upgrade failed")
		return
	}

	log := h.log.With().
		Str("conn_id", uuid.NewString()).
		Str("request_id", middleware.RequestIDFrom(c)).
		Logger()
	sess := session.New(middleware.UserID(c))
	live := &liveConn{
		conn:   conn,
		sess:   sess,
		reader: gallery.NewReader(sess, h.deps.Records, h.deps.Feed, h.galleryOptions(), log),
		secret: h.cfg.Security.JWTSecret,
		log:    log,
	}
	defer func() {
		live.reader.Close()
		conn.Close()
		log.Debug().Msg("live gallery closed")
	}()

	log.Debug().Str("user_id", sess.Current()).Msg("live gallery opened")
	live.serve(c.Request.Context())
}

func (h HandlerSet) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowCORSOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowCORSOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

type liveConn struct {
	conn   *websocket.Conn
	sess   *session.Session
	reader *gallery.Reader
	view   *gallery.View
	secret string
	log    zerolog.Logger
}

// serve is the only writer of the connection.
func (l *liveConn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan clientFrame)
	go l.readPump(ctx, cancel, frames)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := l.bind(ctx, 0); err != nil {
		return
	}

	for {
		var changes <-chan struct{}
		if l.view != nil {
			changes = l.view.Changes()
		}

		var err error
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			err = l.handle(ctx, frame)
		case <-changes:
			err = l.sendSnapshot()
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = l.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			l.log.Debug().Err(err).Msg("live gallery write failed")
			return
		}
	}
}

func (l *liveConn) readPump(ctx context.Context, cancel context.CancelFunc, frames chan<- clientFrame) {
	defer cancel()

	l.conn.SetReadLimit(maxFrameSize)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Debug().Err(err).Msg("live gallery read failed")
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			frame = clientFrame{Type: "malformed"}
		}

		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// handle applies one client frame. Only write failures are returned;
// everything else is reported to the client as an error frame.
func (l *liveConn) handle(ctx context.Context, frame clientFrame) error {
	switch frame.Type {
	case "page":
		if l.view == nil || l.view.State() == gallery.StateUnbound {
			return l.bind(ctx, frame.Limit)
		}
		if _, err := l.view.Page(ctx, frame.Limit); err != nil {
			if werr := l.sendError(err); werr != nil {
				return werr
			}
		}
		return l.sendSnapshot()

	case "login":
		claims, err := security.ParseIdentityToken(frame.Token, l.secret)
		if err != nil {
			return l.sendError(fmt.Errorf("%w: %v", models.ErrAuth, err))
		}
		l.sess.SignIn(claims.Subject)
		if l.view == nil || l.view.State() == gallery.StateUnbound {
			return l.bind(ctx, frame.Limit)
		}
		return l.sendSnapshot()

	case "logout":
		l.sess.SignOut()
		l.view = nil
		return l.sendSnapshot()

	default:
		return l.sendError(fmt.Errorf("%w: unknown frame type %q", models.ErrValidation, frame.Type))
	}
}

// bind opens a view for the current identity and loads its first page.
func (l *liveConn) bind(ctx context.Context, limit int) error {
	l.view = nil
	if l.sess.Current() == "" {
		if err := l.sendError(fmt.Errorf("%w: sign in to open the gallery", models.ErrAuth)); err != nil {
			return err
		}
		return l.sendSnapshot()
	}

	view, err := l.reader.Open(ctx, l.sess.Current())
	if err != nil {
		return l.sendError(err)
	}
	l.view = view

	if _, err := view.Page(ctx, limit); err != nil {
		if werr := l.sendError(err); werr != nil {
			return werr
		}
	}
	return l.sendSnapshot()
}

func (l *liveConn) sendSnapshot() error {
	frame := snapshotFrame{
		Type:    "snapshot",
		State:   gallery.StateUnbound.String(),
		UserID:  l.sess.Current(),
		Records: []models.ImageRecord{},
	}
	if l.view != nil {
		// this frame covers any pending change signal
		select {
		case <-l.view.Changes():
		default:
		}
		frame.State = l.view.State().String()
		frame.Records = l.view.Records()
	}
	return l.write(frame)
}

func (l *liveConn) sendError(err error) error {
	l.log.Debug().Err(err).Msg("live gallery error")
	return l.write(errorFrame{Type: "error", errorBody: describe(err)})
}

func (l *liveConn) write(v any) error {
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteJSON(v)
}
