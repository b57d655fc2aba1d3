package realtime

import (
	"context"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// Authenticator resolves a user id from a bearer token. Verification
// failures yield an anonymous connection rather than a rejected socket.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Handler returns the echo handler for the realtime socket endpoint. The
// handshake token rides in the `token` query parameter (browsers cannot set
// headers on websocket upgrades) with the Authorization header as fallback.
func Handler(hub *Hub, auth Authenticator, access BoardAccess, originPatterns []string, logger *log.Logger) echo.HandlerFunc {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return func(c echo.Context) error {
		ws, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.WithField("error", err).Debug("websocket accept")
			return nil
		}

		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID := ""
		if authHeader != "" {
			uid, err := auth.UserIDFromAuthHeader(authHeader)
			if err != nil {
				// Invalid token: continue without user context.
				logger.WithField("error", err).Debug("handshake token rejected")
			} else {
				userID = uid
			}
		}

		conn := hub.Register(userID)
		if userID != "" {
			hub.JoinRoom(conn.ID, UserRoom(userID))
		}
		logger.WithFields(log.Fields{"conn": conn.ID, "user": userID}).Debug("socket connected")

		sess := newSession(hub, conn, access, logger)
		serve(c.Request().Context(), ws, sess)
		return nil
	}
}

// serve runs the write pump alongside the read loop and tears the session
// down when either side ends.
func serve(ctx context.Context, ws *websocket.Conn, sess *session) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer sess.teardown()
	defer ws.Close(websocket.StatusNormalClosure, "")

	go func() {
		for frame := range sess.conn.Send() {
			if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		_, frame, err := ws.Read(ctx)
		if err != nil {
			sess.logger.WithFields(log.Fields{"conn": sess.conn.ID, "error": err}).Debug("socket closed")
			return
		}
		sess.handleFrame(ctx, frame)
	}
}
