package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler hosts one session controller per WebSocket connection.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	sessionOpts    []session.Option
}

// NewWSHandler creates a new WSHandler. sessionOpts are applied to every
// controller it builds.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string, sessionOpts ...session.Option) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		sessionOpts:    sessionOpts,
	}
}

// TestSessionStream godoc
// WS /ws/v1/tests/:test_id/session?token=...
// Upgrades to WebSocket and drives one test attempt.
func (h *WSHandler) TestSessionStream(c *gin.Context) {
	claims := middleware.GetAttempt(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	testID := claims.TestID()
	wsLog := h.log.With().
		Str("client_id", claims.ClientID()).
		Str("test_id", testID).
		Logger()

	nav := &wsNavigator{conn: conn, log: wsLog}
	opts := append([]session.Option{session.WithObserver(nav.state)}, h.sessionOpts...)
	ctrl := h.attemptService.NewSession(testID, claims.ClientID(), nav, opts...)

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()
	defer ctrl.Close()

	wsLog.Info().Msg("Test taker connected")

	ctx := c.Request.Context()
	if err := ctrl.Open(ctx); err != nil {
		wsLog.Debug().Err(err).Msg("Session did not open")
	}

	for {
		var msg ws.Request
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if err := h.dispatch(c, ctrl, conn, &msg); err != nil {
			wsLog.Debug().Err(err).Str("action", string(msg.Action)).Msg("Action failed")
			// Load and submission failures reach the client through the navigator.
			if code, rejected := rejectionCode(err); rejected {
				conn.WriteError(code, "", false)
			}
		}
	}
}

func (h *WSHandler) dispatch(c *gin.Context, ctrl *session.Controller, conn *ws.Conn, msg *ws.Request) error {
	switch msg.Action {
	case ws.ActionState:
		return conn.WriteTyped(ws.StateResponse{Event: ws.EventState, View: ctrl.View()})
	case ws.ActionPing:
		return conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
	case ws.ActionAnswer:
		return answer(ctrl, msg)
	case ws.ActionClear:
		if msg.QuestionID == "" {
			return errInvalidPayload
		}
		return ctrl.ClearAnswer(msg.QuestionID)
	case ws.ActionGoTo:
		if msg.Index == nil {
			return errInvalidPayload
		}
		return ctrl.GoTo(*msg.Index)
	case ws.ActionNext:
		return ctrl.Next()
	case ws.ActionPrevious:
		return ctrl.Previous()
	case ws.ActionSubmitIntent:
		return ctrl.RequestSubmit()
	case ws.ActionSubmitCancel:
		return ctrl.CancelSubmit()
	case ws.ActionSubmitConfirm:
		return ctrl.ConfirmSubmit(c.Request.Context())
	case ws.ActionExit:
		return ctrl.Exit()
	case ws.ActionContinue:
		return ctrl.Continue()
	case ws.ActionAbandon:
		ctrl.Abandon()
		return nil
	case ws.ActionRetry:
		return ctrl.Retry(c.Request.Context())
	case ws.ActionHome:
		ctrl.Home()
		return nil
	default:
		return errUnknownAction
	}
}

// answer routes an answer edit by the fields present in the request.
func answer(ctrl *session.Controller, msg *ws.Request) error {
	if msg.QuestionID == "" {
		return errInvalidPayload
	}
	switch {
	case msg.Text != nil:
		return ctrl.SetText(msg.QuestionID, *msg.Text)
	case msg.Option != nil && msg.Selected != nil:
		return ctrl.ToggleOption(msg.QuestionID, *msg.Option, *msg.Selected)
	case msg.Option != nil:
		return ctrl.SelectOption(msg.QuestionID, *msg.Option)
	default:
		return errInvalidPayload
	}
}

var (
	errInvalidPayload = errors.New("invalid payload")
	errUnknownAction  = errors.New("unknown action")
)

// rejectionCode maps a command the controller refused to the code reported
// to the client.
func rejectionCode(err error) (response.ErrCode, bool) {
	switch {
	case errors.Is(err, errInvalidPayload):
		return response.ErrInvalidPayload, true
	case errors.Is(err, errUnknownAction):
		return response.ErrUnknownAction, true
	case errors.Is(err, session.ErrNotEditable):
		return response.ErrNotEditable, true
	case errors.Is(err, session.ErrInvalidAnswer):
		return response.ErrInvalidAnswer, true
	case errors.Is(err, session.ErrUnknownQuestion):
		return response.ErrUnknownQuestion, true
	case errors.Is(err, session.ErrOutOfRange):
		return response.ErrOutOfRange, true
	case errors.Is(err, session.ErrSubmissionInFlight):
		return response.ErrSubmissionInFlight, true
	case errors.Is(err, session.ErrInvalidTransition):
		return response.ErrInvalidTransition, true
	}
	return "", false
}

// wsNavigator forwards controller navigation to the client as events.
type wsNavigator struct {
	conn *ws.Conn
	log  zerolog.Logger
}

func (n *wsNavigator) state(v session.View) {
	n.write(ws.StateResponse{Event: ws.EventState, View: v})
}

func (n *wsNavigator) RequireAuthentication(testID string) {
	n.write(ws.RequireAuthResponse{Event: ws.EventRequireAuth, TestID: testID})
}

func (n *wsNavigator) ShowError(message string, retryable bool) {
	code := response.ErrTestUnavailable
	if strings.HasPrefix(message, session.ManualFailurePrefix) || strings.HasPrefix(message, session.ExpiryFailurePrefix) {
		code = response.ErrSubmissionFailed
	}
	if err := n.conn.WriteError(code, message, retryable); err != nil {
		n.log.Debug().Err(err).Msg("Failed to write error event")
	}
}

func (n *wsNavigator) ShowSubmissionSuccess(receipt model.SubmissionReceipt) {
	n.write(ws.SubmittedResponse{Event: ws.EventSubmitted, Receipt: receipt})
}

func (n *wsNavigator) ShowHome() {
	n.write(ws.HomeResponse{Event: ws.EventHome})
}

func (n *wsNavigator) write(v any) {
	if err := n.conn.WriteTyped(v); err != nil {
		n.log.Debug().Err(err).Msg("Failed to write event")
	}
}
