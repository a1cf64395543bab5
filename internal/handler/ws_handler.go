package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sertika/cbt-backend/internal/attempt"
	"github.com/sertika/cbt-backend/internal/middleware"
	"github.com/sertika/cbt-backend/internal/model"
	"github.com/sertika/cbt-backend/internal/service"
	ws "github.com/sertika/cbt-backend/internal/websocket"
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

// examConn serializes writes to one WebSocket connection. The read loop and
// the clock expiry callback both write, and gorilla permits one writer at a
// time.
type examConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *examConn) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ws.WriteTyped(c.conn, v)
}

func (c *examConn) sendError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws.WriteError(c.conn, msg) //nolint:errcheck
}

// reportableEvents are the client-originated timeline event types. Anything
// else on the event action is rejected.
var reportableEvents = map[string]model.EventType{
	string(model.EventFocusLost):      model.EventFocusLost,
	string(model.EventInactivityFlag): model.EventInactivityFlag,
	string(model.EventAppRestart):     model.EventAppRestart,
}

// WSHandler handles the live exam WebSocket stream.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/candidate/exams/:exam_id/stream
// Upgrades to WebSocket for real-time autosave, navigation and submission.
func (h *WSHandler) ExamStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sess := &examConn{conn: conn}
	candidateID := claims.UserID

	eng, err := h.attemptService.BuildEngine(c.Request.Context(), examID, candidateID, claims.Name)
	if err != nil {
		switch {
		case err == service.ErrNoAttempt:
			sess.sendError("no active attempt for this exam")
		case err == service.ErrAttemptCompleted:
			sess.sendError("attempt already completed")
		default:
			h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Engine build failed")
			sess.sendError("failed to open exam stream")
		}
		return
	}

	wsLog := h.log.With().
		Int("candidate_id", candidateID).
		Str("exam_id", examID.String()).
		Str("submission_id", eng.Submission().ID.String()).
		Logger()

	// A reconnect resumes a ledger that already has entries.
	resumed := eng.Store.Len() > 0

	bg := context.Background()
	var clientSubmitted atomic.Bool

	eng.OnFinalize(func(sub *model.Submission) {
		if err := h.attemptService.QueueFinalize(bg, eng, candidateID); err != nil {
			wsLog.Error().Err(err).Msg("Failed to queue finalization")
		}
		if n := len(sub.TimelineEvents); n > 0 {
			h.attemptService.QueueEvent(bg, sub.ID, sub.TimelineEvents[n-1])
		}
		if !clientSubmitted.Load() {
			wsLog.Info().Msg("Clock expired, attempt force-finalized")
			sess.send(ws.SubmittedResponse{ //nolint:errcheck
				Event:  ws.EventExpired,
				Status: string(sub.Status),
				Score:  eng.AutoScore(),
			})
		}
	})

	clockCtx, stopClock := context.WithCancel(bg)
	defer stopClock()
	go eng.RunClock(clockCtx)

	if resumed {
		eng.RecordEvent(model.EventConnectionRestored, "Reconnected")
	}
	// Fresh attempts log SESSION_START, resumed ones CONNECTION_RESTORED.
	h.queueLastEvent(bg, eng)
	h.attemptService.SyncPresence(bg, eng.Submission())

	wsLog.Info().Bool("resumed", resumed).Msg("Candidate connected")

	for {
		raw, err := ws.ReadRaw(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		var envelope ws.RequestEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			sess.sendError("malformed message")
			continue
		}

		switch envelope.Action {
		case ws.ActionAutosave:
			h.handleAutosave(bg, sess, eng, raw)
		case ws.ActionNavigate:
			h.handleNavigate(sess, eng, raw)
		case ws.ActionEvent:
			h.handleEvent(bg, sess, eng, raw)
		case ws.ActionSubmit:
			clientSubmitted.Store(true)
			h.handleSubmit(sess, eng)
		case ws.ActionPing:
			sess.send(ws.PongResponse{Event: ws.EventPong, Remaining: eng.TimeRemaining()}) //nolint:errcheck
		default:
			wsLog.Warn().Str("action", string(envelope.Action)).Msg("Unknown action")
			sess.sendError("unknown action: " + string(envelope.Action))
		}
	}

	// Disconnect without a submit leaves the attempt running against the
	// clock; monitors see DISCONNECTED until the candidate returns or time
	// runs out.
	if !eng.Finalized() {
		eng.RecordEvent(model.EventConnectionLost, "Connection lost")
		h.queueLastEvent(bg, eng)
		h.attemptService.SyncPresence(bg, eng.Submission())
	}
}

func (h *WSHandler) handleAutosave(ctx context.Context, sess *examConn, eng *attempt.Attempt, raw []byte) {
	var req ws.AutosaveRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.QID == "" {
		sess.sendError("q_id is required")
		return
	}

	qid, err := uuid.Parse(req.QID)
	if err != nil {
		sess.sendError("invalid q_id format")
		return
	}

	if _, err := eng.UpdateAnswer(ctx, qid, req.Answer); err != nil {
		if err == attempt.ErrFinalized {
			sess.sendError("attempt already finalized")
		} else {
			sess.sendError("question does not belong to this exam")
		}
		return
	}

	sub := eng.Submission()
	sess.send(ws.SavedResponse{ //nolint:errcheck
		Event:    ws.EventSaved,
		QID:      req.QID,
		Progress: sub.Progress,
	})
}

func (h *WSHandler) handleNavigate(sess *examConn, eng *attempt.Attempt, raw []byte) {
	var req ws.NavigateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		sess.sendError("malformed navigate request")
		return
	}

	switch {
	case req.Index != nil:
		eng.Navigator.GoTo(*req.Index)
	case req.Direction == "next":
		eng.Navigator.Next()
	case req.Direction == "previous":
		eng.Navigator.Previous()
	default:
		sess.sendError("direction or index is required")
		return
	}

	resp := ws.PositionResponse{Event: ws.EventPosition, Index: eng.Navigator.Index()}
	if cur := eng.Navigator.Current(); cur != nil {
		resp.QID = cur.ID.String()
	}
	sess.send(resp) //nolint:errcheck
}

func (h *WSHandler) handleEvent(ctx context.Context, sess *examConn, eng *attempt.Attempt, raw []byte) {
	var req ws.EventRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		sess.sendError("malformed event request")
		return
	}

	typ, ok := reportableEvents[req.Type]
	if !ok {
		sess.sendError("unknown event type: " + req.Type)
		return
	}

	label := req.Label
	if label == "" {
		label = string(typ)
	}
	eng.RecordEvent(typ, label)
	h.queueLastEvent(ctx, eng)
	h.attemptService.SyncPresence(ctx, eng.Submission())
}

func (h *WSHandler) handleSubmit(sess *examConn, eng *attempt.Attempt) {
	sub := eng.Finalize()
	sess.send(ws.SubmittedResponse{ //nolint:errcheck
		Event:  ws.EventSubmitted,
		Status: string(sub.Status),
		Score:  eng.AutoScore(),
	})
}

// queueLastEvent pushes the newest timeline event to the durable queue.
// Events recorded before this connection were queued by their own sessions.
func (h *WSHandler) queueLastEvent(ctx context.Context, eng *attempt.Attempt) {
	sub := eng.Submission()
	if n := len(sub.TimelineEvents); n > 0 {
		h.attemptService.QueueEvent(ctx, sub.ID, sub.TimelineEvents[n-1])
	}
}
