package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/coordinator/pkg/trace"
)

// upgrader mirrors the teacher's cmd/fanout upgrader: origin checking is
// left to a reverse proxy in front of this service, not the coordinator.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the one message shape sent over the socket, discriminated by
// kind so a client needn't maintain two separate decoders. Trace messages
// carry their sequence_number; workflow messages have none.
type wireEvent struct {
	Kind     string         `json:"kind"` // "trace" | "workflow"
	Type     string         `json:"type"`
	Sequence int64          `json:"sequence_number,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// StreamEvents handles GET /runs/:id/events: upgrades to a websocket, sends
// every already-committed trace event after the client's since_sequence
// (default 0, i.e. full backlog), then streams live events. The optional
// stream query parameter ("trace" or "events") limits delivery to one of
// the two streams, and type keeps only events whose type starts with the
// given prefix. The stream ends when a write to the socket fails or the Hub
// drops the subscriber for lagging; a run reaching a terminal status does
// not close it.
func (h *runHandler) StreamEvents(c echo.Context) error {
	runID := c.Param("id")
	since := int64(0)
	if v := c.QueryParam("since_sequence"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since_sequence")
		}
		since = parsed
	}
	streamFilter, typePrefix := c.QueryParam("stream"), c.QueryParam("type")
	want := func(stream, typ string) bool {
		return (streamFilter == "" || streamFilter == stream) && strings.HasPrefix(typ, typePrefix)
	}

	// Subscribe before draining backlog: any event committed between the
	// backlog read and the subscription taking effect would otherwise be
	// lost, not duplicated, which is the worse failure mode for a trace
	// stream. A duplicate delivered twice is harmless to a client that
	// tracks sequence_number; a silently skipped one is not.
	sub, unsubscribe, err := h.actor.Subscribe(runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	defer unsubscribe()

	backlog, err := h.actor.TraceSince(runID, since)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "run_id", runID, "error", err)
		return nil
	}
	defer conn.Close()

	for _, e := range backlog {
		if !want("trace", string(e.Type)) {
			continue
		}
		if err := writeTraceEvent(conn, e); err != nil {
			return nil
		}
	}

	for {
		select {
		case e, ok := <-sub.Trace():
			if !ok {
				return nil
			}
			if !want("trace", string(e.Type)) {
				continue
			}
			if err := writeTraceEvent(conn, e); err != nil {
				return nil
			}
		case e, ok := <-sub.Workflow():
			if !ok {
				return nil
			}
			if !want("events", string(e.Type)) {
				continue
			}
			if err := writeWorkflowEvent(conn, e); err != nil {
				return nil
			}
		case <-sub.Lagged():
			// The client fell too far behind and the Hub dropped it;
			// signal it needs to reattach with a fresh since_sequence
			// rather than silently starving it of further events.
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber_lagged"))
			return nil
		}
	}
}

func writeTraceEvent(conn *websocket.Conn, e trace.Event) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(wireEvent{Kind: "trace", Type: string(e.Type), Sequence: e.SequenceNumber, Payload: e.Payload})
}

func writeWorkflowEvent(conn *websocket.Conn, e trace.WorkflowEvent) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(wireEvent{Kind: "workflow", Type: string(e.Type), Payload: e.Payload})
}
