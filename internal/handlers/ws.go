package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"veilcore/internal/veilerr"
	"veilcore/internal/withdraw"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is one frame on the withdrawal progress socket.
type wsMessage struct {
	Type      string `json:"type"` // "progress", "result", "error"
	State     string `json:"state,omitempty"`
	Stage     string `json:"stage,omitempty"`
	ID        string `json:"id,omitempty"`
	Signature string `json:"signature,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// WithdrawWS runs a withdrawal over a websocket, streaming progress frames.
// The client sends one WithdrawRequest as its first message; the server
// streams progress and closes after the result frame.
func (h *Handler) WithdrawWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var req WithdrawRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(wsMessage{Type: "error", Error: "invalid request frame"})
		return
	}
	mreq, err := req.toManagerRequest()
	if err != nil {
		_ = conn.WriteJSON(wsMessage{Type: "error", Error: err.Error()})
		return
	}

	progress := make(chan withdraw.Progress, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			msg := wsMessage{Type: "progress", State: string(p.State), Stage: string(p.Stage)}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	res, err := h.Withdrawals.Withdraw(c.Request.Context(), mreq, progress)
	close(progress)
	<-done

	if err != nil {
		_ = conn.WriteJSON(wsMessage{
			Type:  "error",
			State: string(res.State),
			Error: err.Error(),
			Kind:  veilerr.KindOf(err).String(),
		})
		return
	}
	_ = conn.WriteJSON(wsMessage{
		Type:      "result",
		ID:        res.ID,
		State:     string(res.State),
		Signature: string(res.Signature),
		Attempts:  res.Attempts,
	})
}
