package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"nexuseval/internal/events"
)

// streamEvents serves the tenant's progress stream over SSE. The heartbeat
// keeps idle connections alive; a write failure ends the stream.
func (h *Handlers) streamEvents(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	sub := h.bus.Subscribe(tenantID)
	defer h.bus.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		default:
		}

		ev := sub.Poll(events.HeartbeatInterval)
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			return
		}
		c.Writer.Flush()
	}
}
