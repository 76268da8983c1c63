package ws

import (
	"time"

	"github.com/statementdesk/extraction-client/internal/core/domain"
)

// keepalive emits a protocol-level ping on a fixed interval so long
// backend jobs do not hit idle timeouts. A failed send stops the
// monitor; the read loop's close handling owns any reconnection.
func (c *streamConn) keepalive(stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.closeCh:
			return
		case <-ticker.C:
			if err := c.Send(domain.PingFrame(c.key.CorrelationID)); err != nil {
				c.logger.Warn("ws_heartbeat_send_failed", "error", err)
				return
			}
			c.metrics.ObserveHeartbeat()
		}
	}
}
