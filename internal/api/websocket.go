package api

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// liveTailUpgrader configures the net/http-based gorilla/websocket Upgrader
// used to bridge Fiber's fasthttp server to the Webhook Dispatcher's
// live-tail broadcast (spec §9 design note: a streaming observability
// surface alongside the required webhook POSTs). CheckOrigin is permissive
// since this endpoint is authenticated the same way as the rest of the API,
// not by origin.
var liveTailUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveTail handles GET /crawl/live: every connected client receives every
// dispatched event verbatim, independent of any single crawl's configured
// webhook. Bridged through adaptor.HTTPHandlerFunc since fasthttp has no
// native hijack-to-websocket path compatible with gorilla/websocket.
func (h *Handlers) LiveTail(c *fiber.Ctx) error {
	if _, err := h.identify(c); err != nil {
		return writeError(c, err)
	}
	bridge := adaptor.HTTPHandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := liveTailUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("api: live tail upgrade failed")
			return
		}
		defer conn.Close()

		h.dispatcher.RegisterLiveTail(conn)
		defer h.dispatcher.UnregisterLiveTail(conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	return bridge(c)
}
