package controllers

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/valyala/fasthttp"

	"github.com/ManuelReschke/DocFox/internal/pkg/events"
)

const defaultKeepAlive = 15 * time.Second

type EventsController struct {
	bus       events.Bus
	keepAlive time.Duration
}

func NewEventsController(bus events.Bus, keepAlive time.Duration) *EventsController {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &EventsController{bus: bus, keepAlive: keepAlive}
}

// HandleStream relays the progress events of one repository as server-sent
// events until the client goes away.
func (ec *EventsController) HandleStream(c *fiber.Ctx) error {
	repoID, ok := paramID(c, "repoId")
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid repository id")
	}

	ctx, cancel := context.WithCancel(context.Background())
	channel := events.Channel(repoID)
	msgs, unsubscribe, err := ec.bus.Subscribe(ctx, channel)
	if err != nil {
		cancel()
		log.Errorf("[Events] Failed to subscribe to %s: %v", channel, err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to subscribe to events")
	}
	log.Infof("[Events] SSE client subscribed to %s", channel)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	keepAlive := ec.keepAlive
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer func() {
			unsubscribe()
			cancel()
			log.Infof("[Events] SSE client left %s", channel)
		}()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg.Payload)
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			// A failed flush means the client disconnected.
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))
	return nil
}
