// Package stream implements the SSE wire encoding: each event is written
// as "event: <type>\n" then "data: <json>\n\n", flushed after every
// write, over fiber's body stream writer (fiber has no built-in SSE
// helper, so this is the idiomatic pattern for services built on it).
package stream

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/pkg/logger"
)

// Write drains sink and streams each Event to the client as SSE until the
// sink closes (normal completion) or the client disconnects (which
// cancels the caller-supplied context, letting the engine observe
// cancellation at its next emission point).
func Write(c *fiber.Ctx, sink *agent.Sink) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		for evt := range sink.Events() {
			if err := writeEvent(w, evt); err != nil {
				logger.Debug("sse client disconnected", zap.Error(err))
				return
			}
			if err := w.Flush(); err != nil {
				logger.Debug("sse flush failed, client likely disconnected", zap.Error(err))
				return
			}
		}
	})
}

func writeEvent(w *bufio.Writer, evt agent.Event) error {
	payload, err := encode(evt)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", evt.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return nil
}

// encode maps an Event to its wire shape, keeping only the fields
// relevant to its type so the client doesn't see a sparse tagged union.
func encode(evt agent.Event) ([]byte, error) {
	switch evt.Type {
	case agent.EventStatus:
		return json.Marshal(struct {
			Step    agent.Step             `json:"step"`
			Message string                 `json:"message"`
			Details map[string]interface{} `json:"details,omitempty"`
		}{evt.Step, evt.Message, evt.Details})
	case agent.EventContent:
		return json.Marshal(struct {
			Token string `json:"token"`
		}{evt.Token})
	case agent.EventSources:
		sources := evt.Sources
		if sources == nil {
			sources = []agent.Source{}
		}
		return json.Marshal(struct {
			Sources []agent.Source `json:"sources"`
		}{sources})
	case agent.EventMetadata:
		return json.Marshal(evt.Metadata)
	case agent.EventError:
		return json.Marshal(struct {
			Error string `json:"error"`
			Code  string `json:"code,omitempty"`
		}{evt.Error, evt.Code})
	case agent.EventDone:
		return json.Marshal(struct{}{})
	default:
		return json.Marshal(struct{}{})
	}
}
