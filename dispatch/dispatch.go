// Package dispatch routes drained dispatch events to their named
// external handlers: the final stage of every pipeline tick.
package dispatch

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sitewatch/edgebridge/pipeline"
)

// deliveryTimeout bounds one handler delivery attempt.
const deliveryTimeout = 5 * time.Second

// Handler delivers dispatch events to one external destination.
type Handler interface {
	Name() string
	Deliver(ctx context.Context, event pipeline.DispatchEvent) error
}

// Engine routes a tick's drained events to their handlers. Engines
// never return an error: delivery failures are contained per handler
// so one failing destination can't starve the others.
type Engine interface {
	Dispatch(ctx context.Context, events []pipeline.DispatchEvent)
}

// Router is the default engine: it routes each event to the handlers
// its Handlers field names. A failed delivery is retried once, then
// dropped with an error log naming the handler.
type Router struct {
	handlers map[string]Handler
	timeout  time.Duration
}

func NewRouter(handlers ...Handler) *Router {
	var r = &Router{
		handlers: make(map[string]Handler),
		timeout:  deliveryTimeout,
	}
	for _, h := range handlers {
		r.handlers[h.Name()] = h
	}
	return r
}

// Names lists registered handler names.
func (r *Router) Names() []string {
	var out = make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

func (r *Router) Dispatch(ctx context.Context, events []pipeline.DispatchEvent) {
	for _, event := range events {
		for _, name := range event.Handlers {
			var handler, ok = r.handlers[name]
			if !ok {
				log.WithFields(log.Fields{
					"handler": name,
					"eventID": event.ID,
					"origin":  event.Origin,
				}).Error("no such dispatch handler; dropping delivery")
				deliveries.WithLabelValues(name, "unknown").Inc()
				continue
			}
			r.deliver(ctx, handler, event)
		}
	}
}

func (r *Router) deliver(ctx context.Context, handler Handler, event pipeline.DispatchEvent) {
	var err = r.attempt(ctx, handler, event)
	if err == nil {
		deliveries.WithLabelValues(handler.Name(), "ok").Inc()
		return
	}
	log.WithFields(log.Fields{
		"handler": handler.Name(),
		"eventID": event.ID,
		"err":     err,
	}).Warn("dispatch delivery failed; retrying once")

	if err = r.attempt(ctx, handler, event); err == nil {
		deliveries.WithLabelValues(handler.Name(), "retried").Inc()
		return
	}
	log.WithFields(log.Fields{
		"handler": handler.Name(),
		"eventID": event.ID,
		"origin":  event.Origin,
		"err":     err,
	}).Error("dispatch delivery failed after retry; dropping event")
	deliveries.WithLabelValues(handler.Name(), "dropped").Inc()
}

// attempt runs one bounded delivery, containing handler panics.
func (r *Router) attempt(ctx context.Context, handler Handler, event pipeline.DispatchEvent) (err error) {
	var bounded, cancel = context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = &panicError{handler: handler.Name(), value: p}
		}
	}()
	return handler.Deliver(bounded, event)
}

type panicError struct {
	handler string
	value   any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler %s panicked: %v", e.handler, e.value)
}
