package conn

import (
	"github.com/corenet/p2p/internal/xlog"
	"github.com/corenet/p2p/wire"
)

// Handler is an application's subscription record: a set of message codes it
// cares about plus lifecycle/delivery callbacks (spec.md §4.5 "registered
// application handler", §6 register_handler, §9 "a single handler
// capability record").
type Handler struct {
	Codes      map[byte]struct{}
	OnConnect  func(ch *Channel)
	OnDisconnect func(ch *Channel)
	OnMessage  func(ch *Channel, msg *wire.AppTestMessage)
}

func (h *Handler) subscribes(code byte) bool {
	_, ok := h.Codes[code]
	return ok
}

// HandlerRegistry fans channel lifecycle and APP_TEST deliveries out to every
// registered Handler, isolating a panicking or erroring handler from its
// siblings and from the channel itself (spec.md §4.5 "Exceptions from any
// handler MUST be isolated").
type HandlerRegistry struct {
	log      xlog.Logger
	handlers []*Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{log: xlog.New("component", "handlers")}
}

// Register adds h to the registry. codes of zero length subscribes to all
// APP_TEST traffic.
func (r *HandlerRegistry) Register(h *Handler) {
	r.handlers = append(r.handlers, h)
}

func (r *HandlerRegistry) notifyConnect(ch *Channel) {
	for _, h := range r.handlers {
		h := h
		r.isolate(func() {
			if h.OnConnect != nil {
				h.OnConnect(ch)
			}
		})
	}
}

func (r *HandlerRegistry) notifyDisconnect(ch *Channel) {
	for _, h := range r.handlers {
		h := h
		r.isolate(func() {
			if h.OnDisconnect != nil {
				h.OnDisconnect(ch)
			}
		})
	}
}

func (r *HandlerRegistry) notifyMessage(ch *Channel, msg *wire.AppTestMessage) {
	for _, h := range r.handlers {
		h := h
		if len(h.Codes) > 0 && !h.subscribes(wire.CodeAppTest) {
			continue
		}
		r.isolate(func() {
			if h.OnMessage != nil {
				h.OnMessage(ch, msg)
			}
		})
	}
}

// isolate runs fn, recovering a panic so one misbehaving handler cannot take
// down the channel's pipeline goroutine or its sibling handlers.
func (r *HandlerRegistry) isolate(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("application handler panicked", "recovered", rec)
		}
	}()
	fn()
}
