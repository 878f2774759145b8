// Package router is the in-process publish/subscribe bus that connects the
// link, the state models and every renderer.
package router

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Category names one stream of events. Delivery order is guaranteed within
// a category only.
type Category string

// Handler receives payloads for the categories it is subscribed to.
//
// Handlers are compared by identity, so implementations must be comparable
// (pointer receivers are the usual choice).
type Handler interface {
	Handle(payload any) error
}

type funcHandler struct {
	name string
	fn   func(payload any) error
}

func (h *funcHandler) Handle(payload any) error { return h.fn(payload) }

func (h *funcHandler) String() string { return h.name }

// Func wraps fn in a Handler. Each call returns a distinct handler; keep the
// result if you intend to Unsubscribe later.
func Func(name string, fn func(payload any) error) Handler {
	return &funcHandler{name: name, fn: fn}
}

// Dispatcher runs functions on a single execution context, in the order
// they were posted. Post must not block the caller.
type Dispatcher interface {
	Post(fn func())
}

// Option configures one subscription.
type Option func(*subscription)

// OnUI marks a subscription as belonging to the UI context. Its handler is
// always posted to the router's Dispatcher and never runs on the
// publisher's goroutine.
func OnUI() Option {
	return func(s *subscription) { s.onUI = true }
}

type subscription struct {
	h    Handler
	onUI bool
}

type Router struct {
	log *zap.Logger

	mu   sync.Mutex
	subs map[Category][]subscription
	ui   Dispatcher
}

// New builds a Router. ui may be nil and set later with SetDispatcher.
func New(log *zap.Logger, ui Dispatcher) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		log:  log,
		subs: make(map[Category][]subscription),
		ui:   ui,
	}
}

// SetDispatcher replaces the UI dispatcher. Deliveries already posted to the
// previous dispatcher are not moved.
func (r *Router) SetDispatcher(ui Dispatcher) {
	r.mu.Lock()
	r.ui = ui
	r.mu.Unlock()
}

// Subscribe adds h to category. Subscribing the same handler twice is a
// no-op; the original options are kept.
func (r *Router) Subscribe(category Category, h Handler, opts ...Option) {
	if h == nil {
		return
	}
	s := subscription{h: h}
	for _, opt := range opts {
		opt(&s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.subs[category] {
		if existing.h == h {
			return
		}
	}
	r.subs[category] = append(r.subs[category], s)
}

// Unsubscribe removes h from category. Unknown handlers are ignored.
func (r *Router) Unsubscribe(category Category, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[category]
	for i, existing := range list {
		if existing.h != h {
			continue
		}
		next := make([]subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, category)
		} else {
			r.subs[category] = next
		}
		return
	}
}

// Subscribers reports how many handlers are attached to category.
func (r *Router) Subscribers(category Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[category])
}

// Publish delivers payload to every handler subscribed to category at the
// time of the call. Inline handlers run before Publish returns; UI handlers
// are posted to the dispatcher. Handler failures are logged and never reach
// the caller.
func (r *Router) Publish(category Category, payload any) {
	r.mu.Lock()
	list := r.subs[category]
	ui := r.ui
	r.mu.Unlock()

	// Slices in subs are never modified below their length, so list stays a
	// valid snapshot after unlock.
	for _, s := range list {
		if !s.onUI {
			r.invoke(category, s.h, payload)
			continue
		}
		if ui == nil {
			r.log.Warn("router: no ui dispatcher, dropping delivery",
				zap.String("category", string(category)),
				zap.String("handler", handlerName(s.h)))
			continue
		}
		h := s.h
		ui.Post(func() { r.invoke(category, h, payload) })
	}
}

func (r *Router) invoke(category Category, h Handler, payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("router: handler panicked",
				zap.String("category", string(category)),
				zap.String("handler", handlerName(h)),
				zap.Any("panic", rec))
		}
	}()
	if err := h.Handle(payload); err != nil {
		r.log.Error("router: handler failed",
			zap.String("category", string(category)),
			zap.String("handler", handlerName(h)),
			zap.Error(err))
	}
}

func handlerName(h Handler) string {
	if s, ok := h.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", h)
}
