package signaling

import (
	"github.com/BioHazard786/slotmesh/internal/errs"
)

// Handler receives decoded inbound messages.
type Handler func(*Message)

// Router is a per-type dispatch table.
type Router struct {
	routes map[Type]Handler
}

func NewRouter() *Router {
	return &Router{routes: make(map[Type]Handler)}
}

// Handle registers h for t, replacing any previous handler.
func (r *Router) Handle(t Type, h Handler) *Router {
	r.routes[t] = h
	return r
}

// Dispatch runs the handler for m.Type.
func (r *Router) Dispatch(m *Message) error {
	h, ok := r.routes[m.Type]
	if !ok {
		return errs.Wrap("dispatch", errs.ErrUnknownType, string(m.Type))
	}
	h(m)
	return nil
}
