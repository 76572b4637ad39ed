package mesh

import (
	"sort"

	"github.com/BioHazard786/slotmesh/internal/errs"
)

// Registry holds at most one Connection per remote peer id. Like the slot
// registry it belongs to the coordinator loop and takes no locks.
type Registry struct {
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

func (r *Registry) Get(peer string) *Connection {
	return r.conns[peer]
}

// Add stores c, refusing a second connection for the same peer.
func (r *Registry) Add(c *Connection) error {
	if _, ok := r.conns[c.PeerID]; ok {
		return errs.ForPeer("add connection", c.PeerID, errs.ErrDuplicate)
	}
	r.conns[c.PeerID] = c
	return nil
}

func (r *Registry) Remove(peer string) *Connection {
	c, ok := r.conns[peer]
	if !ok {
		return nil
	}
	delete(r.conns, peer)
	return c
}

func (r *Registry) Len() int {
	return len(r.conns)
}

// Snapshot lists the connections ordered by peer id.
func (r *Registry) Snapshot() []Info {
	out := make([]Info, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (r *Registry) all() []*Connection {
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}
