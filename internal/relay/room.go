package relay

// Room is the set of sockets sharing one broadcast channel.
type Room struct {
	ID      string
	members map[*Client]struct{}
}

func newRoom(id string) *Room {
	return &Room{ID: id, members: make(map[*Client]struct{})}
}

func (r *Room) Len() int {
	return len(r.members)
}
