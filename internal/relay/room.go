package relay

import "github.com/hari1098/snaptalks/internal/signaling"

// Room holds the two seats of a call room.
type Room struct {
	ID     string
	Admin  *Conn
	Client *Conn
}

func (r *Room) seat(role signaling.Role) *Conn {
	if role == signaling.RoleAdmin {
		return r.Admin
	}
	return r.Client
}

func (r *Room) setSeat(role signaling.Role, c *Conn) {
	if role == signaling.RoleAdmin {
		r.Admin = c
	} else {
		r.Client = c
	}
}

// other returns whoever holds the seat opposite role.
func (r *Room) other(role signaling.Role) *Conn {
	return r.seat(role.Other())
}

func (r *Room) empty() bool {
	return r.Admin == nil && r.Client == nil
}
