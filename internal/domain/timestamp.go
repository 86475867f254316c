package domain

import "time"

// Timestamp is either Pending (written, server time not assigned yet) or
// Confirmed. Pending values carry a local order so they can be placed
// deterministically until they resolve.
type Timestamp struct {
	at        time.Time
	local     uint64
	confirmed bool
}

func Confirmed(t time.Time) Timestamp {
	return Timestamp{at: t, confirmed: true}
}

func Pending(localOrder uint64) Timestamp {
	return Timestamp{local: localOrder}
}

func (t Timestamp) IsPending() bool { return !t.confirmed }

// Time returns the resolved time, or false while pending.
func (t Timestamp) Time() (time.Time, bool) {
	return t.at, t.confirmed
}

func (t Timestamp) LocalOrder() uint64 { return t.local }

// WithLocalOrder keeps the resolved time but records a local order, used to
// break ties between equal server times.
func (t Timestamp) WithLocalOrder(order uint64) Timestamp {
	t.local = order
	return t
}

// Before orders confirmed timestamps by time, then every pending timestamp
// after all confirmed ones by local order.
func (t Timestamp) Before(o Timestamp) bool {
	switch {
	case t.confirmed && o.confirmed:
		if t.at.Equal(o.at) {
			return t.local < o.local
		}
		return t.at.Before(o.at)
	case t.confirmed:
		return true
	case o.confirmed:
		return false
	default:
		return t.local < o.local
	}
}

// ReadState is Unread or ReadAt(t). A zero ReadAt time means the store
// recorded a plain boolean.
type ReadState struct {
	at   time.Time
	read bool
}

func Unread() ReadState { return ReadState{} }

func ReadAt(t time.Time) ReadState { return ReadState{at: t, read: true} }

func (r ReadState) IsRead() bool { return r.read }

func (r ReadState) At() (time.Time, bool) {
	return r.at, r.read && !r.at.IsZero()
}
