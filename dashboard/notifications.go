package dashboard

import (
	"sync"
	"time"
)

// Notification types
const (
	Success = "success"
	Error   = "error"
	Warning = "warning"
	Info    = "info"
)

// NotificationTTL is how long a toast stays visible
const NotificationTTL = 3 * time.Second

// Notification is a transient toast shown to the operator
type Notification struct {
	ID      uint64    `json:"id"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Created time.Time `json:"created"`
}

// Notifier receives the outcome of every dashboard action
type Notifier interface {
	Notify(kind, message string)
}

// Notifications is a thread-safe ring buffer of toasts that expire after
// a fixed TTL
type Notifications struct {
	mu      sync.RWMutex
	entries []Notification
	cap     int
	ttl     time.Duration
	nextID  uint64
	now     func() time.Time
}

// NewNotifications creates a buffer holding at most capacity toasts
func NewNotifications(capacity int) *Notifications {
	if capacity <= 0 {
		capacity = 50
	}
	return &Notifications{
		entries: make([]Notification, 0, capacity),
		cap:     capacity,
		ttl:     NotificationTTL,
		now:     time.Now,
	}
}

// Notify adds a toast. Unknown types are shown as info.
func (n *Notifications) Notify(kind, message string) {
	switch kind {
	case Success, Error, Warning, Info:
	default:
		kind = Info
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	entry := Notification{ID: n.nextID, Type: kind, Message: message, Created: n.now()}

	if len(n.entries) >= n.cap {
		// Shift everything left by 1, drop oldest
		copy(n.entries, n.entries[1:])
		n.entries[len(n.entries)-1] = entry
	} else {
		n.entries = append(n.entries, entry)
	}
}

// Active returns the toasts that have not expired yet, oldest first
func (n *Notifications) Active() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	cutoff := n.now().Add(-n.ttl)
	kept := n.entries[:0]
	for _, e := range n.entries {
		if e.Created.After(cutoff) {
			kept = append(kept, e)
		}
	}
	n.entries = kept

	out := make([]Notification, len(kept))
	copy(out, kept)
	return out
}

// Clear removes all toasts
func (n *Notifications) Clear() {
	n.mu.Lock()
	n.entries = n.entries[:0]
	n.mu.Unlock()
}
