package stream

import (
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultBuffer = 16

var (
	connectedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fineract",
		Subsystem: "stream",
		Name:      "sessions",
		Help:      "Open result stream connections",
	})
	deliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fineract",
		Subsystem: "stream",
		Name:      "deliveries_total",
		Help:      "Result notifications handed to connections by outcome",
	}, []string{"outcome"})
)

// User identifies the owner of a stream connection. Usernames are only
// unique within a tenant.
type User struct {
	TenantID string
	Username string
}

// Conn is one open result stream.
type Conn struct {
	Key    string
	User   User
	events chan []byte
}

// Events yields the notifications routed to c.
func (c *Conn) Events() <-chan []byte { return c.events }

// Sessions maps users to their open connections and connections back to
// their user. A user may hold several connections at once.
type Sessions struct {
	buffer int

	mu     sync.RWMutex
	byUser map[User]map[string]*Conn
	byKey  map[string]*Conn
}

// NewSessions creates an empty registry. Each connection buffers up to
// buffer undelivered notifications.
func NewSessions(buffer int) *Sessions {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Sessions{
		buffer: buffer,
		byUser: make(map[User]map[string]*Conn),
		byKey:  make(map[string]*Conn),
	}
}

// Register opens a connection for u under a fresh key.
func (s *Sessions) Register(u User) *Conn {
	c := &Conn{Key: uuid.NewString(), User: u, events: make(chan []byte, s.buffer)}
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := s.byUser[u]
	if conns == nil {
		conns = make(map[string]*Conn)
		s.byUser[u] = conns
	}
	conns[c.Key] = c
	s.byKey[c.Key] = c
	connectedSessions.Inc()
	return c
}

// Unregister drops the connection with key. It reports whether the key
// was known.
func (s *Sessions) Unregister(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byKey[key]
	if !ok {
		return false
	}
	delete(s.byKey, key)
	if conns := s.byUser[c.User]; conns != nil {
		delete(conns, key)
		if len(conns) == 0 {
			delete(s.byUser, c.User)
		}
	}
	connectedSessions.Dec()
	return true
}

// UserFor resolves a connection key to its user.
func (s *Sessions) UserFor(key string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byKey[key]
	if !ok {
		return User{}, false
	}
	return c.User, true
}

// KeysFor lists the open connection keys of u.
func (s *Sessions) KeysFor(u User) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.byUser[u]))
	for k := range s.byUser[u] {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of open connections.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// Deliver hands data to every connection of u without blocking. A
// connection whose buffer is full misses the notification. It returns the
// number of connections that accepted it.
func (s *Sessions) Deliver(u User, data []byte) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.byUser[u] {
		select {
		case c.events <- data:
			n++
			deliveredTotal.WithLabelValues("delivered").Inc()
		default:
			deliveredTotal.WithLabelValues("dropped").Inc()
		}
	}
	return n
}
