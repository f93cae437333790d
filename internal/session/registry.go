package session

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one registry entry, keyed by (Address, ReceivePort).
// Values returned by the Registry are copies and safe to use without locking.
type Session struct {
	ID             uuid.UUID  `json:"id"`
	Address        netip.Addr `json:"address"`
	ReceivePort    int        `json:"receive_port"`
	Label          string     `json:"label"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	Active         bool       `json:"active"`
}

// Endpoint returns the address broadcasts are delivered to
func (s Session) Endpoint() netip.AddrPort {
	return netip.AddrPortFrom(s.Address, uint16(s.ReceivePort))
}

// UDPAddr returns Endpoint as a *net.UDPAddr
func (s Session) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(s.Endpoint())
}

// Outcome reports what Register did
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeReconnected
	OutcomeAlreadyActive
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeReconnected:
		return "reconnected"
	case OutcomeAlreadyActive:
		return "already_active"
	default:
		return "unknown"
	}
}

type key struct {
	addr netip.Addr
	port int
}

// Resolver performs reverse lookups for session labels. *net.Resolver satisfies it.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// Registry holds every known client session. A single RWMutex guards all
// reads and writes; it is never held across DNS lookups.
type Registry struct {
	sessions map[key]*Session
	order    []key
	mu       sync.RWMutex
	logger   *slog.Logger

	resolver       Resolver
	resolveTimeout time.Duration

	now func() time.Time
}

// NewRegistry creates an empty registry. resolver may be nil, in which case
// labels are the literal IP address.
func NewRegistry(logger *slog.Logger, resolver Resolver, resolveTimeout time.Duration) *Registry {
	return &Registry{
		sessions:       make(map[key]*Session),
		logger:         logger,
		resolver:       resolver,
		resolveTimeout: resolveTimeout,
		now:            time.Now,
	}
}

// Register adds or reactivates the session for (addr, port).
// A repeat register for an active session is a no-op.
func (r *Registry) Register(ctx context.Context, addr netip.Addr, port int) (Session, Outcome) {
	k := key{addr: addr.Unmap(), port: port}

	r.mu.Lock()
	if existing, ok := r.sessions[k]; ok {
		s, outcome := r.activateLocked(existing)
		r.mu.Unlock()
		r.logTransition(s, outcome)
		return s, outcome
	}
	r.mu.Unlock()

	label := r.resolveLabel(ctx, k.addr)

	r.mu.Lock()
	// Another register for the same pair may have won while resolving
	if existing, ok := r.sessions[k]; ok {
		s, outcome := r.activateLocked(existing)
		r.mu.Unlock()
		r.logTransition(s, outcome)
		return s, outcome
	}

	created := &Session{
		ID:          uuid.New(),
		Address:     k.addr,
		ReceivePort: port,
		Label:       label,
		ConnectedAt: r.now(),
		Active:      true,
	}
	r.sessions[k] = created
	r.order = append(r.order, k)
	s := *created
	r.mu.Unlock()

	r.logTransition(s, OutcomeCreated)
	return s, OutcomeCreated
}

// activateLocked reconnects an inactive session. Caller holds r.mu.
func (r *Registry) activateLocked(s *Session) (Session, Outcome) {
	if s.Active {
		return *s, OutcomeAlreadyActive
	}
	s.Active = true
	s.ConnectedAt = r.now()
	s.DisconnectedAt = nil
	return *s, OutcomeReconnected
}

// Deregister marks the session for (addr, port) inactive. It reports false
// when there is no such session or it was already inactive.
func (r *Registry) Deregister(addr netip.Addr, port int) (Session, bool) {
	k := key{addr: addr.Unmap(), port: port}

	r.mu.Lock()
	existing, ok := r.sessions[k]
	if !ok || !existing.Active {
		r.mu.Unlock()
		return Session{}, false
	}
	r.deactivateLocked(existing)
	s := *existing
	r.mu.Unlock()

	r.logger.Info("Client disconnected",
		slog.String("address", s.Address.String()),
		slog.Int("receive_port", s.ReceivePort),
		slog.String("label", s.Label),
		slog.Time("disconnected_at", *s.DisconnectedAt),
	)
	return s, true
}

func (r *Registry) deactivateLocked(s *Session) {
	now := r.now()
	s.Active = false
	s.DisconnectedAt = &now
}

// SnapshotActive returns copies of the active sessions in registration order
func (r *Registry) SnapshotActive() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]Session, 0, len(r.order))
	for _, k := range r.order {
		if s := r.sessions[k]; s.Active {
			active = append(active, *s)
		}
	}
	return active
}

// Sessions returns copies of every session, active or not, in registration order
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Session, 0, len(r.order))
	for _, k := range r.order {
		all = append(all, *r.sessions[k])
	}
	return all
}

// Lookup returns the session for (addr, port) if one exists
func (r *Registry) Lookup(addr netip.Addr, port int) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[key{addr: addr.Unmap(), port: port}]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ActiveCount returns the number of active sessions
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, s := range r.sessions {
		if s.Active {
			count++
		}
	}
	return count
}

// Len returns the number of sessions, active or not
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ClearAll disconnects every active session and empties the registry.
// It returns the sessions that were active.
func (r *Registry) ClearAll() []Session {
	r.mu.Lock()
	disconnected := make([]Session, 0, len(r.order))
	for _, k := range r.order {
		s := r.sessions[k]
		if s.Active {
			r.deactivateLocked(s)
			disconnected = append(disconnected, *s)
		}
	}
	r.sessions = make(map[key]*Session)
	r.order = nil
	r.mu.Unlock()

	for _, s := range disconnected {
		r.logger.Info("Client disconnected",
			slog.String("address", s.Address.String()),
			slog.Int("receive_port", s.ReceivePort),
			slog.String("label", s.Label),
			slog.Time("disconnected_at", *s.DisconnectedAt),
			slog.String("reason", "server_shutdown"),
		)
	}
	return disconnected
}

// resolveLabel returns the reverse-DNS name of addr, or its literal form
func (r *Registry) resolveLabel(ctx context.Context, addr netip.Addr) string {
	literal := addr.String()
	if r.resolver == nil {
		return literal
	}

	if r.resolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.resolveTimeout)
		defer cancel()
	}

	names, err := r.resolver.LookupAddr(ctx, literal)
	if err != nil || len(names) == 0 {
		if err != nil {
			r.logger.Debug("Reverse lookup failed, using address as label",
				slog.String("address", literal),
				slog.String("error", err.Error()),
			)
		}
		return literal
	}

	name := strings.TrimSuffix(names[0], ".")
	if name == "" {
		return literal
	}
	return name
}

func (r *Registry) logTransition(s Session, outcome Outcome) {
	switch outcome {
	case OutcomeCreated:
		r.logger.Info("Client connected",
			slog.String("session_id", s.ID.String()),
			slog.String("address", s.Address.String()),
			slog.Int("receive_port", s.ReceivePort),
			slog.String("label", s.Label),
			slog.Time("connected_at", s.ConnectedAt),
		)
	case OutcomeReconnected:
		r.logger.Info("Client reconnected",
			slog.String("session_id", s.ID.String()),
			slog.String("address", s.Address.String()),
			slog.Int("receive_port", s.ReceivePort),
			slog.String("label", s.Label),
			slog.Time("connected_at", s.ConnectedAt),
		)
	default:
		r.logger.Debug("Client already connected",
			slog.String("address", s.Address.String()),
			slog.Int("receive_port", s.ReceivePort),
		)
	}
}
