package pool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/hconnect/internal/domain"
	"github.com/thushan/hconnect/internal/logger"
	"github.com/thushan/hconnect/internal/ports"
	"github.com/thushan/hconnect/pkg/format"
)

const (
	DefaultMaxIdleConnections = 5
	DefaultKeepAliveDuration  = 5 * time.Minute
)

// Config is the pool-tunable subset of the connection core's configuration
// surface.
type Config struct {
	MaxIdleConnections int
	KeepAliveDuration  time.Duration
}

func (c Config) maxIdle() int {
	if c.MaxIdleConnections <= 0 {
		return DefaultMaxIdleConnections
	}
	return c.MaxIdleConnections
}

func (c Config) keepAlive() time.Duration {
	if c.KeepAliveDuration <= 0 {
		return DefaultKeepAliveDuration
	}
	return c.KeepAliveDuration
}

// Stats is a point-in-time snapshot of pool composition, for an operator
// to expose through their own metrics endpoint.
type Stats struct {
	Total       int
	Idle        int
	InUse       int
	Multiplexed int
}

func (s Stats) String() string {
	return fmt.Sprintf("total=%d idle=%d in_use=%d multiplexed=%d", s.Total, s.Idle, s.InUse, s.Multiplexed)
}

// Pool is the concurrent connection set backing the core's connection
// reuse. Its connections map is a lock-free xsync.Map; each RealConnection
// additionally owns its own mutex for the acquire/release handshake, so no
// lock is ever held across a blocking health-check probe.
type Pool struct {
	cfg      Config
	log      logger.StyledLogger
	listener ports.EventListener

	conns  *xsync.Map[uint64, *RealConnection]
	nextID atomic.Uint64

	now func() time.Time

	maintMu        sync.Mutex
	maintScheduled bool
}

func New(cfg Config, log logger.StyledLogger, listener ports.EventListener) *Pool {
	if listener == nil {
		listener = ports.NoopListener{}
	}
	return &Pool{
		cfg:      cfg,
		log:      log,
		listener: listener,
		conns:    xsync.NewMap[uint64, *RealConnection](),
		now:      time.Now,
	}
}

// Insert publishes a newly connected RealConnection into the pool and
// schedules maintenance. Used by handoff.HandleSuccess after pool
// lookup #3 confirms no coalescable connection already exists.
func (p *Pool) Insert(rc *RealConnection) uint64 {
	id := p.nextID.Add(1)
	p.conns.Store(id, rc)
	p.scheduleMaintenance()
	return id
}

// AcquirePooled finds an eligible connection under its own lock, then runs
// the health check outside that lock. A connection that fails the health
// check is marked dead and iteration continues.
func (p *Pool) AcquirePooled(address domain.AddressKey, routes []domain.Route, requireMultiplexed bool, weakHealthCheck bool, call ports.Call) (id uint64, conn *RealConnection, handle *CallHandle) {
	p.conns.Range(func(candidateID uint64, rc *RealConnection) bool {
		rc.mu.Lock()
		eligible := rc.EligibleFor(address, routes, requireMultiplexed)
		var h *CallHandle
		if eligible {
			h = rc.acquireLocked(call)
		}
		rc.mu.Unlock()

		if h == nil {
			return true
		}

		if rc.HealthCheck(weakHealthCheck) {
			id, conn, handle = candidateID, rc, h
			return false
		}

		rc.Release(call.ID())
		rc.SetNoNewExchanges()
		if p.log != nil {
			p.log.Warn("evicting connection that failed health check", "route", rc.Route.String())
		}
		return true
	})

	return id, conn, handle
}

// Release detaches a call from its connection. If the connection is now
// idle and either noNewExchanges is set or the pool has no idle capacity,
// it is closed and removed immediately; otherwise maintenance is scheduled
// so the keep-alive sweep can evict it later.
func (p *Pool) Release(id uint64, rc *RealConnection, callID uint64) {
	idle := rc.Release(callID)
	p.listener.ConnectionReleased(rc.Route)
	if !idle {
		return
	}
	if rc.NoNewExchanges() || p.cfg.maxIdle() == 0 {
		p.removeAndClose(id, rc)
		return
	}
	p.scheduleMaintenance()
}

func (p *Pool) removeAndClose(id uint64, rc *RealConnection) {
	p.conns.Delete(id)
	_ = rc.Close()
}

// scheduleMaintenance lazily runs one maintenance sweep in the background,
// the only maintenance task, scheduled on demand rather than on a fixed
// ticker. A sweep that returns a positive delay reschedules itself after that
// delay; a sweep returning -1 (pool empty) does not reschedule.
func (p *Pool) scheduleMaintenance() {
	p.maintMu.Lock()
	if p.maintScheduled {
		p.maintMu.Unlock()
		return
	}
	p.maintScheduled = true
	p.maintMu.Unlock()

	go p.runMaintenanceLoop()
}

func (p *Pool) runMaintenanceLoop() {
	// time.Sleep(delay) can't be woken early: a Release that pushes the
	// pool over maxIdleConnections mid-sleep won't be swept until this
	// timer fires on its own, so the idle cap can be transiently exceeded
	// for up to one keep-alive window. A wake channel selected alongside
	// the sleep, signalled from Release/Insert, would close that gap.
	for {
		delay := p.Sweep()
		if delay < 0 {
			p.maintMu.Lock()
			p.maintScheduled = false
			p.maintMu.Unlock()
			return
		}
		if delay == 0 {
			continue
		}
		time.Sleep(delay)
	}
}

// Sweep runs one maintenance pass: prune leaked call handles, evict the
// longest-idle connection if it exceeds the keep-alive window or the pool
// is over its idle cap, and report how long until the next sweep should
// run. A negative return means the pool is empty and
// the background loop should stop until the next Insert/Release wakes it.
func (p *Pool) Sweep() time.Duration {
	now := p.now()

	type idleEntry struct {
		id  uint64
		rc  *RealConnection
		age time.Duration
	}

	var idleConns []idleEntry
	inUse := 0
	total := 0

	p.conns.Range(func(id uint64, rc *RealConnection) bool {
		total++
		if n := rc.SweepLeaks(); n > 0 && p.log != nil {
			p.log.Warn("dropped leaked call handle(s)", "route", rc.Route.String(), "count", n)
		}
		if rc.IsIdle() {
			idleConns = append(idleConns, idleEntry{id: id, rc: rc, age: now.Sub(rc.IdleSince())})
		} else {
			inUse++
		}
		return true
	})

	if total == 0 {
		return -1
	}

	var longest *idleEntry
	for i := range idleConns {
		if longest == nil || idleConns[i].age > longest.age {
			longest = &idleConns[i]
		}
	}

	if longest == nil {
		return p.cfg.keepAlive()
	}

	overCap := len(idleConns) > p.cfg.maxIdle()
	if longest.age > p.cfg.keepAlive() || overCap {
		if p.log != nil {
			p.log.Debug("evicting idle connection",
				"route", longest.rc.Route.String(),
				"idle_for", format.Duration(longest.age),
				"over_capacity", overCap)
		}
		p.removeAndClose(longest.id, longest.rc)
		return 0
	}

	return p.cfg.keepAlive() - longest.age
}

// EvictAll force-closes every idle connection and marks in-use connections
// noNewExchanges so they close as soon as they're released.
func (p *Pool) EvictAll() {
	p.conns.Range(func(id uint64, rc *RealConnection) bool {
		if rc.IsIdle() {
			p.removeAndClose(id, rc)
		} else {
			rc.SetNoNewExchanges()
		}
		return true
	})
}

func (p *Pool) Stats() Stats {
	var s Stats
	p.conns.Range(func(_ uint64, rc *RealConnection) bool {
		s.Total++
		if rc.IsIdle() {
			s.Idle++
		} else {
			s.InUse++
		}
		if rc.IsMultiplexed() {
			s.Multiplexed++
		}
		return true
	})
	return s
}
