package browser

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
)

const (
	MinPortRange = 9222 // Chrome's default debug port
	MaxPortRange = 9272 // 50 ports for browser processes
)

// PortPool hands out debug ports from a fixed range
type PortPool struct {
	min, max  int
	freeStack []int
	freeSet   map[int]bool // Tracks which ports are available
	mu        sync.Mutex
}

// NewPortPool creates a pool over [min, max)
func NewPortPool(min, max int) *PortPool {
	p := &PortPool{
		min:     min,
		max:     max,
		freeSet: make(map[int]bool),
	}
	// Push in reverse so the lowest port is handed out first
	for port := max - 1; port >= min; port-- {
		p.freeStack = append(p.freeStack, port)
		p.freeSet[port] = true
	}
	slog.Debug("port pool initialized", "min", min, "max", max, "size", len(p.freeStack))
	return p
}

// IsPortAvailable checks if a port is available by attempting to listen on it
func IsPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// Acquire retrieves an available port from the pool
func (p *PortPool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Busy ports stay in the pool and are tried again on the next Acquire
	var busy []int
	defer func() {
		for i := len(busy) - 1; i >= 0; i-- {
			p.freeStack = append(p.freeStack, busy[i])
			p.freeSet[busy[i]] = true
		}
	}()

	for len(p.freeStack) > 0 {
		port := p.freeStack[len(p.freeStack)-1]
		p.freeStack = p.freeStack[:len(p.freeStack)-1]
		delete(p.freeSet, port)

		if IsPortAvailable(port) {
			slog.Debug("allocated port from pool", "port", port, "remaining", len(p.freeStack)+len(busy))
			return port, nil
		}

		slog.Debug("port in use by external process", "port", port)
		busy = append(busy, port)
	}

	return 0, fmt.Errorf("no free ports available in pool")
}

// Release returns a port back to the pool for reuse
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Validate port is in valid range
	if port < p.min || port >= p.max {
		slog.Warn("attempted to return invalid port", "port", port)
		return
	}

	// Check if port already in pool
	if p.freeSet[port] {
		slog.Warn("port already in pool, ignoring duplicate return", "port", port)
		return
	}

	p.freeStack = append(p.freeStack, port)
	p.freeSet[port] = true
	slog.Debug("returned port to pool", "port", port, "available", len(p.freeStack))
}

// Stats returns the pool size and how many ports are free
func (p *PortPool) Stats() (total, available int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max - p.min, len(p.freeStack)
}
