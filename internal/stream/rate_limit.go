package stream

import "sync"

// maxTotalStreams caps total concurrent SSE connections across all IPs.
const maxTotalStreams = 1000

// streamLimiter enforces per-IP and global concurrent stream limits.
type streamLimiter struct {
	mu       sync.Mutex
	perIP    map[string]int
	total    int
	maxPerIP int
}

func newStreamLimiter(maxPerIP int) *streamLimiter {
	if maxPerIP <= 0 {
		maxPerIP = 10
	}
	return &streamLimiter{
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
	}
}

// acquire reserves a stream slot for ip. Returns false when either the
// per-IP or the global limit is reached.
func (l *streamLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= maxTotalStreams {
		return false
	}
	if l.perIP[ip] >= l.maxPerIP {
		return false
	}
	l.perIP[ip]++
	l.total++
	return true
}

// release frees a previously acquired slot.
func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perIP[ip] > 0 {
		l.perIP[ip]--
		if l.perIP[ip] == 0 {
			delete(l.perIP, ip)
		}
	}
	if l.total > 0 {
		l.total--
	}
}

// count returns the current stream count for ip.
func (l *streamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}
