package cluster

import "sync"

// peer is one connected cluster member: its identity plus the channel
// its writer goroutine drains. The connection itself is held by the
// peer's reader and writer goroutines (see registerPeer): the reader
// owns its read half exclusively, the writer owns the write half
// exclusively, and neither touches the other's side, so the two can run
// concurrently without synchronizing on the conn itself.
type peer struct {
	info   NodeInfo
	outbox *outboundChan[Message]
}

// Manager indexes every connected peer by the (alias, ip, port) triple
// spec.md names as the cluster's one cross-thread shared object. Reads
// (enumerating peers to build a HelloAck) take RLock; inserts and
// removes take Lock, matching the teacher's consistent sync.RWMutex use
// for shared maps accessed from many goroutines.
type Manager struct {
	mu    sync.RWMutex
	peers map[NodeInfo]*peer
}

// NewManager returns an empty Manager ready to use.
func NewManager() *Manager {
	return &Manager{peers: make(map[NodeInfo]*peer)}
}

// add inserts a peer under its NodeInfo key. It is idempotent-rejecting:
// if the key is already present, add leaves the map untouched and
// returns false.
func (m *Manager) add(p *peer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.peers[p.info]; exists {
		return false
	}
	m.peers[p.info] = p
	return true
}

// remove drops a peer from the map. Called once by a connection's
// reader goroutine when the connection fails or closes, so the Manager
// never holds a stale entry for a dead connection.
func (m *Manager) remove(info NodeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, info)
}

// Peers returns a snapshot of every NodeInfo currently known, in no
// particular order. Used to build the "nodes" field of a HelloAck -
// the snapshot is taken under RLock and handed back as a plain slice so
// callers never hold the Manager's lock while they serialize a message.
func (m *Manager) Peers() []NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]NodeInfo, 0, len(m.peers))
	for info := range m.peers {
		out = append(out, info)
	}
	return out
}

// Has reports whether info is currently a known peer.
func (m *Manager) Has(info NodeInfo) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.peers[info]
	return ok
}

// Len reports the number of currently known peers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}
