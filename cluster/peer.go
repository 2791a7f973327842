package cluster

import (
	"bufio"
	"log"
	"net"
)

const outboxCapacity = 16

// registerPeer wires up a freshly identified connection: it adds the
// peer to mgr under info, then spawns the reader and writer goroutines
// described in spec.md §5 - one owns the read half, the other owns the
// write half fed by a buffered channel, so nothing ever writes to conn
// from two goroutines at once. It reports whether the peer was newly
// added; a false return (duplicate key) means the connection was closed
// and nothing was spawned.
func registerPeer(conn net.Conn, r *bufio.Reader, info NodeInfo, mgr *Manager) bool {
	outbox := newOutboundChan[Message](outboxCapacity)
	p := &peer{info: info, outbox: outbox}

	if !mgr.add(p) {
		log.Printf("cluster: rejected duplicate peer %s", info)
		conn.Close()
		return false
	}

	go writerLoop(conn, outbox)
	go readerLoop(conn, r, info, mgr, outbox)
	return true
}

// writerLoop drains outbox and writes each message to conn until the
// channel is closed (by the matching readerLoop once the connection
// dies) or a write fails.
func writerLoop(conn net.Conn, outbox *outboundChan[Message]) {
	for m := range outbox.ch {
		if err := writeMessage(conn, m); err != nil {
			log.Printf("cluster: write to %s failed: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// readerLoop owns conn's read half for the lifetime of the peer. The
// join protocol expects no further traffic after the handshake, so this
// just watches for the connection dying; any read error (including a
// clean EOF) is treated as the peer leaving, which is the only failure
// mode spec.md defines for an established connection.
func readerLoop(conn net.Conn, r *bufio.Reader, info NodeInfo, mgr *Manager, outbox *outboundChan[Message]) {
	defer func() {
		mgr.remove(info)
		outbox.closeOnce()
		conn.Close()
	}()

	for {
		msg, err := readMessage(r)
		if err != nil {
			return
		}
		log.Printf("cluster: unexpected message from %s after handshake: %T", info, msg)
	}
}
