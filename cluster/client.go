package cluster

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
)

// Join drives the initiator side of the join protocol: connect to
// bootstrap, exchange Hello/HelloAck, register the bootstrap node as a
// peer, then open a connection to every peer it named and send each one
// a Join. The bootstrap node is registered before Join returns; each of
// the other peers is contacted on its own goroutine and registered once
// its Join has been sent, so mgr may gain those peers after Join returns.
func Join(ctx context.Context, bootstrap string, mgr *Manager, self NodeInfo) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", bootstrap)
	if err != nil {
		return fmt.Errorf("cluster: dial bootstrap %s: %w", bootstrap, err)
	}

	r := bufio.NewReader(conn)
	if err := writeMessage(conn, Hello{Alias: self.Alias, Port: self.Port}); err != nil {
		conn.Close()
		return fmt.Errorf("cluster: send hello to %s: %w", bootstrap, err)
	}

	msg, err := readMessage(r)
	if err != nil {
		conn.Close()
		return fmt.Errorf("cluster: read hello-ack from %s: %w", bootstrap, err)
	}
	ack, ok := msg.(HelloAck)
	if !ok {
		conn.Close()
		return fmt.Errorf("cluster: expected hello-ack from %s, got %T", bootstrap, msg)
	}

	bootstrapHost := hostOf(conn.RemoteAddr())
	bootstrapInfo := NodeInfo{Alias: ack.Self.Alias, IP: bootstrapHost, Port: ack.Self.Port}
	registerPeer(conn, r, bootstrapInfo, mgr)

	for _, peerInfo := range ack.Nodes {
		go joinPeer(ctx, peerInfo, mgr, self)
	}
	return nil
}

// joinPeer opens a connection to a peer discovered via a HelloAck and
// sends it a Join. Unlike Hello, Join expects no reply - the receiver
// records the sender and moves on (spec.md §4.H step 4).
func joinPeer(ctx context.Context, peerInfo NodeInfo, mgr *Manager, self NodeInfo) {
	addr := net.JoinHostPort(peerInfo.IP, peerInfo.Port)
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		log.Printf("cluster: dial peer %s: %v", peerInfo, err)
		return
	}

	r := bufio.NewReader(conn)
	if err := writeMessage(conn, JoinMsg{Alias: self.Alias, Port: self.Port}); err != nil {
		log.Printf("cluster: send join to %s: %v", peerInfo, err)
		conn.Close()
		return
	}

	registerPeer(conn, r, peerInfo, mgr)
}
