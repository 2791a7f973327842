package cluster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
)

// Listen binds addr and runs the responder side of the join protocol
// until ctx is cancelled: every inbound connection is read once per
// spec.md §4.H's responder state machine, then handed off to
// registerPeer. Listen blocks until the listener stops, which happens
// either on ctx cancellation or on a non-recoverable Accept error.
func Listen(ctx context.Context, addr string, mgr *Manager, self NodeInfo) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("cluster: listen on %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("cluster: accept error: %v", err)
			continue
		}
		go handleInbound(conn, mgr, self)
	}
}

// handleInbound implements the per-connection responder state machine:
// read exactly one message, act on it, and (for anything but a
// malformed first message) hand the connection off to registerPeer so
// it gets a reader and writer goroutine of its own.
func handleInbound(conn net.Conn, mgr *Manager, self NodeInfo) {
	r := bufio.NewReader(conn)
	msg, err := readMessage(r)
	if err != nil {
		log.Printf("cluster: reading first message from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	remoteHost := hostOf(conn.RemoteAddr())

	switch m := msg.(type) {
	case Hello:
		peers := mgr.Peers()
		ack := HelloAck{Self: self, Nodes: peers}
		if err := writeMessage(conn, ack); err != nil {
			log.Printf("cluster: replying to hello from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		info := NodeInfo{Alias: m.Alias, IP: remoteHost, Port: m.Port}
		registerPeer(conn, r, info, mgr)

	case JoinMsg:
		info := NodeInfo{Alias: m.Alias, IP: remoteHost, Port: m.Port}
		registerPeer(conn, r, info, mgr)

	default:
		log.Printf("cluster: unexpected first message from %s: %T", conn.RemoteAddr(), msg)
		conn.Close()
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
