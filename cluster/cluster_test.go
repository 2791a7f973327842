package cluster

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"
)

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return strconv.Itoa(port)
}

func waitForPeer(t *testing.T, mgr *Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.Len() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for manager to reach %d peers, has %d", want, mgr.Len())
}

func TestJoinHandshakeRegistersBothSides(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	portA := freePort(t)
	portB := freePort(t)

	mgrA := NewManager()
	mgrB := NewManager()

	selfA := NodeInfo{Alias: "node-a", IP: "127.0.0.1", Port: portA}
	selfB := NodeInfo{Alias: "node-b", IP: "127.0.0.1", Port: portB}

	go Listen(ctx, "127.0.0.1:"+portA, mgrA, selfA)
	time.Sleep(50 * time.Millisecond)

	if err := Join(ctx, "127.0.0.1:"+portA, mgrB, selfB); err != nil {
		t.Fatalf("Join: %v", err)
	}

	waitForPeer(t, mgrA, 1)
	waitForPeer(t, mgrB, 1)

	if !mgrA.Has(selfB) {
		t.Fatalf("node A's manager does not contain node B: %+v", mgrA.Peers())
	}
	if !mgrB.Has(selfA) {
		t.Fatalf("node B's manager does not contain node A: %+v", mgrB.Peers())
	}
}

func TestJoinIntroducesExistingPeers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	portA := freePort(t)
	portB := freePort(t)
	portC := freePort(t)

	mgrA := NewManager()
	mgrB := NewManager()
	mgrC := NewManager()

	selfA := NodeInfo{Alias: "node-a", IP: "127.0.0.1", Port: portA}
	selfB := NodeInfo{Alias: "node-b", IP: "127.0.0.1", Port: portB}
	selfC := NodeInfo{Alias: "node-c", IP: "127.0.0.1", Port: portC}

	go Listen(ctx, "127.0.0.1:"+portA, mgrA, selfA)
	go Listen(ctx, "127.0.0.1:"+portB, mgrB, selfB)
	go Listen(ctx, "127.0.0.1:"+portC, mgrC, selfC)
	time.Sleep(50 * time.Millisecond)

	// B joins A first, so A knows about B by the time C joins.
	if err := Join(ctx, "127.0.0.1:"+portA, mgrB, selfB); err != nil {
		t.Fatalf("B join A: %v", err)
	}
	waitForPeer(t, mgrA, 1)

	// C joins through A; A's HelloAck should name B, so C should end up
	// connected to both A and B without ever being told about B by hand.
	if err := Join(ctx, "127.0.0.1:"+portA, mgrC, selfC); err != nil {
		t.Fatalf("C join A: %v", err)
	}

	waitForPeer(t, mgrC, 2)
	if !mgrC.Has(selfA) {
		t.Fatalf("node C does not know about node A: %+v", mgrC.Peers())
	}
	if !mgrC.Has(selfB) {
		t.Fatalf("node C does not know about node B transitively: %+v", mgrC.Peers())
	}
}

func TestManagerRejectsDuplicateKey(t *testing.T) {
	mgr := NewManager()
	info := NodeInfo{Alias: "dup", IP: "127.0.0.1", Port: "9999"}

	p1 := &peer{info: info, outbox: newOutboundChan[Message](1)}
	p2 := &peer{info: info, outbox: newOutboundChan[Message](1)}

	if !mgr.add(p1) {
		t.Fatal("expected first add to succeed")
	}
	if mgr.add(p2) {
		t.Fatal("expected duplicate add to be rejected")
	}
	if mgr.Len() != 1 {
		t.Fatalf("expected manager to hold exactly 1 peer, got %d", mgr.Len())
	}
}

func TestOutboundChanNeverBlocksWhenFull(t *testing.T) {
	oc := newOutboundChan[int](1)
	if !oc.send(1) {
		t.Fatal("expected first send to succeed")
	}
	if oc.send(2) {
		t.Fatal("expected second send to be dropped, buffer is full")
	}
	oc.closeOnce()
	oc.closeOnce() // must not panic
}
