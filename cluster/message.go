// Package cluster implements the node-discovery join protocol: a node
// opens a connection to a bootstrap peer, exchanges Hello/HelloAck, and
// then introduces itself to every peer the bootstrap already knew
// about. It is discovery only - no consensus, no replication, no
// message ordering guarantees beyond what one connection already gives
// you for free.
package cluster

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// NodeInfo identifies one cluster member by alias and listen address.
// It doubles as the Manager's lookup key (as a value, not a pointer) so
// two NodeInfo values compare equal exactly when alias, ip, and port
// all match.
type NodeInfo struct {
	Alias string
	IP    string
	Port  string
}

func (n NodeInfo) String() string {
	return fmt.Sprintf("%s@%s:%s", n.Alias, n.IP, n.Port)
}

// Message is the sum type exchanged between cluster nodes. Unlike the
// opcode enumeration in the vm package, this one is small and grows
// rarely, so a plain Go interface plus gob registration stands in for
// the closed variant set rather than a tagged struct - each concrete
// type below is registered once in init so gob.Decoder can recover the
// dynamic type on the wire.
type Message interface {
	isMessage()
}

// Hello is sent first by the node initiating a join, naming itself and
// the port it listens on.
type Hello struct {
	Alias string
	Port  string
}

// HelloAck answers a Hello with the responder's own identity and the
// full set of peers it currently knows about (not including the new
// joiner - the joiner adds that relationship itself by sending Join to
// each one).
type HelloAck struct {
	Self  NodeInfo
	Nodes []NodeInfo
}

// JoinMsg is the Join message, sent by the initiator to every peer
// named in a HelloAck. It is fire-and-forget: the receiver records the
// sender and never replies.
type JoinMsg struct {
	Alias string
	Port  string
}

func (Hello) isMessage()    {}
func (HelloAck) isMessage() {}
func (JoinMsg) isMessage()  {}

func init() {
	gob.Register(Hello{})
	gob.Register(HelloAck{})
	gob.Register(JoinMsg{})
}

// envelope is the only thing ever put on the wire. gob can decode into
// an interface-typed field only if the concrete type was registered and
// is carried alongside a concrete container, so every message is
// wrapped in one of these rather than encoded bare.
type envelope struct {
	Msg Message
}

// encodeMessage gob-encodes m inside an envelope, unframed. Framing is
// deliberately left to the caller (writeMessage) rather than folded in
// here, matching the spec's framing-is-opaque-to-the-schema stance.
func encodeMessage(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Msg: m}); err != nil {
		return nil, fmt.Errorf("cluster: encode message: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeMessage(payload []byte) (Message, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&env); err != nil {
		return nil, fmt.Errorf("cluster: decode message: %w", err)
	}
	return env.Msg, nil
}
