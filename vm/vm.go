package vm

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/epie-lang/epie/cluster"
)

const (
	numRegisters = 32

	// Bytes per call-stack frame slot; every PUSH/POP/CALL/RET moves the
	// call stack by exactly this many bytes, matching the 32-bit virtual
	// architecture's word size.
	frameBytes = 4

	defaultCallStackBytes = 65536
)

var (
	ErrProgramFinished    = errors.New("ran out of instructions")
	ErrSegmentationFault  = errors.New("segmentation fault")
	ErrIllegalOperation   = errors.New("illegal operation")
	ErrUnknownInstruction = errors.New("instruction not recognized")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrNegativeAllocation = errors.New("negative allocation size")
	ErrStackUnderflow     = errors.New("call stack underflow")
)

// EventKind tags the closed set of events a VM can emit during Run.
type EventKind int

const (
	EventStart EventKind = iota
	EventGracefulStop
	EventCrash
)

// VMEvent is one entry in a VM's event log. Run returns the full log
// accumulated over its lifetime, matching library callers' expectations
// that they can inspect what happened after the fact rather than having
// to observe execution live.
type VMEvent struct {
	Kind   EventKind
	At     time.Time
	Detail string // exit code text, crash reason, or "" for Start
}

// debugSymbols optionally maps a code offset to the source line that
// produced it, carried through from the assembler when debug symbols
// were requested. Used only to enrich crash reporting.
type debugSymbols struct {
	bySourceOffset map[uint32]string
}

// VM is one register machine instance: its own registers, heap, call
// stack, read-only data segment, and event log. VMs share no mutable
// state with each other - the only thing that ever crosses a VM
// boundary is a byte slice (the cluster's wire messages, or an image).
type VM struct {
	registers      [numRegisters]int32
	floatRegisters [numRegisters]float64

	pc          uint32
	equalityFlg bool
	remainder   int32
	loopCounter int32

	code      []byte // executable bytes (no RO data mixed in)
	roData    []byte // read-only interned strings/ints
	heap      []byte
	callStack []byte
	sp        uint32 // call stack pointer; grows downward

	events []VMEvent

	id    uuid.UUID
	alias string

	clusterHost   string
	clusterPort   int
	clusterMgr    *cluster.Manager
	clusterCancel context.CancelFunc

	stdout *bufio.Writer

	errcode error
	dbg     *debugSymbols

	// bootErr records a malformed-image failure from AddBytes (bad
	// magic, truncated header). It is surfaced as the mandated
	// Start+Crash(1) pair the first time Run is called, rather than
	// only as AddBytes's own return value, so a caller driving a VM
	// purely through Run's event log still observes the failure.
	bootErr error
}

// NewVM constructs an empty VM with no program loaded yet. Call
// AddBytes to load an assembled image before Run/RunOnce.
func NewVM() *VM {
	v := &VM{
		callStack: make([]byte, defaultCallStackBytes),
		stdout:    bufio.NewWriter(os.Stdout),
		id:        uuid.New(),
	}
	v.sp = uint32(len(v.callStack))
	return v
}

// WithAlias sets the human-readable name this VM advertises over the
// cluster join protocol. Returns the receiver for chaining, matching
// the builder-style construction the library API calls for.
func (v *VM) WithAlias(name string) *VM {
	v.alias = name
	return v
}

// WithClusterBind records the address this VM's node will listen on if
// BindClusterServer is later called. It does not open a socket itself.
func (v *VM) WithClusterBind(host string, port int) *VM {
	v.clusterHost = host
	v.clusterPort = port
	return v
}

// SetOutput redirects the VM's PRTS output away from stdout, primarily
// for tests that want to capture program output.
func (v *VM) SetOutput(w io.Writer) {
	v.stdout = bufio.NewWriter(w)
}

// ID returns this VM's unique identity, generated by NewVM. The cluster
// join protocol identifies the node by its alias, not by this ID.
func (v *VM) ID() uuid.UUID { return v.id }

// Alias returns the human-readable node name, or "" if none was set.
func (v *VM) Alias() string { return v.alias }

// ClusterAddr returns the host/port this VM would bind to, and whether
// WithClusterBind was ever called.
func (v *VM) ClusterAddr() (host string, port int, ok bool) {
	return v.clusterHost, v.clusterPort, v.clusterHost != "" || v.clusterPort != 0
}

// BindClusterServer starts this VM's cluster node listening on the
// address given to WithClusterBind, returning as soon as the listener
// is up. The listener and its peer bookkeeping run on background
// goroutines for the remaining lifetime of the VM; per spec.md §7 the
// cluster layer surfaces failures only through its own logging, never
// back through this call.
func (v *VM) BindClusterServer() error {
	if v.clusterHost == "" && v.clusterPort == 0 {
		return fmt.Errorf("cluster bind address not set; call WithClusterBind first")
	}

	self := cluster.NodeInfo{Alias: v.alias, IP: v.clusterHost, Port: strconv.Itoa(v.clusterPort)}
	v.clusterMgr = cluster.NewManager()

	ctx, cancel := context.WithCancel(context.Background())
	v.clusterCancel = cancel

	addr := v.clusterHost + ":" + strconv.Itoa(v.clusterPort)
	ready := make(chan error, 1)
	go func() {
		ready <- cluster.Listen(ctx, addr, v.clusterMgr, self)
	}()

	select {
	case err := <-ready:
		// Listen returned immediately, which only happens on a bind
		// failure (it otherwise blocks until ctx is cancelled).
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// ClusterManager returns the Manager backing this VM's cluster node, or
// nil if BindClusterServer was never called.
func (v *VM) ClusterManager() *cluster.Manager { return v.clusterMgr }

// StopClusterServer shuts down the background listener started by
// BindClusterServer, if any.
func (v *VM) StopClusterServer() {
	if v.clusterCancel != nil {
		v.clusterCancel()
	}
}

// AddBytes loads an assembled image (see image.go for its layout) into
// the VM, appending to the code and read-only segments. It does not
// reset registers, heap, or the call stack, so a REPL can keep
// appending freshly assembled bytecode onto a program already in
// flight.
func (v *VM) AddBytes(image []byte) error {
	header, err := parseImageHeader(image)
	if err != nil {
		if v.bootErr == nil {
			v.bootErr = err
		}
		return err
	}

	roStart := imageHeaderBytes
	roEnd := roStart + int(header.roLength)
	if roEnd > len(image) {
		if v.bootErr == nil {
			v.bootErr = ErrImageTruncated
		}
		return ErrImageTruncated
	}

	v.roData = append(v.roData, image[roStart:roEnd]...)
	v.code = append(v.code, image[roEnd:]...)
	return nil
}

// EnableDebugSymbols turns on source-line tracking for crash reporting.
// Must be called before AddBytes for the offsets to line up; intended
// for interactive/debug callers, not the hot execution path.
func (v *VM) EnableDebugSymbols(bySourceOffset map[uint32]string) {
	v.dbg = &debugSymbols{bySourceOffset: bySourceOffset}
}

// Run executes the loaded program to completion (HLT, a crash, or
// running off the end of the code segment) and returns the VM's full
// event log, including events from earlier Run calls on this VM.
func (v *VM) Run() (events []VMEvent) {
	v.events = append(v.events, VMEvent{Kind: EventStart, At: now()})

	// Matches the boot sequence's header check: a malformed image never
	// reaches the fetch-decode-execute loop, it just crashes immediately
	// with exit code 1.
	if v.bootErr != nil {
		v.events = append(v.events, VMEvent{Kind: EventCrash, At: now(), Detail: "1"})
		return v.events
	}

	defer func() {
		if r := recover(); r != nil {
			v.errcode = ErrSegmentationFault
			v.events = append(v.events, VMEvent{Kind: EventCrash, At: now(), Detail: fmt.Sprint(r)})
			events = v.events
		}
		v.stdout.Flush()
	}()

	for {
		if v.step() {
			break
		}
	}

	switch v.errcode {
	case nil, ErrProgramFinished:
		v.events = append(v.events, VMEvent{Kind: EventGracefulStop, At: now(), Detail: "0"})
	default:
		v.events = append(v.events, VMEvent{Kind: EventCrash, At: now(), Detail: v.crashDetail()})
	}

	return v.events
}

// RunOnce executes a single instruction and reports whether the
// program has finished (normally or via crash). Unlike Run it does not
// touch the event log - callers driving single-step execution own
// their own Start/Stop bookkeeping around a sequence of RunOnce calls.
func (v *VM) RunOnce() (done bool) {
	if v.bootErr != nil {
		v.errcode = v.bootErr
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			v.errcode = ErrSegmentationFault
			done = true
		}
	}()
	return v.step()
}

func (v *VM) crashDetail() string {
	detail := v.errcode.Error()
	if v.dbg != nil {
		// step has already moved pc past the faulting instruction.
		at := v.pc - 4
		if src, ok := v.dbg.bySourceOffset[at]; ok {
			detail = fmt.Sprintf("%s at %q (offset %d)", detail, src, at)
		}
	}
	return detail
}

func now() time.Time { return time.Now() }

func uint32FromBytesLE(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func int32FromBytesLE(b []byte) int32   { return int32(uint32FromBytesLE(b)) }

func putUint32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func putInt32LE(b []byte, v int32)   { putUint32LE(b, uint32(v)) }

func float64FromBytesLE(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func putFloat64LE(b []byte, v float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}
