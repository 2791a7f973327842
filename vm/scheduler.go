package vm

import "sync"

// Scheduler spawns each VM on its own goroutine and collects the event
// log each one returns. It owns no state shared between VMs beyond the
// bookkeeping needed to fan out and join - VMs themselves never touch
// each other's memory.
type Scheduler struct {
	wg sync.WaitGroup
}

// Spawn starts vm.Run on its own goroutine and returns a channel that
// receives exactly one value (the event log) once it finishes. This is
// the Go-idiomatic stand-in for a join handle: callers that want to
// wait can simply receive from it, and callers that want to fan out
// over many VMs can select across several of these at once.
func (s *Scheduler) Spawn(v *VM) <-chan []VMEvent {
	result := make(chan []VMEvent, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result <- v.Run()
	}()
	return result
}

// RunAll spawns every VM given and blocks until all of them finish,
// returning their event logs in the same order the VMs were given.
func (s *Scheduler) RunAll(vms []*VM) [][]VMEvent {
	channels := make([]<-chan []VMEvent, len(vms))
	for i, v := range vms {
		channels[i] = s.Spawn(v)
	}

	logs := make([][]VMEvent, len(vms))
	for i, ch := range channels {
		logs[i] = <-ch
	}
	return logs
}

// Wait blocks until every VM spawned through this scheduler has
// returned from Run, without collecting results - useful when callers
// already consumed each Spawn channel themselves.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
