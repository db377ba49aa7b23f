// Copyright 2024 The raspiboot Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ring0

import (
	"fmt"

	"raspiboot.dev/raspiboot/pkg/hostarch"
)

// EventKind identifies a recorded CPU operation.
type EventKind int

// Recorded operations.
const (
	EventMAIR EventKind = iota
	EventTTBR0
	EventTTBR1
	EventTCR
	EventSCTLR
	EventISB
	EventJump
	EventHalt
)

var eventNames = [...]string{
	EventMAIR:  "MAIR_EL1",
	EventTTBR0: "TTBR0_EL1",
	EventTTBR1: "TTBR1_EL1",
	EventTCR:   "TCR_EL1",
	EventSCTLR: "SCTLR_EL1",
	EventISB:   "ISB",
	EventJump:  "BR",
	EventHalt:  "HALT",
}

// String implements fmt.Stringer.String.
func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one recorded CPU operation.
type Event struct {
	Kind  EventKind
	Value uint64
}

// String implements fmt.Stringer.String.
func (e Event) String() string {
	switch e.Kind {
	case EventISB, EventHalt:
		return e.Kind.String()
	case EventJump:
		return fmt.Sprintf("%v %#016x", e.Kind, e.Value)
	default:
		return fmt.Sprintf("%-9v <- %#016x", e.Kind, e.Value)
	}
}

// HaltError is the panic value of Recorder.Halt.
type HaltError struct {
	Err error
}

// Error implements error.Error.
func (h *HaltError) Error() string {
	return fmt.Sprintf("cpu halted: %v", h.Err)
}

// Unwrap returns the error that halted the CPU.
func (h *HaltError) Unwrap() error {
	return h.Err
}

// Recorder is a CPU that records every operation instead of performing it.
//
// The zero value is a CPU with 4KiB pages and 4KiB granule support.
type Recorder struct {
	// NativePageSize is the reported page size. Zero means 4KiB.
	NativePageSize uint64

	// MMFR0 is the reported ID_AA64MMFR0_EL1.
	MMFR0 uint64

	// OnJump, if set, is called by Jump with the entry address.
	OnJump func(entry hostarch.Addr)

	events []Event
	sctlr  uint64
}

var _ CPU = (*Recorder)(nil)

// PageSize implements Features.PageSize.
func (r *Recorder) PageSize() uint64 {
	if r.NativePageSize == 0 {
		return hostarch.PageSize
	}
	return r.NativePageSize
}

// Supports4KGranule implements Features.Supports4KGranule.
func (r *Recorder) Supports4KGranule() bool {
	return TGran4Supported(r.MMFR0)
}

func (r *Recorder) record(kind EventKind, v uint64) {
	r.events = append(r.events, Event{Kind: kind, Value: v})
}

// WriteMAIR implements CPU.WriteMAIR.
func (r *Recorder) WriteMAIR(v uint64) { r.record(EventMAIR, v) }

// WriteTTBR0 implements CPU.WriteTTBR0.
func (r *Recorder) WriteTTBR0(v uint64) { r.record(EventTTBR0, v) }

// WriteTTBR1 implements CPU.WriteTTBR1.
func (r *Recorder) WriteTTBR1(v uint64) { r.record(EventTTBR1, v) }

// WriteTCR implements CPU.WriteTCR.
func (r *Recorder) WriteTCR(v uint64) { r.record(EventTCR, v) }

// WriteSCTLR implements CPU.WriteSCTLR.
func (r *Recorder) WriteSCTLR(v uint64) {
	r.sctlr = v
	r.record(EventSCTLR, v)
}

// ReadSCTLR implements CPU.ReadSCTLR.
func (r *Recorder) ReadSCTLR() uint64 { return r.sctlr }

// ISB implements CPU.ISB.
func (r *Recorder) ISB() { r.record(EventISB, 0) }

// Jump implements CPU.Jump. Unlike hardware, it returns once OnJump does.
func (r *Recorder) Jump(entry hostarch.Addr) {
	r.record(EventJump, uint64(entry))
	if r.OnJump != nil {
		r.OnJump(entry)
	}
}

// Halt implements CPU.Halt by panicking with a *HaltError.
func (r *Recorder) Halt(err error) {
	r.record(EventHalt, 0)
	panic(&HaltError{Err: err})
}

// Events returns a copy of the recorded operations.
func (r *Recorder) Events() []Event {
	return append([]Event(nil), r.events...)
}

// Last returns the value most recently written to the register of kind.
func (r *Recorder) Last(kind EventKind) (uint64, bool) {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i].Value, true
		}
	}
	return 0, false
}

// CheckOrder verifies that the recorded operations enable translation
// correctly: MAIR is written before both table base registers, both are
// written before TCR, a barrier separates TCR from the SCTLR write that sets
// M, and a barrier follows that write. No translation register may be
// written once translation is on.
func (r *Recorder) CheckOrder() error {
	first := func(match func(Event) bool) int {
		for i, e := range r.events {
			if match(e) {
				return i
			}
		}
		return -1
	}
	is := func(kind EventKind) func(Event) bool {
		return func(e Event) bool { return e.Kind == kind }
	}

	mair := first(is(EventMAIR))
	ttbr0 := first(is(EventTTBR0))
	ttbr1 := first(is(EventTTBR1))
	tcr := first(is(EventTCR))
	enable := first(func(e Event) bool {
		return e.Kind == EventSCTLR && TranslationEnabled(e.Value)
	})
	for _, c := range []struct {
		idx  int
		kind EventKind
	}{
		{mair, EventMAIR},
		{ttbr0, EventTTBR0},
		{ttbr1, EventTTBR1},
		{tcr, EventTCR},
		{enable, EventSCTLR},
	} {
		if c.idx < 0 {
			return fmt.Errorf("%v was never written", c.kind)
		}
	}
	if mair > ttbr0 || mair > ttbr1 {
		return fmt.Errorf("MAIR_EL1 written at %d, after a table base register (%d, %d)", mair, ttbr0, ttbr1)
	}
	if ttbr0 > tcr || ttbr1 > tcr {
		return fmt.Errorf("TCR_EL1 written at %d, before a table base register (%d, %d)", tcr, ttbr0, ttbr1)
	}
	if tcr > enable {
		return fmt.Errorf("translation enabled at %d, before TCR_EL1 at %d", enable, tcr)
	}
	barrier := false
	for _, e := range r.events[tcr+1 : enable] {
		if e.Kind == EventISB {
			barrier = true
		}
	}
	if !barrier {
		return fmt.Errorf("no ISB between TCR_EL1 at %d and SCTLR_EL1 at %d", tcr, enable)
	}
	if enable+1 >= len(r.events) || r.events[enable+1].Kind != EventISB {
		return fmt.Errorf("no ISB after enabling translation at %d", enable)
	}
	for i, e := range r.events[enable+1:] {
		switch e.Kind {
		case EventMAIR, EventTTBR0, EventTTBR1, EventTCR:
			return fmt.Errorf("%v written at %d with translation enabled", e.Kind, enable+1+i)
		}
	}
	return nil
}
