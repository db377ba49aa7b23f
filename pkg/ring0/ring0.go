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

// Package ring0 is the EL1 system register interface of the boot CPU.
//
// Everything that touches translation state goes through CPU, so that the
// bring-up sequence can run against real hardware or against a Recorder.
package ring0

import (
	"raspiboot.dev/raspiboot/pkg/hostarch"
)

// Features reports the translation capabilities of a CPU.
type Features interface {
	// PageSize returns the native page size of the platform.
	PageSize() uint64

	// Supports4KGranule returns true if stage 1 translation can use a 4KiB
	// granule.
	Supports4KGranule() bool
}

// CPU is the boot CPU.
//
// Callers run single threaded with interrupts masked. None of the methods
// block.
type CPU interface {
	Features

	// WriteMAIR writes MAIR_EL1.
	WriteMAIR(v uint64)

	// WriteTTBR0 writes TTBR0_EL1.
	WriteTTBR0(v uint64)

	// WriteTTBR1 writes TTBR1_EL1.
	WriteTTBR1(v uint64)

	// WriteTCR writes TCR_EL1.
	WriteTCR(v uint64)

	// WriteSCTLR writes SCTLR_EL1.
	WriteSCTLR(v uint64)

	// ReadSCTLR reads SCTLR_EL1.
	ReadSCTLR() uint64

	// ISB is an instruction synchronization barrier.
	ISB()

	// Jump branches to entry. It does not return on hardware.
	Jump(entry hostarch.Addr)

	// Halt stops the CPU after a fatal error. It does not return.
	Halt(err error)
}
