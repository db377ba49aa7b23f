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
	"raspiboot.dev/raspiboot/pkg/hostarch"
)

// SCTLR_EL1 bits.
const (
	_SCTLR_M = 1 << 0
	_SCTLR_C = 1 << 2
	_SCTLR_I = 1 << 12

	// SCTLREnable are the bits that turn on translation and caching.
	SCTLREnable = _SCTLR_M | _SCTLR_C | _SCTLR_I
)

// TCR_EL1 fields.
const (
	_TCR_T0SZ_SHIFT = 0
	_TCR_T1SZ_SHIFT = 16

	_TCR_IRGN0_WBWA = 1 << 8
	_TCR_ORGN0_WBWA = 1 << 10
	_TCR_SH0_INNER  = 3 << 12
	_TCR_TG0_4K     = 0 << 14

	_TCR_IRGN1_WBWA = 1 << 24
	_TCR_ORGN1_WBWA = 1 << 26
	_TCR_SH1_INNER  = 3 << 28
	_TCR_TG1_4K     = 2 << 30

	_TCR_IPS_SHIFT  = 32
	_TCR_IPS_MASK   = 7 << _TCR_IPS_SHIFT
	_TCR_IPS_48BITS = 5 << _TCR_IPS_SHIFT

	_TCR_TXSZ_VA48 = (64-hostarch.VirtualAddressBits)<<_TCR_T0SZ_SHIFT | (64-hostarch.VirtualAddressBits)<<_TCR_T1SZ_SHIFT

	_TCR_CACHE_FLAGS = _TCR_IRGN0_WBWA | _TCR_ORGN0_WBWA | _TCR_IRGN1_WBWA | _TCR_ORGN1_WBWA
	_TCR_SHARED      = _TCR_SH0_INNER | _TCR_SH1_INNER
	_TCR_TG_FLAGS    = _TCR_TG0_4K | _TCR_TG1_4K
)

// TTBR_EL1 fields.
const (
	_TTBR_BADDR_MASK = 0x0000fffffffffffe
)

// ID_AA64MMFR0_EL1.TGran4 values.
const (
	_MMFR0_TGRAN4_SHIFT = 28
	_MMFR0_TGRAN4_NONE  = 0xf
)

// TCRValue returns TCR_EL1 for 48-bit input addresses in both halves, a 4KiB
// granule for both halves, 48-bit physical addresses, and inner shareable
// write-back table walks.
func TCRValue() uint64 {
	return _TCR_TXSZ_VA48 | _TCR_CACHE_FLAGS | _TCR_SHARED | _TCR_TG_FLAGS | _TCR_IPS_48BITS
}

// TCRFields decodes the fields of a TCR_EL1 value that describe the
// translation regime.
func TCRFields(tcr uint64) (t0sz, t1sz uint64, granule4K bool, ips uint64) {
	t0sz = (tcr >> _TCR_T0SZ_SHIFT) & 0x3f
	t1sz = (tcr >> _TCR_T1SZ_SHIFT) & 0x3f
	granule4K = tcr&(3<<14) == _TCR_TG0_4K && tcr&(3<<30) == _TCR_TG1_4K
	ips = (tcr & _TCR_IPS_MASK) >> _TCR_IPS_SHIFT
	return
}

// TTBRValue returns a TTBR_EL1 value for the table rooted at root, with
// ASID zero.
func TTBRValue(root hostarch.PhysAddr) uint64 {
	return uint64(root) & _TTBR_BADDR_MASK
}

// TranslationEnabled returns true if the SCTLR_EL1 value has the M bit set.
func TranslationEnabled(sctlr uint64) bool {
	return sctlr&_SCTLR_M != 0
}

// TGran4Supported returns true if an ID_AA64MMFR0_EL1 value reports 4KiB
// granule support.
func TGran4Supported(mmfr0 uint64) bool {
	return (mmfr0>>_MMFR0_TGRAN4_SHIFT)&0xf != _MMFR0_TGRAN4_NONE
}
