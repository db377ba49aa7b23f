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

package frame

import (
	"fmt"

	"raspiboot.dev/raspiboot/pkg/errors"
	"raspiboot.dev/raspiboot/pkg/hostarch"
	"raspiboot.dev/raspiboot/pkg/sync"
)

// errBumpFree is the panic value of Bump.DeallocatePages.
var errBumpFree = errors.New(errors.InvalidArgument, "bump allocator cannot free frames")

// Bump is a monotonic allocator over [start, end). Frames are never reused.
type Bump struct {
	mu sync.SingleThreadedMutex

	start hostarch.PhysAddr
	end   hostarch.PhysAddr

	// cursor is the next frame to hand out. It only grows, and never
	// exceeds end.
	cursor hostarch.PhysAddr
}

var _ Allocator = (*Bump)(nil)

// NewBump returns a Bump allocator over [start, end).
func NewBump(start, end hostarch.PhysAddr) (*Bump, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return &Bump{
		start:  start,
		end:    end,
		cursor: start,
	}, nil
}

// AllocatePages implements Allocator.AllocatePages.
func (b *Bump) AllocatePages(n uint64) (hostarch.PhysAddr, error) {
	if n == 0 {
		return 0, ErrZeroPages
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > uint64(b.end-b.cursor)/hostarch.PageSize {
		return 0, fmt.Errorf("%d pages at %v, limit %v: %w", n, b.cursor, b.end, ErrExhausted)
	}
	p := b.cursor
	b.cursor += hostarch.PhysAddr(n * hostarch.PageSize)
	return p, nil
}

// AllocateZeroedPages implements Allocator.AllocateZeroedPages.
func (b *Bump) AllocateZeroedPages(n uint64, tr hostarch.Translation) (hostarch.PhysAddr, error) {
	p, err := b.AllocatePages(n)
	if err != nil {
		return 0, err
	}
	zeroPages(p, n, tr)
	return p, nil
}

// DeallocatePages implements Allocator.DeallocatePages. A bump allocator
// cannot take frames back, so any call is a fatal error.
func (b *Bump) DeallocatePages(base hostarch.PhysAddr, n uint64) {
	panic(fmt.Errorf("deallocate %d pages at %v: %w", n, base, errBumpFree))
}

// AllocateBytes allocates whole frames covering size bytes. Alignments
// greater than a page cannot be honored.
func (b *Bump) AllocateBytes(size, align uint64) (hostarch.PhysAddr, error) {
	if align > hostarch.PageSize {
		return 0, fmt.Errorf("alignment %#x: %w", align, ErrAlignment)
	}
	return b.AllocatePages(pagesFor(size))
}

// AllocatedRange returns [start, cursor), the frames handed out so far.
func (b *Bump) AllocatedRange() hostarch.PhysRange {
	b.mu.Lock()
	defer b.mu.Unlock()
	return hostarch.PhysRange{Start: b.start, End: b.cursor}
}

// Range returns the whole range managed by b.
func (b *Bump) Range() hostarch.PhysRange {
	return hostarch.PhysRange{Start: b.start, End: b.end}
}

// Remaining returns the number of frames left.
func (b *Bump) Remaining() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(b.end-b.cursor) / hostarch.PageSize
}
