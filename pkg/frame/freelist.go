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

	"raspiboot.dev/raspiboot/pkg/bitmap"
	"raspiboot.dev/raspiboot/pkg/errors"
	"raspiboot.dev/raspiboot/pkg/hostarch"
	"raspiboot.dev/raspiboot/pkg/sync"
)

// noFrame terminates the free list. It is not page aligned, so it can never
// collide with a frame address.
const noFrame = ^hostarch.PhysAddr(0)

// Freelist is a reclaiming allocator over [start, end).
//
// Free frames form a singly linked list whose links are stored in the first
// word of each free frame. The list is last in, first out.
type Freelist struct {
	mu sync.SingleThreadedMutex

	start hostarch.PhysAddr
	end   hostarch.PhysAddr

	// tr reaches frame contents to read and write links.
	tr hostarch.Translation

	// head is the most recently freed frame, or noFrame.
	head hostarch.PhysAddr

	// length is the number of frames on the list.
	length uint64

	// frees counts DeallocatePages calls.
	frees uint64

	// onList has bit i set iff frame start+i*PageSize is on the list.
	onList bitmap.Bitmap
}

var _ Allocator = (*Freelist)(nil)

// NewFreelist returns an empty Freelist for frames in [start, end). Frames
// become available through AddRange or DeallocatePages.
func NewFreelist(start, end hostarch.PhysAddr, tr hostarch.Translation) (*Freelist, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return &Freelist{
		start:  start,
		end:    end,
		tr:     tr,
		head:   noFrame,
		onList: bitmap.New(uint64(end-start) / hostarch.PageSize),
	}, nil
}

// AddRange frees every frame in [start, end).
func (f *Freelist) AddRange(start, end hostarch.PhysAddr) error {
	if err := checkRange(start, end); err != nil {
		return err
	}
	if start == end {
		return nil
	}
	f.DeallocatePages(start, uint64(end-start)/hostarch.PageSize)
	return nil
}

// SetTranslation replaces the translation used to reach frame contents.
func (f *Freelist) SetTranslation(tr hostarch.Translation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tr = tr
}

// AllocatePages implements Allocator.AllocatePages. Only single frames are
// available, since the list keeps no adjacency information.
func (f *Freelist) AllocatePages(n uint64) (hostarch.PhysAddr, error) {
	switch {
	case n == 0:
		return 0, ErrZeroPages
	case n > 1:
		return 0, fmt.Errorf("%d pages: %w", n, ErrNotContiguous)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.head == noFrame {
		return 0, ErrExhausted
	}
	p := f.head
	f.head = readLink(p, f.tr)
	f.onList.Remove(f.index(p))
	f.length--
	return p, nil
}

// AllocateZeroedPages implements Allocator.AllocateZeroedPages.
func (f *Freelist) AllocateZeroedPages(n uint64, tr hostarch.Translation) (hostarch.PhysAddr, error) {
	p, err := f.AllocatePages(n)
	if err != nil {
		return 0, err
	}
	zeroPages(p, n, tr)
	return p, nil
}

// DeallocatePages implements Allocator.DeallocatePages. Frames are pushed in
// ascending order, so the highest frame is the next one allocated.
//
// Freeing a frame outside the managed range, or one already free, is a fatal
// error.
func (f *Freelist) DeallocatePages(base hostarch.PhysAddr, n uint64) {
	if n == 0 || !base.IsPageAligned() {
		panic(errors.New(errors.InvalidArgument, fmt.Sprintf("deallocate %d pages at %v: bad request", n, base)))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	end, ok := base.AddLength(n * hostarch.PageSize)
	if !ok || base < f.start || end > f.end {
		panic(errors.New(errors.InvalidArgument, fmt.Sprintf("deallocate [%v, +%d pages) outside [%v, %v)", base, n, f.start, f.end)))
	}
	for i := uint64(0); i < n; i++ {
		p := base + hostarch.PhysAddr(i*hostarch.PageSize)
		if !f.onList.Add(f.index(p)) {
			panic(errors.New(errors.InvalidArgument, fmt.Sprintf("double free of frame %v", p)))
		}
		writeLink(p, f.head, f.tr)
		f.head = p
		f.length++
	}
	f.frees++
}

// index returns the bitmap index of frame p.
func (f *Freelist) index(p hostarch.PhysAddr) uint64 {
	return uint64(p-f.start) / hostarch.PageSize
}

// Len returns the number of free frames.
func (f *Freelist) Len() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.length
}

// FreeCount returns the number of DeallocatePages calls so far.
func (f *Freelist) FreeCount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frees
}

// Range returns the whole range managed by f.
func (f *Freelist) Range() hostarch.PhysRange {
	return hostarch.PhysRange{Start: f.start, End: f.end}
}
