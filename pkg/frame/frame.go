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

// Package frame provides physical frame allocators.
//
// Allocators never dereference physical addresses on their own. Any access
// to frame contents goes through a hostarch.Translation supplied by the
// caller, since the way physical memory is reached changes when translation
// is enabled.
package frame

import (
	"fmt"

	"raspiboot.dev/raspiboot/pkg/errors"
	"raspiboot.dev/raspiboot/pkg/hostarch"
)

var (
	// ErrZeroPages is returned for a request of zero frames.
	ErrZeroPages = errors.New(errors.InvalidArgument, "page count must not be zero")

	// ErrInvalidRange is returned when a range ends before it starts.
	ErrInvalidRange = errors.New(errors.InvalidArgument, "frame range ends before it starts")

	// ErrAlignment is returned for byte allocations aligned beyond a page.
	ErrAlignment = errors.New(errors.InvalidArgument, "alignment exceeds the page size")

	// ErrMisaligned is returned for frame ranges that are not page aligned.
	ErrMisaligned = errors.New(errors.Misaligned, "frame range is not page aligned")

	// ErrExhausted is returned when no frames are left.
	ErrExhausted = errors.New(errors.AllocationExhausted, "out of physical frames")

	// ErrNotContiguous is returned when an allocator cannot provide more
	// than one contiguous frame.
	ErrNotContiguous = errors.New(errors.AllocationExhausted, "allocator cannot provide contiguous frames")
)

// Allocator hands out physical frames.
type Allocator interface {
	// AllocatePages returns the base of n contiguous frames.
	AllocatePages(n uint64) (hostarch.PhysAddr, error)

	// AllocateZeroedPages is AllocatePages, additionally zeroing the frames
	// by writing through tr.
	AllocateZeroedPages(n uint64, tr hostarch.Translation) (hostarch.PhysAddr, error)

	// DeallocatePages returns n frames starting at base. Implementations
	// that cannot reclaim frames panic.
	DeallocatePages(base hostarch.PhysAddr, n uint64)
}

// checkRange validates a frame range given to a constructor.
func checkRange(start, end hostarch.PhysAddr) error {
	if !start.IsPageAligned() || !end.IsPageAligned() {
		return fmt.Errorf("[%v, %v): %w", start, end, ErrMisaligned)
	}
	if end < start {
		return fmt.Errorf("[%v, %v): %w", start, end, ErrInvalidRange)
	}
	return nil
}

// pagesFor returns the number of frames covering size bytes.
func pagesFor(size uint64) uint64 {
	return (size + hostarch.PageSize - 1) / hostarch.PageSize
}
