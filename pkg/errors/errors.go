// Copyright 2021 The gVisor Authors.
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

// Package errors holds the standardized error definition for the boot core.
package errors

import "fmt"

// Kind classifies an Error.
type Kind int

const (
	// InvalidArgument is a malformed request, e.g. a zero page count or an
	// inverted range.
	InvalidArgument Kind = iota

	// AllocationExhausted means a frame allocator cannot satisfy a request.
	AllocationExhausted

	// Misaligned means an address is not aligned to the requested size.
	Misaligned

	// AlreadyMapped means a leaf descriptor would be overwritten. Fatal.
	AlreadyMapped

	// GranuleUnsupported means the CPU cannot translate with a 4KiB
	// granule. Fatal.
	GranuleUnsupported

	// PageSizeMismatch means the platform page size is not 4KiB. Fatal.
	PageSizeMismatch

	// TranslationNotFound means a virtual address has no mapping.
	TranslationNotFound
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case AllocationExhausted:
		return "AllocationExhausted"
	case Misaligned:
		return "Misaligned"
	case AlreadyMapped:
		return "AlreadyMapped"
	case GranuleUnsupported:
		return "GranuleUnsupported"
	case PageSizeMismatch:
		return "PageSizeMismatch"
	case TranslationNotFound:
		return "TranslationNotFound"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Fatal returns true if errors of this kind must halt boot.
func (k Kind) Fatal() bool {
	switch k {
	case AlreadyMapped, GranuleUnsupported, PageSizeMismatch:
		return true
	default:
		return false
	}
}

// Error is a classified error with a descriptive message.
type Error struct {
	kind    Kind
	message string
}

// New creates a new *Error.
func New(kind Kind, message string) *Error {
	return &Error{
		kind:    kind,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Kind returns the classification of e.
func (e *Error) Kind() Kind { return e.kind }

// Is matches any *Error of the same Kind, so that a specific sentinel such as
// "frame count must not be zero" also satisfies errors.Is against the
// generic InvalidArgument sentinel of another package.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.kind == e.kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
	}
	return 0, false
}
