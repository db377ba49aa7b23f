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

package sync

// SingleThreadedMutex is a Locker whose Lock and Unlock do nothing.
//
// It guards state that only the boot CPU touches, with interrupts masked and
// before secondary cores are released. Exclusive loads and stores are not
// usable until the MMU and caches are on.
type SingleThreadedMutex struct{}

// Lock implements Locker.Lock.
func (*SingleThreadedMutex) Lock() {}

// Unlock implements Locker.Unlock.
func (*SingleThreadedMutex) Unlock() {}

var _ Locker = (*SingleThreadedMutex)(nil)
