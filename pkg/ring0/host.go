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
	"golang.org/x/sys/unix"
)

type hostFeatures struct{}

// HostFeatures returns the Features of the machine running this process.
// The granule is reported as supported, since every 64-bit Arm
// implementation a host kernel runs on has it.
func HostFeatures() Features {
	return hostFeatures{}
}

// PageSize implements Features.PageSize.
func (hostFeatures) PageSize() uint64 {
	return uint64(unix.Getpagesize())
}

// Supports4KGranule implements Features.Supports4KGranule.
func (hostFeatures) Supports4KGranule() bool {
	return true
}
