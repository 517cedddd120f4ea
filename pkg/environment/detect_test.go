// Copyright 2024 Ewout Prangsma
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
//
// Author Ewout Prangsma
//

package environment

import "testing"

func TestBridgeTypeFor(t *testing.T) {
	tests := []struct {
		machine string
		hasGPIO bool
		want    string
	}{
		{"armv7l", true, BridgeTypeLinux},
		{"aarch64", true, BridgeTypeLinux},
		{"aarch64", false, BridgeTypeVirtual},
		{"x86_64", true, BridgeTypeVirtual},
		{"", false, BridgeTypeVirtual},
	}
	for _, test := range tests {
		if got := bridgeTypeFor(test.machine, test.hasGPIO); got != test.want {
			t.Errorf("bridgeTypeFor(%q, %v) = %s, want %s", test.machine, test.hasGPIO, got, test.want)
		}
	}
}
