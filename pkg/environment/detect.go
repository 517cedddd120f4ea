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

import (
	"strings"
)

const (
	// BridgeTypeLinux selects the Linux hardware bridge.
	BridgeTypeLinux = "linux"
	// BridgeTypeVirtual selects the in-memory bridge.
	BridgeTypeVirtual = "virtual"
)

// bridgeTypeFor returns the bridge type for a host with given machine
// name. Only ARM boards with GPIO hardware get the Linux bridge.
func bridgeTypeFor(machine string, hasGPIO bool) string {
	machine = strings.ToLower(strings.TrimSpace(machine))
	isARM := strings.HasPrefix(machine, "arm") || strings.HasPrefix(machine, "aarch64")
	if isARM && hasGPIO {
		return BridgeTypeLinux
	}
	return BridgeTypeVirtual
}
