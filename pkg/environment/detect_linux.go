//    Copyright 2018 Ewout Prangsma
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package environment

import (
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// gpioDevice is present on hosts with a GPIO character device.
const gpioDevice = "/dev/gpiochip0"

// AutoDetectBridgeType detects the default bridge type based on the environment.
func AutoDetectBridgeType(log zerolog.Logger) string {
	var name unix.Utsname
	if err := unix.Uname(&name); err != nil {
		log.Warn().Err(err).Msg("Uname failed, using virtual bridge")
		return BridgeTypeVirtual
	}
	machine := unix.ByteSliceToString(name.Machine[:])
	_, err := os.Stat(gpioDevice)
	bridgeType := bridgeTypeFor(machine, err == nil)
	log.Debug().
		Str("machine", machine).
		Str("release", unix.ByteSliceToString(name.Release[:])).
		Str("bridge", bridgeType).
		Msg("Detected bridge type")
	return bridgeType
}
