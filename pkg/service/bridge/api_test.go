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

package bridge

import "testing"

func TestPinIDNumber(t *testing.T) {
	tests := []struct {
		pin     PinID
		want    int
		wantErr bool
	}{
		{"GPIO17", 17, false},
		{"17", 17, false},
		{"PA12", 12, false},
		{"D5", 5, false},
		{"GPIO", 0, true},
		{"", 0, true},
		{"SCK", 0, true},
	}
	for _, tc := range tests {
		got, err := tc.pin.Number()
		if tc.wantErr {
			if !IsInvalidPin(err) {
				t.Errorf("Number(%q): expected InvalidPinError, got %v", tc.pin, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Number(%q): unexpected error %v", tc.pin, err)
		} else if got != tc.want {
			t.Errorf("Number(%q) = %d, want %d", tc.pin, got, tc.want)
		}
	}
}
