//
// Copyright 2026 Blockd authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package dbusapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDevicePathShape(t *testing.T) {
	assert.Equal(t, "/org/blockd/Daemon1/devices/sda", string(devicePath("sda")))
	assert.Equal(t, "/org/blockd/Daemon1/adapters/host0", string(adapterPath("host0")))
	assert.Equal(t, "/org/blockd/Daemon1/ports/phy0", string(portPath("phy0")))
	assert.Equal(t, "/org/blockd/Daemon1/expanders/expander1", string(expanderPath("expander1")))
}

func TestObjectIDFromDevicePathRoundTrips(t *testing.T) {
	assert.Equal(t, "sda1", objectIDFromDevicePath(devicePath("sda1")))
	assert.Equal(t, "host0", objectIDFromDevicePath(adapterPath("host0")))
}
