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

package ops

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFstabIndexReloadAndContains(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/fstab", []byte(
				"# comment\n\n/dev/sda1 / ext4 defaults 0 1\nUUID=abc /mnt udf defaults 0 2\n",
	), 0644))

	idx := NewFstabIndex(fs, "/etc/fstab")
	require.NoError(t, idx.Reload())

	assert.True(t, idx.Contains("/dev/sda1"))
	assert.True(t, idx.Contains("UUID=abc"))
	assert.False(t, idx.Contains("/dev/sdb1"))
}

func TestFstabIndexAbsentFileIsEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	idx := NewFstabIndex(fs, "/etc/fstab")
	require.NoError(t, idx.Reload())
	assert.False(t, idx.Contains("/dev/sda1"))
}
