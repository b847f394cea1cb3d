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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdaemon/blockd/apierr"
)

func TestBuildMountOptionsVfatDefaults(t *testing.T) {
	opts, err := BuildMountOptions("vfat", nil, 1000, 1000)
	require.NoError(t, err)
	assert.Contains(t, opts, "shortname=mixed")
	assert.Contains(t, opts, "uid=1000")
	assert.Contains(t, opts, "gid=1000")
	assert.Contains(t, opts, "nodev,nosuid")
}

func TestBuildMountOptionsRejectsComma(t *testing.T) {
	_, err := BuildMountOptions("vfat", []string{"iocharset=utf8,extra"}, 0, 0)
	require.Error(t, err)
	assert.Equal(t, apierr.InvalidOption, apierr.CodeOf(err))
}

func TestBuildMountOptionsRejectsDisallowedOption(t *testing.T) {
	_, err := BuildMountOptions("vfat", []string{"suid"}, 0, 0)
	require.Error(t, err)
	assert.Equal(t, apierr.InvalidOption, apierr.CodeOf(err))
}

func TestBuildMountOptionsAllowsAnyFamilyOption(t *testing.T) {
	opts, err := BuildMountOptions("ext4", []string{"noatime"}, 0, 0)
	require.NoError(t, err)
	assert.Contains(t, opts, "noatime")
	assert.NotContains(t, opts, "uid=")
}

func TestExtractLuksEncryptStripsOption(t *testing.T) {
	secret, rest, found := ExtractLuksEncrypt([]string{"a", "luks_encrypt=hunter2", "b"})
	assert.True(t, found)
	assert.Equal(t, "hunter2", secret)
	assert.Equal(t, []string{"a", "b"}, rest)
}

func TestExtractLuksEncryptAbsent(t *testing.T) {
	_, rest, found := ExtractLuksEncrypt([]string{"a", "b"})
	assert.False(t, found)
	assert.Equal(t, []string{"a", "b"}, rest)
}

func TestMediaDirNameRemapsSlash(t *testing.T) {
	assert.Equal(t, "a_b", MediaDirName("a/b"))
}
