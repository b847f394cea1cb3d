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

	"github.com/blockdaemon/blockd/apierr"
)

func TestBusErrNilIsNil(t *testing.T) {
	assert.Nil(t, busErr(nil))
}

func TestBusErrMapsCodeToErrorName(t *testing.T) {
	err := apierr.New(apierr.NotSupported, "nope")
	dbusErr := busErr(err)
	if assert.NotNil(t, dbusErr) {
		assert.Equal(t, "org.blockd.Error.NotSupported", dbusErr.Name)
	}
}
