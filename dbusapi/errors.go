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
	"github.com/godbus/dbus/v5"

	"github.com/blockdaemon/blockd/apierr"
)

// busErr maps the apierr taxonomy onto wire-visible D-Bus error names, one
// per Code, under the daemon's own error namespace.
func busErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	code := apierr.CodeOf(err)
	return dbus.NewError("org.blockd.Error."+string(code), []interface{}{err.Error()})
}
