// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package helpers

import (
	"os"
	"strconv"
	"strings"
)

func GetBoolEnv(envVar string, defaultValue bool) bool {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(envVar)))

	switch env {
	case "true", "1", "yes", "on", "enable", "enabled":
		return true
	case "false", "0", "no", "off", "disable", "disabled":
		return false
	case "":
		return defaultValue
	default:
		// Any other non-empty value counts as set.
		return true
	}
}

// GetIntEnv returns the integer value of envVar, or defaultValue when the
// variable is unset, unparseable, or rejected by valid (which may be nil).
func GetIntEnv(envVar string, defaultValue int, valid func(int) bool) int {
	env := strings.TrimSpace(os.Getenv(envVar))
	if env == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(env)
	if err != nil {
		return defaultValue
	}
	if valid != nil && !valid(v) {
		return defaultValue
	}
	return v
}
