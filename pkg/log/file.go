// Copyright 2026 The gVisor Authors.
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
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// OpenFile opens the log file at path with flags, creating its directory.
// %TIMESTAMP% in path is replaced with start and %COMMAND% with command, so
// runs of different commands do not share a file.
func OpenFile(path string, flags int, command string, start time.Time) (*os.File, error) {
	path = strings.NewReplacer(
		"%TIMESTAMP%", start.Format("20060102-150405.000000"),
		"%COMMAND%", command,
	).Replace(path)
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return nil, fmt.Errorf("creating log directory for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, flags, 0664)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}
