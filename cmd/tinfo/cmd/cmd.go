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

// Package cmd holds implementations of the tinfo commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
	"gvisor.dev/threadinfo/cmd/tinfo/config"
	"gvisor.dev/threadinfo/pkg/log"
)

// Fatalf logs to stderr and the debug log, then exits.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	log.Warningf("FATAL ERROR: "+format, args...)
	os.Exit(128)
}

// confFromArgs returns the configuration passed to Execute.
func confFromArgs(args []any) *config.Config {
	if len(args) == 0 {
		Fatalf("internal error: no configuration passed to command")
	}
	return args[0].(*config.Config)
}

// encoders maps structured output formats to encoders.
var encoders = map[string]func(io.Writer, any) error{
	"json": func(w io.Writer, v any) error {
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(v)
	},
	"yaml": func(w io.Writer, v any) error {
		e := yaml.NewEncoder(w)
		e.SetIndent(2)
		if err := e.Encode(v); err != nil {
			return err
		}
		return e.Close()
	},
}
