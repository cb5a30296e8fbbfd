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
	"time"

	"golang.org/x/time/rate"
)

// RateLimited is a Logger that passes at most one message per interval to
// the Logger it wraps, whatever the level. IsLogging is not limited.
type RateLimited struct {
	Logger
	limit *rate.Limiter
}

// NewRateLimited returns a RateLimited wrapping logger.
func NewRateLimited(logger Logger, every time.Duration) *RateLimited {
	return &RateLimited{
		Logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}

// Debugf implements Logger.Debugf.
func (r *RateLimited) Debugf(format string, v ...any) {
	if r.limit.Allow() {
		r.Logger.Debugf(format, v...)
	}
}

// Infof implements Logger.Infof.
func (r *RateLimited) Infof(format string, v ...any) {
	if r.limit.Allow() {
		r.Logger.Infof(format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (r *RateLimited) Warningf(format string, v ...any) {
	if r.limit.Allow() {
		r.Logger.Warningf(format, v...)
	}
}
