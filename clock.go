// Copyright 2015 Google Inc. All Rights Reserved.
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

package kernel

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// clockLike is the subset of timeutil.Clock this package needs for timed
// sleeps: Now, for stamping and computing deadlines, plus AfterFunc, which
// timeutil.Clock itself does not define. Production code gets AfterFunc for
// free from the real wall clock; a test that wants deterministic timeouts
// provides its own type satisfying both and passes it in Config.Clock
// directly instead of a plain timeutil.Clock.
type clockLike interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) *time.Timer
}

// wallClock adapts timeutil.RealClock to clockLike by delegating AfterFunc to
// the real time package. Every other Clock implementation in this codebase
// (in particular any fake used in tests) is expected to implement clockLike
// itself; wallClock only exists to cover the real-clock default from
// DefaultConfig, which is a bare timeutil.Clock with no timer of its own.
type wallClock struct {
	timeutil.Clock
}

func (wallClock) AfterFunc(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, f)
}

// asClockLike adapts c to clockLike. If c already implements it (a test
// fake wired up to fire its own timers), it is used as-is; otherwise it is
// assumed to be a bare Now()-only Clock (the common case: RealClock or a
// simulated clock consulted only for timestamps) and wrapped so that
// AfterFunc falls back to a real timer.
func asClockLike(c timeutil.Clock) clockLike {
	if cl, ok := c.(clockLike); ok {
		return cl
	}
	return wallClock{c}
}
