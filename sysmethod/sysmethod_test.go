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

package sysmethod

import "testing"

func TestIsSystem(t *testing.T) {
	cases := []struct {
		m    Method
		want bool
	}{
		{PhoneHungup, true},
		{ConnectMeTo, true},
		{ConnectToMe, true},
		{AsAreaSend, true},
		{AsAreaRecv, true},
		{Last + 1, false},
		{Method(0), false},
	}
	for _, c := range cases {
		if got := IsSystem(c.m); got != c.want {
			t.Errorf("IsSystem(%d) = %v, want %v", c.m, got, c.want)
		}
	}
}

func TestForwardable(t *testing.T) {
	cases := []struct {
		m    Method
		want bool
	}{
		{PhoneHungup, false},
		{AsAreaSend, false},
		{AsAreaRecv, false},
		{ConnectMeTo, true},
		{ConnectToMe, true},
		{Method(1000), true}, // ordinary userspace method
	}
	for _, c := range cases {
		if got := Forwardable(c.m); got != c.want {
			t.Errorf("Forwardable(%d) = %v, want %v", c.m, got, c.want)
		}
	}
}

func TestForwardableArg(t *testing.T) {
	// System methods: only arg1/arg2 (index 0, 1) may be rewritten.
	for i := 0; i < 6; i++ {
		want := i == 0 || i == 1
		if got := ForwardableArg(ConnectMeTo, i); got != want {
			t.Errorf("ForwardableArg(ConnectMeTo, %d) = %v, want %v", i, got, want)
		}
	}

	// Non-system methods impose no restriction at all.
	for i := 0; i < 6; i++ {
		if !ForwardableArg(Method(5000), i) {
			t.Errorf("ForwardableArg(non-system, %d) = false, want true", i)
		}
	}
}
