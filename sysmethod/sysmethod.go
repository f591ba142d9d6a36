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

// Package sysmethod catalogs the kernel-interpreted IPC methods (spec.md
// section 6: "method <= IPC_M_LAST_SYSTEM denotes kernel-interpreted
// methods") and the forwarding rules that apply to them, the way fuseops
// catalogs FUSE's fixed set of operation codes.
package sysmethod

// Method identifies a kernel-interpreted IPC method. Values at or below
// Last are reserved; userspace-defined methods start above it.
type Method uint64

const (
	// PhoneHungup is the method number reserved for hangup notifications.
	// The kernel core's Hangup does not send a call with it.
	PhoneHungup Method = iota + 1
	// ConnectMeTo asks the callee to accept a new connection from a phone
	// the kernel allocates in the caller on the callee's behalf.
	ConnectMeTo
	// ConnectToMe asks the callee to accept a phone the caller is
	// registering to it, symmetric to ConnectMeTo.
	ConnectToMe
	// AsAreaSend requests that the callee accept a shared memory area from
	// the caller.
	AsAreaSend
	// AsAreaRecv requests that the callee hand the caller a shared memory
	// area.
	AsAreaRecv

	// Last is the highest reserved method value; method numbers above it
	// are ordinary userspace-defined methods the kernel never interprets.
	Last = AsAreaRecv
)

// IsSystem reports whether m is one of the kernel-interpreted methods.
func IsSystem(m Method) bool {
	return m >= PhoneHungup && m <= Last
}

// notForwardable is the set of system methods spec.md section 4.E singles
// out as never forwardable, because forwarding them would let a
// intermediary impersonate the kernel's own connection-setup or
// memory-sharing protocol.
var notForwardable = map[Method]bool{
	PhoneHungup: true,
	AsAreaSend:  true,
	AsAreaRecv:  true,
}

// Forwardable reports whether a call with method m may be forwarded. Non-
// system methods are always forwardable; among system methods, only
// ConnectMeTo and ConnectToMe are (spec.md section 4.E).
func Forwardable(m Method) bool {
	if !IsSystem(m) {
		return true
	}
	return !notForwardable[m]
}

// ForwardableArg reports whether argument index i (0-based into the 6-slot
// payload) may be overwritten by ipc_forward when forwarding a call with
// system method m. Spec.md section 4.E: "only arg1/arg2 may be overwritten,
// not the method itself". Non-system methods impose no such restriction;
// callers should not consult this function for them.
func ForwardableArg(m Method, i int) bool {
	if !IsSystem(m) {
		return true
	}
	return i == 0 || i == 1
}

var names = map[Method]string{
	PhoneHungup: "PHONE_HUNGUP",
	ConnectMeTo: "CONNECT_ME_TO",
	ConnectToMe: "CONNECT_TO_ME",
	AsAreaSend:  "AS_AREA_SEND",
	AsAreaRecv:  "AS_AREA_RECV",
}

// String names m the way spec.md section 6 does, for use in trace spans and
// logs; userspace-defined methods (m > Last) are rendered as a generic
// label since the kernel assigns them no name of its own.
func (m Method) String() string {
	if name, ok := names[m]; ok {
		return name
	}
	return "USER_METHOD"
}
