//go:build linux

package worker

import (
	"fmt"
	"os"
)

// processContext classifies a pid's execution context by comparing its pid
// namespace against pid 1's. Matching the initial namespace means the
// process runs in the top-level (global) context; anything else is a nested
// context the agent must never signal into.
func processContext(pid int32) string {
	self, err := os.Readlink("/proc/1/ns/pid")
	if err != nil {
		return ""
	}
	target, err := os.Readlink(fmt.Sprintf("/proc/%d/ns/pid", pid))
	if err != nil {
		return ""
	}
	if self == target {
		return GlobalContext
	}
	return "nested"
}
