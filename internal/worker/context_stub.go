//go:build !linux

package worker

// Platforms without inspectable process namespaces run everything in the
// global context.
func processContext(pid int32) string {
	return GlobalContext
}
