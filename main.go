package main

import (
	"runtime"

	"github.com/andresmejia3/vigil/cmd"
)

// HighGUI windows must be driven from the main thread on macOS
func init() { runtime.LockOSThread() }

func main() {
	cmd.Execute()
}
