package probe

import (
	"os"
	"runtime"
)

// CollectSystemInfo gathers host metadata recorded for audit. A hostname
// that cannot be read is left empty.
func CollectSystemInfo() *SystemInfo {
	hostname, _ := os.Hostname()
	return &SystemInfo{
		Hostname: hostname,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
	}
}
