package libcuda

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// DeviceInfo describes one CUDA device, as returned by Devices.
type DeviceInfo struct {
	Ordinal           int
	Name              string
	TotalMemory       uint64
	ComputeCapability [2]int
	Multiprocessors   int

	MaxThreadsPerBlock int
	WarpSize           int
}

// String implements fmt.Stringer.
func (info DeviceInfo) String() string {
	return fmt.Sprintf("#%d %s (sm_%d%d, %s, %d SMs, %d threads/block, warp %d)",
		info.Ordinal, info.Name, info.ComputeCapability[0], info.ComputeCapability[1],
		humanize.IBytes(info.TotalMemory), info.Multiprocessors, info.MaxThreadsPerBlock, info.WarpSize)
}
