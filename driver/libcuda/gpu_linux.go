//go:build linux

package libcuda

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// ChecksEnv controls the warnings issued when the driver is opened on a machine that doesn't seem to
// have an NVIDIA GPU. Set it to "0", "no" or "false" to disable them.
const ChecksEnv = "GOCUDA_CUDA_CHECKS"

// nvidiaControlDevice is opened by libcuda on initialization.
const nvidiaControlDevice = "/dev/nvidiactl"

var (
	hasNvidiaGPUOnce  sync.Once
	hasNvidiaGPUValue bool
)

// HasNvidiaGPU tries to guess if there is an actual NVIDIA GPU installed (as opposed to only the driver libraries
// installed, but no actual hardware).
// It does that by checking for the presence of the device files in /dev/nvidia*, and if none are found, by
// running nvidia-smi.
func HasNvidiaGPU() bool {
	hasNvidiaGPUOnce.Do(func() {
		hasNvidiaGPUValue = detectNvidiaGPU()
	})
	return hasNvidiaGPUValue
}

func detectNvidiaGPU() bool {
	matches, err := filepath.Glob("/dev/nvidia*")
	if err != nil {
		klog.Errorf("Failed to figure out if there is an Nvidia GPU installed while searching for files matching \"/dev/nvidia*\": %v", err)
	}
	if len(matches) > 0 {
		if err := unix.Access(nvidiaControlDevice, unix.R_OK|unix.W_OK); err != nil {
			klog.Warningf("NVidia device files found, but %s is not accessible (%v): opening the device will likely fail. "+
				"Check the user is in the group owning the device files.", nvidiaControlDevice, err)
		}
		return true
	}
	klog.V(1).Infof("No NVidia devices found matching \"/dev/nvidia*\", checking nvidia-smi command instead.")

	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		output, err := exec.Command("nvidia-smi").CombinedOutput()
		if err == nil && strings.Contains(string(output), "NVIDIA-SMI") {
			return true
		}
	}
	klog.V(1).Infof("nvidia-smi command did not succeed, assuming there are no GPU cards installed in the system.")
	return false
}

// checksEnabled reports whether $GOCUDA_CUDA_CHECKS is unset or set to a true value.
func checksEnabled() bool {
	switch strings.ToUpper(os.Getenv(ChecksEnv)) {
	case "", "1", "TRUE", "YES":
		return true
	}
	return false
}
