package layer

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/cpu"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/envconfig"
)

// DeviceType represents the hardware device used for computation.
type DeviceType int

const (
	CPU DeviceType = iota
)

func (t DeviceType) String() string {
	switch t {
	case CPU:
		return "cpu"
	default:
		return fmt.Sprintf("device(%d)", int(t))
	}
}

// Device describes where and how wide a forward pass runs.
type Device interface {
	Type() DeviceType
	IsAvailable() bool
	// Workers is the maximum number of goroutines a forward pass may use.
	Workers() int
}

// CPUDevice handles computations on the host CPU.
type CPUDevice struct {
	Threads int
}

// NewCPUDevice returns a CPU device limited to threads workers.
func NewCPUDevice(threads int) *CPUDevice {
	return &CPUDevice{Threads: threads}
}

func (d *CPUDevice) Type() DeviceType  { return CPU }
func (d *CPUDevice) IsAvailable() bool { return true }

func (d *CPUDevice) Workers() int {
	if d.Threads <= 0 {
		return 1
	}
	return d.Threads
}

// GetDefaultDevice returns a CPU device sized from DWCONV_NUM_THREADS.
func GetDefaultDevice() Device {
	return NewCPUDevice(envconfig.NumThreads)
}

// CPUFeatures lists the SIMD extensions reported for the host.
func CPUFeatures() []string {
	var features []string
	add := func(ok bool, name string) {
		if ok {
			features = append(features, name)
		}
	}

	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
	case "arm64":
		add(cpu.ARM64.HasFP, "fp")
		add(cpu.ARM64.HasASIMD, "asimd")
		add(cpu.ARM64.HasSVE, "sve")
	}
	return features
}
