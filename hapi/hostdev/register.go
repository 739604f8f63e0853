package hostdev

import "github.com/inference-sim/pe-runtime/hapi"

// Register the software accelerator as hapi's default so callers can build a
// Manager without importing this package directly.
func init() {
	hapi.NewAcceleratorFunc = func(numDevices int) hapi.Accelerator {
		return New(numDevices)
	}
}
