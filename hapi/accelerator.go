package hapi

// DevicePtr is an opaque device memory address. Zero is the null pointer.
type DevicePtr uintptr

// StreamHandle identifies an accelerator execution queue. Zero is the
// device's implicit default stream.
type StreamHandle uintptr

// DeviceProperties describes one accelerator device.
type DeviceProperties struct {
	Name                string
	Major               int // compute capability major version
	Minor               int // compute capability minor version
	TotalMemory         int64
	MultiProcessorCount int
}

// Accelerator is the device runtime driven by the offload layer.
//
// Asynchronous operations are enqueued on a stream and execute in issue order
// on that stream. AddCallback registers fn to run exactly once, after every
// operation enqueued on s before the call has finished.
type Accelerator interface {
	DeviceCount() (int, error)
	DeviceProperties(device int) (DeviceProperties, error)
	SetDevice(device int) error
	CurrentDevice() (int, error)

	StreamCreate() (StreamHandle, error)
	StreamDestroy(s StreamHandle) error

	Malloc(size int) (DevicePtr, error)
	Free(p DevicePtr) error
	MemcpyHtoDAsync(dst DevicePtr, src []byte, s StreamHandle) error
	MemcpyDtoHAsync(dst []byte, src DevicePtr, s StreamHandle) error

	AddCallback(s StreamHandle, fn func()) error
}

// NewAcceleratorFunc constructs the default accelerator for the process.
// Set by an accelerator implementation's init() (e.g. hapi/hostdev) so that
// hapi does not import its implementations.
var NewAcceleratorFunc func(numDevices int) Accelerator
