package hapi

import "errors"

var (
	// ErrInvalidStream is returned for a stream index outside [0, size).
	ErrInvalidStream = errors.New("invalid stream ID")

	// ErrBuffersExhausted means every system-addressed buffer slot is live.
	ErrBuffersExhausted = errors.New("ran out of device buffer indices")

	// ErrHostBufferTooSmall means a transfer names more bytes than its host buffer holds.
	ErrHostBufferTooSmall = errors.New("host buffer smaller than transfer size")

	// ErrNoDevices means the accelerator reported no usable device.
	ErrNoDevices = errors.New("no accelerator devices")

	// ErrPoolRequestTooLarge means a mempool request exceeds the largest size class.
	ErrPoolRequestTooLarge = errors.New("mempool request exceeds largest slot")

	// ErrPoolInvalidSize is returned for non-positive mempool requests.
	ErrPoolInvalidSize = errors.New("mempool request size must be positive")

	// ErrPoolForeignBuffer means PoolFree was given memory the pool did not hand out.
	ErrPoolForeignBuffer = errors.New("buffer not allocated by mempool")

	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("gpu manager closed")
)
