// Package hv holds the narrow contracts the device model needs from the
// hypervisor: guest-physical address windows backed by host-owned memory.
package hv

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// GuestMemory maps guest-physical windows onto host-owned memory. A segment
// is mapped exactly once; asking for the same name with an identical layout
// returns the existing mapping, any other layout is an error.
type GuestMemory interface {
	MapSegment(name string, guestAddr, size uint64) ([]byte, error)
}

type segment struct {
	guestAddr uint64
	size      uint64
	data      []byte
}

// Memory is the host side of guest physical memory. Segments are anonymous
// shared mappings so the guest-visible window and the host render path see
// the same bytes without copies.
type Memory struct {
	mu       sync.Mutex
	segments map[string]*segment
}

func NewMemory() *Memory {
	return &Memory{
		segments: make(map[string]*segment),
	}
}

// MapSegment implements GuestMemory.
func (m *Memory) MapSegment(name string, guestAddr, size uint64) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("hv: segment name is empty")
	}
	if size == 0 {
		return nil, fmt.Errorf("hv: segment %q has zero size", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if seg, ok := m.segments[name]; ok {
		if seg.guestAddr == guestAddr && seg.size == size {
			return seg.data, nil
		}
		return nil, fmt.Errorf(
			"hv: segment %q already mapped at 0x%x (+0x%x), refusing to remap at 0x%x (+0x%x)",
			name, seg.guestAddr, seg.size, guestAddr, size)
	}

	data, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("hv: mmap segment %q (0x%x bytes): %w", name, size, err)
	}

	m.segments[name] = &segment{
		guestAddr: guestAddr,
		size:      size,
		data:      data,
	}
	return data, nil
}

// Close unmaps all segments. Devices must be stopped first so nothing
// touches a segment after it is released.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, seg := range m.segments {
		if err := unix.Munmap(seg.data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("hv: munmap segment %q: %w", name, err)
		}
		delete(m.segments, name)
	}
	return firstErr
}

var _ GuestMemory = (*Memory)(nil)
