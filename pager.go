package fcmalloc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pager is a thin wrapper over the OS's anonymous mapping primitives.
// Grounded on hivekit's file-backed syscall.Mmap/Munmap usage in
// hive/loader_unix.go, adapted here to anonymous, private mappings since
// the allocator never backs its pages with a file descriptor.
type pager struct{}

// mapPages reserves size bytes of zero-filled, read-write, anonymous
// memory and returns a pointer to its first byte along with the backing
// slice (kept alive so the garbage collector never reclaims it out from
// under the raw pointer).
func (pager) mapPages(size int) (unsafe.Pointer, []byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: mmap %d bytes: %v", ErrOutOfMemory, size, err)
	}
	return unsafe.Pointer(&b[0]), b, nil
}

// mapAlignedPages reserves size bytes aligned to align, which must be a
// power of two. Anonymous mmap only guarantees system-page alignment,
// so this over-maps by align bytes and trims the unused prefix/suffix
// back to the OS, leaving exactly a size-byte, align-aligned mapping.
// Grounded on the teacher's createCacheAlignedSlice, generalized from
// cache-line alignment (computed over a Go-heap slice) to OS page
// alignment (computed over raw mmap'd memory, with the unused margins
// actually returned to the OS rather than merely skipped over).
func (pager) mapAlignedPages(size, align int) (unsafe.Pointer, []byte, error) {
	total := size + align
	raw, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: mmap %d bytes: %v", ErrOutOfMemory, total, err)
	}

	base := uintptr(unsafe.Pointer(&raw[0]))
	alignedBase := (base + uintptr(align) - 1) &^ (uintptr(align) - 1)
	frontTrim := int(alignedBase - base)
	backTrim := total - frontTrim - size

	if frontTrim > 0 {
		if err := unix.Munmap(raw[:frontTrim]); err != nil {
			return nil, nil, fmt.Errorf("fcmalloc: trim front of aligned mapping: %w", err)
		}
	}
	aligned := raw[frontTrim : frontTrim+size]
	if backTrim > 0 {
		if err := unix.Munmap(raw[frontTrim+size:]); err != nil {
			return nil, nil, fmt.Errorf("fcmalloc: trim back of aligned mapping: %w", err)
		}
	}
	return unsafe.Pointer(&aligned[0]), aligned, nil
}

// unmapPages releases a mapping previously returned by mapPages or
// mapAlignedPages.
func (pager) unmapPages(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("fcmalloc: munmap %d bytes: %w", len(b), err)
	}
	return nil
}
