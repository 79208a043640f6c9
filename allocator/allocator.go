// Package allocator implements the per-device allocator contract: aligned
// allocation, live statistics, and a fixed-size block pool for reuse.
package allocator

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/sbl8/infergraph/errs"
)

// DefaultAlignment is the alignment used when callers do not request a
// stricter one.
const DefaultAlignment = 8

// CacheLineSize is a common cache line size used for aligning hot buffers.
const CacheLineSize = 64

// Stats holds the allocator's live statistics, updated atomically so
// concurrent Alloc/Free calls never race.
type Stats struct {
	currentBytes int64
	peakBytes    int64
	allocCount   int64
	freeCount    int64
}

// CurrentBytes returns the number of bytes presently outstanding.
func (s *Stats) CurrentBytes() int64 { return atomic.LoadInt64(&s.currentBytes) }

// PeakBytes returns the highest CurrentBytes ever observed.
func (s *Stats) PeakBytes() int64 { return atomic.LoadInt64(&s.peakBytes) }

// AllocCount returns the number of successful allocations.
func (s *Stats) AllocCount() int64 { return atomic.LoadInt64(&s.allocCount) }

// FreeCount returns the number of completed frees.
func (s *Stats) FreeCount() int64 { return atomic.LoadInt64(&s.freeCount) }

func (s *Stats) recordAlloc(n int64) {
	atomic.AddInt64(&s.allocCount, 1)
	cur := atomic.AddInt64(&s.currentBytes, n)
	for {
		peak := atomic.LoadInt64(&s.peakBytes)
		if cur <= peak || atomic.CompareAndSwapInt64(&s.peakBytes, peak, cur) {
			break
		}
	}
}

func (s *Stats) recordFree(n int64) {
	atomic.AddInt64(&s.freeCount, 1)
	atomic.AddInt64(&s.currentBytes, -n)
}

// Handle is an opaque allocation returned by Allocator.Alloc; AllocatedSize
// reports the usable size it was created with.
type Handle struct {
	Bytes []byte
	size  int64
}

// Allocator is the per-device allocation contract: alloc / alloc_aligned /
// free / allocated_size, plus live Stats.
type Allocator interface {
	Alloc(n int) (Handle, error)
	AllocAligned(n, align int) (Handle, error)
	Free(h Handle)
	AllocatedSize(h Handle) int64
	Stats() *Stats
}

// CPU is the host-memory allocator: every Alloc call backs onto a
// goroutine-safe make([]byte, ...) with manual over-allocation for
// alignment, same technique as the runtime's cache-line-aligned buffers.
type CPU struct {
	stats Stats
}

// NewCPU returns a ready-to-use CPU allocator.
func NewCPU() *CPU { return &CPU{} }

// Alloc allocates n bytes aligned to DefaultAlignment.
func (a *CPU) Alloc(n int) (Handle, error) {
	return a.AllocAligned(n, DefaultAlignment)
}

// AllocAligned allocates n bytes aligned to align, which must be a power of two.
func (a *CPU) AllocAligned(n, align int) (Handle, error) {
	if n < 0 {
		return Handle{}, errs.New(errs.InvalidArgument, "allocator: negative allocation size")
	}
	if align <= 0 || align&(align-1) != 0 {
		return Handle{}, errs.Newf(errs.InvalidArgument, "allocator: alignment %d is not a power of two", align)
	}
	if n == 0 {
		a.stats.recordAlloc(0)
		return Handle{size: 0}, nil
	}
	buf := make([]byte, n+align-1)
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := 0
	if mod := ptr % uintptr(align); mod != 0 {
		offset = align - int(mod)
	}
	h := Handle{Bytes: buf[offset : offset+n : offset+n], size: int64(n)}
	a.stats.recordAlloc(int64(n))
	return h, nil
}

// Free releases h, updating live statistics. The backing array is left to
// the garbage collector.
func (a *CPU) Free(h Handle) {
	a.stats.recordFree(h.size)
}

// AllocatedSize reports the usable size of h.
func (a *CPU) AllocatedSize(h Handle) int64 { return h.size }

// Stats returns the allocator's live statistics.
func (a *CPU) Stats() *Stats { return &a.stats }

// BlockPool provides zero-allocation reuse for a single fixed block size,
// the way the runtime's buffer pools avoid per-step garbage.
type BlockPool struct {
	blockSize int
	pool      sync.Pool
}

// NewBlockPool returns a pool handing out []byte of exactly blockSize.
func NewBlockPool(blockSize int) *BlockPool {
	return &BlockPool{
		blockSize: blockSize,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, blockSize)
			},
		},
	}
}

// Get returns a block of BlockSize bytes, zeroed or recycled.
func (p *BlockPool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a block to the pool. The slice must have been obtained from
// Get (or have exactly BlockSize capacity).
func (p *BlockPool) Put(b []byte) {
	if cap(b) != p.blockSize {
		return
	}
	p.pool.Put(b[:p.blockSize])
}

// BlockSize returns the fixed size every block in the pool has.
func (p *BlockPool) BlockSize() int { return p.blockSize }
