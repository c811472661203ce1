package address

// Layout describes the fixed virtual address range mmtk-go reserves at
// startup. The heap never grows beyond this range (see spec Non-goal (ii));
// HeapSize just governs how much of it the plan is allowed to commit.
type Layout struct {
	// HeapStart and HeapEnd bound the reserved range [HeapStart, HeapEnd).
	HeapStart Address
	HeapEnd   Address

	// ChunkSize is the granularity at which the VMMap hands out address
	// space to discontiguous spaces. Must be a page-size multiple.
	ChunkSize uintptr

	// MetaDataPagesPerChunk records a per-chunk side-table page count. No
	// allocator reads it: no pages are set aside at the start of a chunk,
	// and forwarding state and mark bits live in Go maps in package space.
	MetaDataPagesPerChunk uintptr
}

// DefaultChunkSize is 4MiB, the teacher's rule of thumb for amortizing
// mmap call overhead against fragmentation within a chunk.
const DefaultChunkSize = 4 << 20

// DefaultMetaDataPagesPerChunk is the default MetaDataPagesPerChunk: one
// page per chunk.
const DefaultMetaDataPagesPerChunk = 1

// NewLayout validates and returns a Layout. heapSize is rounded up to a
// whole number of chunks.
func NewLayout(start Address, heapSize uintptr, chunkSize uintptr) (Layout, error) {
	if !IsPowerOfTwo(PageSize) {
		panic("PageSize must be a power of two")
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if !start.IsPageAligned() {
		return Layout{}, errInvalidLayout{"heap start is not page aligned"}
	}
	if heapSize == 0 {
		return Layout{}, errInvalidLayout{"heap size must be nonzero"}
	}
	chunks := (heapSize + chunkSize - 1) / chunkSize
	size := chunks * chunkSize
	return Layout{
		HeapStart:             start,
		HeapEnd:               start.Add(size),
		ChunkSize:             chunkSize,
		MetaDataPagesPerChunk: DefaultMetaDataPagesPerChunk,
	}, nil
}

// Contains reports whether addr falls within [HeapStart, HeapEnd).
func (l Layout) Contains(addr Address) bool {
	return addr >= l.HeapStart && addr < l.HeapEnd
}

// Pages returns the total number of PageSize pages in the reserved range.
func (l Layout) Pages() uintptr {
	return uintptr(l.HeapEnd.Diff(l.HeapStart)) / PageSize
}

// Chunks returns the total number of ChunkSize chunks in the reserved range.
func (l Layout) Chunks() uintptr {
	return uintptr(l.HeapEnd.Diff(l.HeapStart)) / l.ChunkSize
}

// ChunkAlign rounds addr down to its containing chunk's base address.
func (l Layout) ChunkAlign(addr Address) Address {
	return addr.AlignDown(l.ChunkSize)
}

type errInvalidLayout struct{ msg string }

func (e errInvalidLayout) Error() string { return "invalid heap layout: " + e.msg }
