package mc

import (
	"cmp"
	"slices"

	"github.com/arloliu/go-mcprotocol/internal/util"
)

// DefaultMaxGap is the default number of unrequested bytes the optimizer reads to join two items.
const DefaultMaxGap = 5

// OptimizeOptions controls how read items are merged into blocks.
type OptimizeOptions struct {
	// MaxGap is the largest gap, in bytes, bridged when merging. Bit devices allow MaxGap*8 points.
	MaxGap int
	// Disabled puts every item into its own block.
	Disabled bool
}

// Block is a contiguous device range shared by one or more items. It owns the buffers that
// requests fill and items read from.
type Block struct {
	Device Device
	// DataType is the type of the item that opened the block.
	DataType DataType
	// Offset is the offset of the item that opened the block.
	Offset int
	// RequestOffset is the wire offset of the block's first byte.
	RequestOffset int
	// ByteLength is the size of the block buffer for reads, or of the payload for writes.
	ByteLength int

	Items    []*Item
	Requests []*Request

	arrayLength int
	buf         []byte
	quality     []byte
	writeBuf    []byte
	populated   bool
}

// Request is a slice of a block small enough for one transaction.
type Request struct {
	Device Device
	// DataType degrades to TypeByte when the block is split into several requests.
	DataType DataType
	// Offset is the first device offset addressed on the wire.
	Offset int
	// ByteOffset is the position of the request inside the block buffer.
	ByteOffset int
	// ByteLength is the number of reply bytes for reads, or payload bytes for writes.
	ByteLength int
	// ArrayLength is the number of points carried by a bit write.
	ArrayLength int

	block   *Block
	unit    int
	payload []byte
	data    []byte
	quality []byte
	err     error
}

// Block returns the block owning the request.
func (r *Request) Block() *Block { return r.block }

// Err returns the error of the last reply decoded for the request.
func (r *Request) Err() error { return r.err }

// Payload returns the bytes sent after the header of a write request.
func (r *Request) Payload() []byte { return r.payload }

// Count returns the element count written to header byte 10: points for bit writes,
// words for bit reads, and register units otherwise.
func (r *Request) Count(write bool) int {
	if r.Device.IsBitNative() {
		if write {
			return r.ArrayLength
		}

		return r.ByteLength / 2
	}

	return r.ByteLength / r.unit
}

func compareItems(a, b *Item) int {
	return cmp.Or(
		cmp.Compare(a.Device.Area(), b.Device.Area()),
		cmp.Compare(a.Offset, b.Offset),
		cmp.Compare(a.BitOffset, b.BitOffset),
		cmp.Compare(b.byteLength, a.byteLength),
	)
}

// SortItems sorts items by area, offset, bit offset and descending byte length, so larger
// items open blocks first.
func SortItems(items []*Item) {
	slices.SortStableFunc(items, compareItems)
}

// BuildReadBlocks merges items into blocks and splits every block into requests.
// items is not reordered; each item receives a view into its block.
func BuildReadBlocks(items []*Item, opts OptimizeOptions) []*Block {
	sorted := slices.Clone(items)
	SortItems(sorted)

	var blocks []*Block
	var cur *Block
	for _, it := range sorted {
		if cur != nil && cur.canMerge(it, opts) {
			cur.merge(it)
			continue
		}
		cur = newBlock(it, it.byteLength)
		blocks = append(blocks, cur)
	}

	for _, b := range blocks {
		b.buf = make([]byte, b.ByteLength)
		b.quality = make([]byte, b.ByteLength)
		b.split(false)
	}

	return blocks
}

// BuildWriteBlock encodes the item's write value into a block of its own and splits it
// into requests. Write items are never merged.
func BuildWriteBlock(it *Item, ascii bool) (*Block, error) {
	buf, err := EncodeWriteValue(it, ascii)
	if err != nil {
		return nil, err
	}
	b := newBlock(it, it.byteLengthWrite)
	b.writeBuf = buf
	b.split(true)

	return b, nil
}

// CollectRequests returns the requests of all blocks in order.
func CollectRequests(blocks []*Block) []*Request {
	var reqs []*Request
	for _, b := range blocks {
		reqs = append(reqs, b.Requests...)
	}

	return reqs
}

func newBlock(it *Item, byteLength int) *Block {
	b := &Block{
		Device:        it.Device,
		DataType:      it.DataType,
		Offset:        it.Offset,
		RequestOffset: it.requestOffset,
		ByteLength:    byteLength,
		Items:         []*Item{it},
		arrayLength:   it.ArrayLength,
	}
	it.view = bufView{block: b, off: 0, n: it.byteLength}

	return b
}

// unit returns the bytes per offset step of a word device block.
func (b *Block) unit() int {
	return unitBytes(b.Device, b.Offset)
}

// maxBytes returns the byte limit of one request of the block.
func (b *Block) maxBytes(write bool) int {
	return MaxWordLength(b.Device, b.Offset, write) * 2
}

// startOf returns the byte position of it inside the block buffer.
func (b *Block) startOf(it *Item) int {
	if b.Device.IsBitNative() {
		return (it.requestOffset - b.RequestOffset) / 8
	}

	return (it.Offset - b.Offset) * b.unit()
}

func (b *Block) canMerge(it *Item, opts OptimizeOptions) bool {
	if opts.Disabled || it.Device.Area() != b.Device.Area() {
		return false
	}
	// 16-bit and 32-bit counters never share a block
	if b.Device == DeviceCN && (it.Offset >= CounterWideOffset) != (b.Offset >= CounterWideOffset) {
		return false
	}

	start := b.startOf(it)
	end := start + it.byteLength
	// an item inside a block already longer than one request (an oversized opener) still
	// merges; only growth past the request limit is refused
	if end > b.ByteLength && end > b.maxBytes(false) {
		return false
	}

	if b.Device.IsBitNative() {
		gapBits := it.Offset - (b.RequestOffset + b.ByteLength*8)
		return gapBits <= opts.MaxGap*8
	}

	return start-b.ByteLength <= opts.MaxGap
}

func (b *Block) merge(it *Item) {
	start := b.startOf(it)
	b.ByteLength = max(b.ByteLength, start+it.byteLength)
	if b.ByteLength%2 != 0 {
		b.ByteLength++
	}
	it.view = bufView{block: b, off: start, n: it.byteLength}
	b.Items = append(b.Items, it)
}

// split partitions the block into requests bounded by the device limit.
func (b *Block) split(write bool) {
	maxBytes := b.maxBytes(write)
	parts := util.CeilDiv(b.ByteLength, maxBytes)
	unit := b.unit()
	bitNative := b.Device.IsBitNative()

	b.Requests = make([]*Request, 0, parts)
	for i := 0; i < parts; i++ {
		start := i * maxBytes
		n := min(maxBytes, b.ByteLength-start)
		req := &Request{
			Device:     b.Device,
			DataType:   b.DataType,
			ByteOffset: start,
			ByteLength: n,
			block:      b,
			unit:       unit,
		}

		switch {
		case bitNative && write:
			// two points per payload byte
			req.Offset = b.Offset + start*2
			req.ArrayLength = min(n*2, b.arrayLength-start*2)
		case bitNative:
			req.Offset = b.RequestOffset + start*8
			req.ArrayLength = n * 8
		default:
			req.Offset = b.RequestOffset + start/unit
			req.ArrayLength = n / unit
		}

		if parts > 1 {
			req.DataType = TypeByte
		}
		if write {
			req.payload = b.writeBuf[start : start+n]
		}
		b.Requests = append(b.Requests, req)
	}
}

// Reassemble copies every request's staged reply into the block buffers in order and marks
// the block populated.
func (b *Block) Reassemble() {
	for _, r := range b.Requests {
		if r.data == nil {
			util.Fill(b.quality[r.ByteOffset:r.ByteOffset+r.ByteLength], byte(QualityBad))
			continue
		}
		copy(b.buf[r.ByteOffset:], r.data)
		copy(b.quality[r.ByteOffset:], r.quality)
	}
	b.populated = true
}

// ExtractItems decodes every item of a populated block and reports whether any item has a
// bad element. Items of an unpopulated block are all marked bad.
func (b *Block) ExtractItems(ascii bool) bool {
	anyBad := false
	for _, it := range b.Items {
		it.extract(ascii)
		if !it.Quality().IsOK() {
			anyBad = true
		}
	}

	return anyBad
}

// Release clears the populated flag and staged replies so the block can serve a new cycle.
func (b *Block) Release() {
	b.populated = false
	for _, r := range b.Requests {
		r.data = nil
		r.quality = nil
		r.err = nil
	}
}

// FinishWrite sets the item's per-element write quality from the request results and
// reports whether any element failed.
func (b *Block) FinishWrite() bool {
	it := b.Items[0]
	qualities := make([]Quality, it.qualityCount())
	anyBad := false
	for idx := range qualities {
		qualities[idx] = QualityOK
		pos := idx * it.dtypeLen
		if it.Device.IsBitNative() {
			pos = idx / 2
		}
		if r := b.requestAt(pos); r == nil || r.err != nil {
			qualities[idx] = QualityBad
			anyBad = true
		}
	}
	if it.DataType == TypeChar {
		for _, r := range b.Requests {
			if r.err != nil {
				qualities[0] = QualityBad
				anyBad = true
			}
		}
	}
	it.qualities = qualities

	return anyBad
}

func (b *Block) requestAt(pos int) *Request {
	for _, r := range b.Requests {
		if pos >= r.ByteOffset && pos < r.ByteOffset+r.ByteLength {
			return r
		}
	}

	return nil
}
