package mc

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/arloliu/go-mcprotocol/internal/util"
)

// Item is a parsed device address plus the runtime state of its last read or write.
//
// Descriptor fields are set by ParseAddress and must not be changed afterwards.
// The value and quality are only updated by the goroutine driving the item's block.
type Item struct {
	// Alias is the name the item is reported under, usually the text the caller used.
	Alias string
	// Addr is the device address text after alias translation.
	Addr string

	Device      Device
	DataType    DataType
	Offset      int
	BitOffset   int
	ArrayLength int

	// WriteValue is the value to encode when the item is written.
	WriteValue any

	remainder       int
	requestOffset   int
	dtypeLen        int
	wordLength      int
	byteLength      int
	byteLengthWrite int
	maxReadWords    int
	maxWriteWords   int

	view      bufView
	value     any
	qualities []Quality
}

// bufView is a non-owning window into a block's buffers.
type bufView struct {
	block *Block
	off   int
	n     int
}

func (v bufView) bytes() (data []byte, quality []byte, err error) {
	if v.block == nil || !v.block.populated {
		return nil, nil, ErrBlockNotPopulated
	}
	end := v.off + v.n

	return v.block.buf[v.off:end], v.block.quality[v.off:end], nil
}

// Remainder returns offset mod 16 for bit devices, zero otherwise.
func (it *Item) Remainder() int { return it.remainder }

// RequestOffset returns the word-aligned offset the item is requested from.
func (it *Item) RequestOffset() int { return it.requestOffset }

// WordLength returns the number of words covering the item.
func (it *Item) WordLength() int { return it.wordLength }

// ByteLength returns the number of reply bytes covering the item.
func (it *Item) ByteLength() int { return it.byteLength }

// ByteLengthWrite returns the number of payload bytes needed to write the item.
func (it *Item) ByteLengthWrite() int { return it.byteLengthWrite }

// MaxWordLength returns the device limit of words per request at the item's offset.
func (it *Item) MaxWordLength(write bool) int {
	if write {
		return it.maxWriteWords
	}

	return it.maxReadWords
}

// Value returns the last decoded value: a scalar for single elements, a typed slice for
// arrays, and a string for character items.
func (it *Item) Value() any { return it.value }

// Qualities returns a copy of the per-element qualities of the last read or write.
func (it *Item) Qualities() []Quality { return util.CloneSlice(it.qualities, 0) }

// Quality returns QualityBad if any element is bad or nothing was decoded yet.
func (it *Item) Quality() Quality {
	if len(it.qualities) == 0 {
		return QualityBad
	}
	for _, q := range it.qualities {
		if !q.IsOK() {
			return QualityBad
		}
	}

	return QualityOK
}

// ResultValue returns the value when every element is good, otherwise the quality marker:
// QualityBad for single elements and the per-element qualities for arrays.
func (it *Item) ResultValue() any {
	if it.Quality().IsOK() {
		return it.value
	}
	if len(it.qualities) > 1 {
		return it.Qualities()
	}

	return QualityBad
}

// Clone returns a deep copy of the item detached from any block.
func (it *Item) Clone() *Item {
	clone := *it
	clone.view = bufView{}
	clone.qualities = util.CloneSlice(it.qualities, 0)
	clone.value = cloneValue(it.value)

	return &clone
}

func (it *Item) setBad() {
	it.qualities = make([]Quality, it.qualityCount())
	util.Fill(it.qualities, QualityBad)
	it.value = badArray(it.DataType, it.ArrayLength)
}

func (it *Item) qualityCount() int {
	if it.DataType == TypeChar {
		return 1
	}

	return it.ArrayLength
}

// extract decodes the item's elements from its populated block view.
func (it *Item) extract(ascii bool) {
	data, quality, err := it.view.bytes()
	if err != nil {
		it.setBad()
		return
	}

	if it.DataType == TypeChar {
		it.extractString(data, quality, ascii)
		return
	}

	n := it.ArrayLength
	values := make([]any, n)
	qualities := make([]Quality, n)

	ptr := 0
	shift := it.BitOffset
	if it.Device.IsBitNative() {
		shift = it.remainder
	}

	for idx := 0; idx < n; idx++ {
		if ptr+it.dtypeLen > len(data) || !Quality(quality[ptr]).IsOK() {
			values[idx] = it.DataType.BadValue()
			qualities[idx] = QualityBad
		} else {
			values[idx] = readElement(it.DataType, data, ptr, shift, idx, ascii)
			qualities[idx] = QualityOK
		}

		if it.DataType == TypeBit {
			shift++
			if shift == 16 {
				ptr += it.dtypeLen
				shift = 0
			}
		} else {
			ptr += it.dtypeLen
		}
	}

	it.qualities = qualities
	if n == 1 {
		it.value = values[0]
	} else {
		it.value = typedArray(it.DataType, values)
	}
}

func (it *Item) extractString(data, quality []byte, ascii bool) {
	n := min(it.ArrayLength, len(data))
	var sb strings.Builder
	for i := 0; i < n; i++ {
		pos := i
		if ascii {
			pos = i ^ 1
		}
		if pos >= len(data) || !Quality(quality[pos]).IsOK() {
			it.setBad()
			return
		}
		sb.WriteByte(data[pos])
	}
	it.value = strings.TrimRight(sb.String(), "\x00")
	it.qualities = []Quality{QualityOK}
}

// readElement decodes the element at ptr. In ASCII mode words are big-endian, 32-bit values
// carry their low word first, and bytes are swapped within each word.
func readElement(dt DataType, data []byte, ptr, shift, idx int, ascii bool) any {
	switch dt {
	case TypeReal:
		return math.Float32frombits(readUint32(data[ptr:], ascii))
	case TypeDInt:
		return int32(readUint32(data[ptr:], ascii)) //nolint:gosec
	case TypeDWord:
		return readUint32(data[ptr:], ascii)
	case TypeInt:
		return int16(readUint16(data[ptr:], ascii)) //nolint:gosec
	case TypeWord:
		return readUint16(data[ptr:], ascii)
	case TypeBit:
		return (readUint16(data[ptr:], ascii)>>uint(shift))&1 == 1 //nolint:gosec
	case TypeByte, TypeChar:
		pos := ptr
		if ascii {
			if idx%2 == 1 {
				pos = ptr - 1
			} else {
				pos = ptr + 1
			}
		}
		if pos < 0 || pos >= len(data) {
			return uint8(0)
		}

		return data[pos]
	}

	return nil
}

func readUint16(b []byte, ascii bool) uint16 {
	if ascii {
		return binary.BigEndian.Uint16(b)
	}

	return binary.LittleEndian.Uint16(b)
}

func readUint32(b []byte, ascii bool) uint32 {
	if ascii {
		return uint32(b[2])<<24 | uint32(b[3])<<16 | uint32(b[0])<<8 | uint32(b[1])
	}

	return binary.LittleEndian.Uint32(b)
}

func badArray(dt DataType, n int) any {
	if n == 1 || dt == TypeChar {
		return dt.BadValue()
	}
	values := make([]any, n)
	for i := range values {
		values[i] = dt.BadValue()
	}

	return typedArray(dt, values)
}

// typedArray converts decoded elements to the slice type matching dt.
func typedArray(dt DataType, values []any) any {
	switch dt {
	case TypeBit:
		return convertSlice[bool](values)
	case TypeByte, TypeChar:
		return convertSlice[uint8](values)
	case TypeInt:
		return convertSlice[int16](values)
	case TypeWord:
		return convertSlice[uint16](values)
	case TypeDInt:
		return convertSlice[int32](values)
	case TypeDWord:
		return convertSlice[uint32](values)
	case TypeReal:
		return convertSlice[float32](values)
	}

	return values
}

func convertSlice[T any](values []any) []T {
	out := make([]T, len(values))
	for i, v := range values {
		out[i], _ = v.(T)
	}

	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []bool:
		return util.CloneSlice(val, 0)
	case []uint8:
		return util.CloneSlice(val, 0)
	case []int16:
		return util.CloneSlice(val, 0)
	case []uint16:
		return util.CloneSlice(val, 0)
	case []int32:
		return util.CloneSlice(val, 0)
	case []uint32:
		return util.CloneSlice(val, 0)
	case []float32:
		return util.CloneSlice(val, 0)
	case []any:
		return util.CloneSlice(val, 0)
	}

	return v
}
