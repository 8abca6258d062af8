package mc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/arloliu/go-mcprotocol/internal/util"
)

// <prefix><offset>[.|/<bit>][,<length>]
var addrPattern = regexp.MustCompile(`^([A-Z]+)(\d+)(?:[./](\d+))?(?:,(\d+))?$`)

type prefixInfo struct {
	device   Device
	dataType DataType
	// typed prefixes force a 32-bit or character view of registers
	typed bool
}

var prefixTable = map[string]prefixInfo{
	"D":      {DeviceD, TypeInt, false},
	"DFLOAT": {DeviceD, TypeReal, true},
	"DDINT":  {DeviceD, TypeDInt, true},
	"DSTR":   {DeviceD, TypeChar, true},
	"R":      {DeviceR, TypeInt, false},
	"RFLOAT": {DeviceR, TypeReal, true},
	"RDINT":  {DeviceR, TypeDInt, true},
	"RSTR":   {DeviceR, TypeChar, true},
	"TN":     {DeviceTN, TypeInt, false},
	"CN":     {DeviceCN, TypeInt, false},
	"TS":     {DeviceTS, TypeBit, false},
	"CS":     {DeviceCS, TypeBit, false},
	"X":      {DeviceX, TypeBit, false},
	"Y":      {DeviceY, TypeBit, false},
	"M":      {DeviceM, TypeBit, false},
	"S":      {DeviceS, TypeBit, false},
}

// ParseAddress resolves an address such as "D100", "X17,8", "D100.3" or "CN200" into an Item.
//
// When octalIO is true, X and Y offsets are read as octal numbers; offsets that aren't valid
// octal are kept as written.
//
// It returns an error wrapping ErrAddressResolution for malformed text or unknown prefixes,
// and ErrValidation for addresses that can't be served.
func ParseAddress(addr string, octalIO bool) (*Item, error) {
	text := strings.ToUpper(strings.TrimSpace(addr))
	m := addrPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("%w: malformed address %q", ErrAddressResolution, addr)
	}

	prefix, ok := prefixTable[m[1]]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported device %q in %q", ErrAddressResolution, m[1], addr)
	}

	offset, err := strconv.ParseUint(m[2], 10, 31)
	if err != nil {
		return nil, fmt.Errorf("%w: offset of %q: %w", ErrAddressResolution, addr, err)
	}
	if octalIO && (prefix.device == DeviceX || prefix.device == DeviceY) {
		if v, err := strconv.ParseUint(m[2], 8, 31); err == nil {
			offset = v
		}
	}

	item := &Item{
		Alias:       addr,
		Addr:        addr,
		Device:      prefix.device,
		DataType:    prefix.dataType,
		Offset:      int(offset),
		ArrayLength: 1,
	}

	if m[4] != "" {
		n, err := strconv.ParseUint(m[4], 10, 31)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: array length of %q must be positive", ErrValidation, addr)
		}
		item.ArrayLength = int(n)
	}

	wideCounter := item.Device == DeviceCN && item.Offset >= CounterWideOffset

	if m[3] != "" {
		if prefix.typed || item.Device.IsBitNative() {
			return nil, fmt.Errorf("%w: bit offset not supported for %s in %q", ErrAddressResolution, m[1], addr)
		}
		if wideCounter {
			return nil, fmt.Errorf("%w: bit access to 32-bit counter %q", ErrValidation, addr)
		}
		bit, err := strconv.Atoi(m[3])
		if err != nil || bit > 15 {
			return nil, fmt.Errorf("%w: bit offset of %q out of range [0, 15]", ErrValidation, addr)
		}
		item.DataType = TypeBit
		item.BitOffset = bit
	} else if wideCounter {
		item.DataType = TypeDInt
	}

	if item.Device == DeviceCN && item.Offset < CounterWideOffset && item.Offset+item.ArrayLength > CounterWideOffset {
		return nil, fmt.Errorf("%w: counter range %q straddles CN%d", ErrValidation, addr, CounterWideOffset)
	}

	item.computeLengths()

	return item, nil
}

// computeLengths derives the request alignment and byte lengths of a freshly parsed item.
func (it *Item) computeLengths() {
	if it.Device.IsBitNative() {
		it.remainder = it.Offset % 16
		it.requestOffset = it.Offset - it.remainder
	} else {
		it.remainder = 0
		it.requestOffset = it.Offset
	}
	it.dtypeLen = it.DataType.Size()

	if it.DataType == TypeBit {
		it.wordLength = util.CeilDiv(it.remainder+it.BitOffset+it.ArrayLength, 16)
	} else {
		it.wordLength = util.CeilDiv(it.ArrayLength*it.dtypeLen, 2)
	}
	it.byteLength = it.wordLength * 2

	if it.Device.IsBitNative() {
		// four bits per point on the wire, two points per byte
		it.byteLengthWrite = util.CeilDiv(it.ArrayLength, 2)
	} else {
		it.byteLengthWrite = it.byteLength
	}

	it.maxReadWords = MaxWordLength(it.Device, it.Offset, false)
	it.maxWriteWords = MaxWordLength(it.Device, it.Offset, true)
}
