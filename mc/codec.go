package mc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/arloliu/go-mcprotocol/internal/util"
)

// HeaderSize is the length of a 1E request header.
const HeaderSize = 12

// Command bytes of 1E requests.
const (
	CommandRead     byte = 0x01
	CommandBitWrite byte = 0x02
	CommandWrite    byte = 0x03
)

// Reply markers and completion codes.
const (
	ReplyRead     byte = 0x81
	ReplyBitWrite byte = 0x82
	ReplyWrite    byte = 0x83

	EndCodeOK byte = 0x00
	// EndCodeAbnormal is followed by an abnormal code byte and a reserved byte.
	EndCodeAbnormal byte = 0x5B
)

const (
	subHeader byte = 0xFF

	// DefaultMonitoringTime is the PLC side wait time in units of 250 ms.
	DefaultMonitoringTime uint16 = 10
)

// CodecOptions selects the wire variant.
type CodecOptions struct {
	// ASCII selects the legacy big-endian header layout and ASCII payload byte order.
	// The caller still has to hex encode the frame with Asciize.
	ASCII bool
	// MonitoringTime is written to bytes 2-3 of every header.
	MonitoringTime uint16
}

// Command returns the request command byte for a device and direction.
func Command(d Device, write bool) byte {
	switch {
	case !write:
		return CommandRead
	case d.IsBitNative():
		return CommandBitWrite
	default:
		return CommandWrite
	}
}

// AppendRequest appends the binary frame of req to dst and returns the extended slice.
//
// The header carries the request-aligned offset for reads and the exact offset for writes.
// Write requests are followed by their payload.
func AppendRequest(dst []byte, req *Request, write bool, opts CodecOptions) []byte {
	var hdr [HeaderSize]byte
	hdr[0] = Command(req.Device, write)
	hdr[1] = subHeader

	area := uint16(req.Device.Area())
	offset := uint32(req.Offset) //nolint:gosec
	if opts.ASCII {
		binary.BigEndian.PutUint16(hdr[2:4], opts.MonitoringTime)
		binary.BigEndian.PutUint16(hdr[4:6], area)
		binary.BigEndian.PutUint32(hdr[6:10], offset)
	} else {
		binary.LittleEndian.PutUint16(hdr[2:4], opts.MonitoringTime)
		binary.LittleEndian.PutUint32(hdr[4:8], offset)
		binary.LittleEndian.PutUint16(hdr[8:10], area)
	}
	hdr[10] = byte(req.Count(write)) //nolint:gosec
	hdr[11] = 0

	dst = append(dst, hdr[:]...)
	if write {
		dst = append(dst, req.payload...)
	}

	return dst
}

// RequestFrame is a parsed request header.
type RequestFrame struct {
	Command        byte
	MonitoringTime uint16
	Area           Area
	Offset         uint32
	// Count is the number of points for bit writes, words otherwise.
	Count   int
	Payload []byte
}

// ParseRequestFrame parses a binary request frame, the inverse of AppendRequest.
// Frames sent in ASCII mode must be passed through Binarize first.
func ParseRequestFrame(frame []byte, ascii bool) (*RequestFrame, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrInvalidFrame, len(frame), HeaderSize)
	}
	if frame[1] != subHeader || frame[11] != 0 {
		return nil, fmt.Errorf("%w: bad sub header 0x%02X or reserved byte 0x%02X", ErrInvalidFrame, frame[1], frame[11])
	}

	rf := &RequestFrame{
		Command: frame[0],
		Count:   int(frame[10]),
		Payload: frame[HeaderSize:],
	}
	if rf.Count == 0 {
		rf.Count = 256
	}
	if ascii {
		rf.MonitoringTime = binary.BigEndian.Uint16(frame[2:4])
		rf.Area = Area(binary.BigEndian.Uint16(frame[4:6]))
		rf.Offset = binary.BigEndian.Uint32(frame[6:10])
	} else {
		rf.MonitoringTime = binary.LittleEndian.Uint16(frame[2:4])
		rf.Offset = binary.LittleEndian.Uint32(frame[4:8])
		rf.Area = Area(binary.LittleEndian.Uint16(frame[8:10]))
	}

	switch rf.Command {
	case CommandRead:
		if len(rf.Payload) != 0 {
			return nil, fmt.Errorf("%w: read request with %d payload bytes", ErrInvalidFrame, len(rf.Payload))
		}
	case CommandBitWrite:
		if want := util.CeilDiv(rf.Count, 2); len(rf.Payload) != want {
			return nil, fmt.Errorf("%w: bit write payload %d bytes, want %d", ErrInvalidFrame, len(rf.Payload), want)
		}
	case CommandWrite:
		if len(rf.Payload) == 0 || len(rf.Payload)%2 != 0 {
			return nil, fmt.Errorf("%w: word write payload %d bytes", ErrInvalidFrame, len(rf.Payload))
		}
	default:
		return nil, fmt.Errorf("%w: unknown command 0x%02X", ErrInvalidFrame, rf.Command)
	}

	return rf, nil
}

// checkReply validates the reply marker and end code. A nil reply means the request timed out.
func checkReply(data []byte, write bool) error {
	if data == nil {
		return ErrTimeout
	}
	if len(data) < 2 {
		return fmt.Errorf("%w: reply of %d bytes", ErrProtocol, len(data))
	}
	if write {
		if data[0] != ReplyBitWrite && data[0] != ReplyWrite {
			return fmt.Errorf("%w: unexpected write reply marker 0x%02X", ErrProtocol, data[0])
		}
	} else if data[0] != ReplyRead {
		return fmt.Errorf("%w: unexpected read reply marker 0x%02X", ErrProtocol, data[0])
	}
	if data[1] != EndCodeOK {
		re := &ReplyError{Command: data[0], EndCode: data[1]}
		if len(data) > 2 {
			re.AbnormalCode = data[2]
		}

		return re
	}

	return nil
}

// DecodeReadReply checks a read reply for req and stages its payload and quality.
//
// data is the binary reply, nil when the request timed out. On failure every byte of the
// request is painted QualityBad and the returned error is also kept on the request.
func DecodeReadReply(data []byte, req *Request) error {
	req.data = make([]byte, req.ByteLength)
	req.quality = make([]byte, req.ByteLength)

	err := checkReply(data, false)
	if err == nil && len(data)-2 != req.ByteLength {
		err = fmt.Errorf("%w: payload of %d bytes, want %d", ErrProtocol, len(data)-2, req.ByteLength)
	}
	req.err = err
	if err != nil {
		util.Fill(req.quality, byte(QualityBad))
		return err
	}

	copy(req.data, data[2:])
	util.Fill(req.quality, byte(QualityOK))

	return nil
}

// DecodeWriteReply checks a write reply for req. data is nil when the request timed out.
func DecodeWriteReply(data []byte, req *Request) error {
	err := checkReply(data, true)
	if err == nil && len(data) != 2 {
		err = fmt.Errorf("%w: write reply of %d bytes, want 2", ErrProtocol, len(data))
	}
	req.err = err

	return err
}

// EncodeWriteValue converts it.WriteValue into the item's write buffer.
//
// Bit devices pack one point per nibble, the first point of each byte in the high nibble.
// Word devices write elements in little-endian order, or in ASCII byte order when ascii
// is true. The returned buffer is padded to an even length; only ByteLengthWrite bytes are
// sent.
func EncodeWriteValue(it *Item, ascii bool) ([]byte, error) {
	if it.DataType == TypeBit && !it.Device.IsBitNative() {
		return nil, fmt.Errorf("%w: writing single bits of word device %s", ErrValidation, it.Addr)
	}

	buf := make([]byte, it.byteLengthWrite+it.byteLengthWrite%2)

	if it.DataType == TypeChar {
		s, err := toText(it.WriteValue)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidWriteValue, it.Addr, err)
		}
		for i := 0; i < min(len(s), it.ArrayLength); i++ {
			pos := i
			if ascii {
				pos = i ^ 1
			}
			buf[pos] = s[i]
		}

		return buf, nil
	}

	values, err := writeValues(it.WriteValue, it.ArrayLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidWriteValue, it.Addr, err)
	}

	ptr := 0
	for idx, v := range values {
		if it.DataType == TypeBit {
			on, err := toBool(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %w", ErrInvalidWriteValue, it.Addr, idx, err)
			}
			if on {
				if idx%2 == 0 {
					buf[ptr] |= 0x10
				} else {
					buf[ptr] |= 0x01
				}
			}
			if idx%2 == 1 {
				ptr++
			}

			continue
		}

		f, err := toFloat64(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %w", ErrInvalidWriteValue, it.Addr, idx, err)
		}
		switch it.DataType {
		case TypeReal:
			putUint32(buf[ptr:], math.Float32bits(float32(f)), ascii)
		case TypeDInt:
			putUint32(buf[ptr:], uint32(int32(f)), ascii) //nolint:gosec
		case TypeDWord:
			putUint32(buf[ptr:], uint32(f), ascii)
		case TypeInt:
			putUint16(buf[ptr:], uint16(int16(f)), ascii) //nolint:gosec
		case TypeWord:
			putUint16(buf[ptr:], uint16(f), ascii)
		case TypeByte:
			pos := ptr
			if ascii {
				pos = ptr ^ 1
			}
			buf[pos] = uint8(f)
		default:
			return nil, fmt.Errorf("%w: %s: unsupported data type %s", ErrInvalidWriteValue, it.Addr, it.DataType)
		}
		ptr += it.dtypeLen
	}

	return buf, nil
}

func putUint16(b []byte, v uint16, ascii bool) {
	if ascii {
		binary.BigEndian.PutUint16(b, v)
		return
	}
	binary.LittleEndian.PutUint16(b, v)
}

func putUint32(b []byte, v uint32, ascii bool) {
	if ascii {
		// low word first, each word big-endian
		b[0], b[1], b[2], b[3] = byte(v>>8), byte(v), byte(v>>24), byte(v>>16)
		return
	}
	binary.LittleEndian.PutUint32(b, v)
}

// writeValues spreads a scalar or a slice/array write value into exactly n elements.
func writeValues(v any, n int) ([]any, error) {
	if v == nil {
		return nil, errors.New("nil value")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		if n != 1 {
			return nil, fmt.Errorf("scalar %T for %d elements", v, n)
		}

		return []any{v}, nil
	}
	if rv.Len() != n {
		return nil, fmt.Errorf("%d values for %d elements", rv.Len(), n)
	}
	values := make([]any, n)
	for i := range values {
		values[i] = rv.Index(i).Interface()
	}

	return values, nil
}

func toFloat64(v any) (float64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() { //nolint:exhaustive
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}

		return 0, nil
	}

	return 0, fmt.Errorf("%T is not numeric", v)
}

func toBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return false, err
	}

	return f != 0, nil
}

func toText(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}

	return "", fmt.Errorf("%T is not text", v)
}
