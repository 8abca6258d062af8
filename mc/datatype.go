package mc

import "fmt"

// DataType is the element interpretation of an item.
type DataType uint8

const (
	// TypeBit is a single bit, either a bit device point or a bit inside a word register.
	TypeBit DataType = iota + 1
	// TypeByte is a raw byte. Requests degrade to it when a block is split.
	TypeByte
	// TypeChar is a character of a string stored in registers.
	TypeChar
	// TypeInt is a signed 16-bit integer.
	TypeInt
	// TypeWord is an unsigned 16-bit integer.
	TypeWord
	// TypeDInt is a signed 32-bit integer.
	TypeDInt
	// TypeDWord is an unsigned 32-bit integer.
	TypeDWord
	// TypeReal is an IEEE 754 single precision float.
	TypeReal
)

var dataTypeNames = map[DataType]string{
	TypeBit:   "X",
	TypeByte:  "BYTE",
	TypeChar:  "CHAR",
	TypeInt:   "INT",
	TypeWord:  "WORD",
	TypeDInt:  "DINT",
	TypeDWord: "DWORD",
	TypeReal:  "REAL",
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("DataType(%d)", uint8(t))
}

// Size returns the number of buffer bytes one element occupies. Bits are carried in 16-bit words.
func (t DataType) Size() int {
	switch t {
	case TypeByte, TypeChar:
		return 1
	case TypeDInt, TypeDWord, TypeReal:
		return 4
	default:
		return 2
	}
}

// BadValue returns the value reported for an element with BAD quality.
func (t DataType) BadValue() any {
	switch t {
	case TypeBit:
		return false
	case TypeByte:
		return uint8(0)
	case TypeChar:
		return ""
	case TypeInt:
		return int16(0)
	case TypeWord:
		return uint16(0)
	case TypeDInt:
		return int32(0)
	case TypeDWord:
		return uint32(0)
	case TypeReal:
		return float32(0)
	default:
		return nil
	}
}

// Quality is the status of a decoded value or a write result, independent of the value.
type Quality uint8

const (
	// QualityOK marks bytes covered by a successful reply.
	QualityOK Quality = 0xC0
	// QualityBad marks bytes whose reply failed, timed out or was malformed.
	QualityBad Quality = 0xFF
)

// IsOK reports whether q is QualityOK.
func (q Quality) IsOK() bool { return q == QualityOK }

func (q Quality) String() string {
	if q == QualityOK {
		return "OK"
	}

	return "BAD"
}
