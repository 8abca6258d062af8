package mc

import "fmt"

// Area is the 16-bit device memory family identifier carried in every request header.
type Area uint16

// Area codes of the devices reachable through the 1E frame.
const (
	AreaD  Area = 0x4420
	AreaR  Area = 0x5220
	AreaTN Area = 0x544E
	AreaTS Area = 0x5453
	AreaCN Area = 0x434E
	AreaCS Area = 0x4353
	AreaX  Area = 0x5820
	AreaY  Area = 0x5920
	AreaM  Area = 0x4D20
	AreaS  Area = 0x5320
)

// Device identifies a device memory family.
type Device uint8

const (
	// DeviceD is the data register area.
	DeviceD Device = iota + 1
	// DeviceR is the extension register area.
	DeviceR
	// DeviceTN is the timer current value area.
	DeviceTN
	// DeviceCN is the counter current value area. Counters from CN200 up hold 32-bit values.
	DeviceCN
	// DeviceTS is the timer contact area.
	DeviceTS
	// DeviceCS is the counter contact area.
	DeviceCS
	// DeviceX is the input relay area.
	DeviceX
	// DeviceY is the output relay area.
	DeviceY
	// DeviceM is the auxiliary relay area.
	DeviceM
	// DeviceS is the state relay area.
	DeviceS
)

// CounterWideOffset is the first counter number holding 32-bit values.
const CounterWideOffset = 200

type deviceInfo struct {
	name      string
	area      Area
	bitNative bool
}

var deviceTable = map[Device]deviceInfo{
	DeviceD:  {"D", AreaD, false},
	DeviceR:  {"R", AreaR, false},
	DeviceTN: {"TN", AreaTN, false},
	DeviceCN: {"CN", AreaCN, false},
	DeviceTS: {"TS", AreaTS, true},
	DeviceCS: {"CS", AreaCS, true},
	DeviceX:  {"X", AreaX, true},
	DeviceY:  {"Y", AreaY, true},
	DeviceM:  {"M", AreaM, true},
	DeviceS:  {"S", AreaS, true},
}

// String returns the device prefix, e.g. "TN".
func (d Device) String() string {
	if info, ok := deviceTable[d]; ok {
		return info.name
	}

	return fmt.Sprintf("Device(%d)", uint8(d))
}

// Area returns the area code sent on the wire for the device.
func (d Device) Area() Area {
	return deviceTable[d].area
}

// IsBitNative reports whether the device is addressed per bit and transported packed in words.
func (d Device) IsBitNative() bool {
	return deviceTable[d].bitNative
}

// MaxWordLength returns how many words one request may transfer for a device starting at offset.
//
// Registers allow 64 words. Counters from CN200 allow 32 words. Lower counters are also
// capped so a request never crosses CN200. Bit devices allow 16 words per read and 40 per write.
func MaxWordLength(d Device, offset int, write bool) int {
	switch d {
	case DeviceD, DeviceR, DeviceTN:
		return 64
	case DeviceCN:
		if offset >= CounterWideOffset {
			return 32
		}

		return max(1, min(CounterWideOffset-offset, 64))
	default:
		if write {
			return 40
		}

		return 16
	}
}

// unitBytes returns the number of bytes one offset step spans for a word device.
func unitBytes(d Device, offset int) int {
	if d == DeviceCN && offset >= CounterWideOffset {
		return 4
	}

	return 2
}
