package mc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		addr       string
		octal      bool
		device     Device
		dataType   DataType
		offset     int
		bitOffset  int
		arrayLen   int
		remainder  int
		reqOffset  int
		byteLength int
		writeLen   int
	}{
		{"D100", false, DeviceD, TypeInt, 100, 0, 1, 0, 100, 2, 2},
		{"d100,5", false, DeviceD, TypeInt, 100, 0, 5, 0, 100, 10, 10},
		{"D100.3", false, DeviceD, TypeBit, 100, 3, 1, 0, 100, 2, 2},
		{"D100/15,2", false, DeviceD, TypeBit, 100, 15, 2, 0, 100, 4, 4},
		{"DFLOAT200", false, DeviceD, TypeReal, 200, 0, 1, 0, 200, 4, 4},
		{"DDINT10,3", false, DeviceD, TypeDInt, 10, 0, 3, 0, 10, 12, 12},
		{"DSTR300,5", false, DeviceD, TypeChar, 300, 0, 5, 0, 300, 6, 6},
		{"RFLOAT0", false, DeviceR, TypeReal, 0, 0, 1, 0, 0, 4, 4},
		{"RDINT4", false, DeviceR, TypeDInt, 4, 0, 1, 0, 4, 4, 4},
		{"RSTR8,4", false, DeviceR, TypeChar, 8, 0, 4, 0, 8, 4, 4},
		{"TN5", false, DeviceTN, TypeInt, 5, 0, 1, 0, 5, 2, 2},
		{"CN10,4", false, DeviceCN, TypeInt, 10, 0, 4, 0, 10, 8, 8},
		{"CN200", false, DeviceCN, TypeDInt, 200, 0, 1, 0, 200, 4, 4},
		{"CN210,3", false, DeviceCN, TypeDInt, 210, 0, 3, 0, 210, 12, 12},
		{"TS3", false, DeviceTS, TypeBit, 3, 0, 1, 3, 0, 2, 1},
		{"CS20,4", false, DeviceCS, TypeBit, 20, 0, 4, 4, 16, 2, 2},
		{"M0", false, DeviceM, TypeBit, 0, 0, 1, 0, 0, 2, 1},
		{"M200,10", false, DeviceM, TypeBit, 200, 0, 10, 8, 192, 4, 5},
		{"S15,2", false, DeviceS, TypeBit, 15, 0, 2, 15, 0, 4, 1},
		{"X10,20", false, DeviceX, TypeBit, 10, 0, 20, 10, 0, 4, 10},
		{"X17", true, DeviceX, TypeBit, 15, 0, 1, 15, 0, 2, 1},
		{"Y20", true, DeviceY, TypeBit, 16, 0, 1, 0, 16, 2, 1},
		{"X18", true, DeviceX, TypeBit, 18, 0, 1, 2, 16, 2, 1},
		{"M17", true, DeviceM, TypeBit, 17, 0, 1, 1, 16, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			require := require.New(t)

			it, err := ParseAddress(tt.addr, tt.octal)
			require.NoError(err)
			require.Equal(tt.addr, it.Alias)
			require.Equal(tt.device, it.Device)
			require.Equal(tt.dataType, it.DataType)
			require.Equal(tt.offset, it.Offset)
			require.Equal(tt.bitOffset, it.BitOffset)
			require.Equal(tt.arrayLen, it.ArrayLength)
			require.Equal(tt.remainder, it.Remainder())
			require.Equal(tt.reqOffset, it.RequestOffset())
			require.Equal(tt.byteLength, it.ByteLength())
			require.Equal(tt.writeLen, it.ByteLengthWrite())
			require.Equal(tt.byteLength/2, it.WordLength())
		})
	}
}

func TestParseAddressErrors(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr error
	}{
		{"", ErrAddressResolution},
		{"Q100", ErrAddressResolution},
		{"D", ErrAddressResolution},
		{"D10.2.3", ErrAddressResolution},
		{"D-1", ErrAddressResolution},
		{"M0.1", ErrAddressResolution},
		{"DFLOAT0.1", ErrAddressResolution},
		{"D99999999999", ErrAddressResolution},
		{"D100.16", ErrValidation},
		{"D100,0", ErrValidation},
		{"CN195,10", ErrValidation},
		{"CN199,2", ErrValidation},
		{"CN200.1", ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			it, err := ParseAddress(tt.addr, true)
			require.ErrorIs(t, err, tt.wantErr)
			require.Nil(t, it)
		})
	}
}

func TestParseAddressCounterBoundary(t *testing.T) {
	require := require.New(t)

	it, err := ParseAddress("CN190,10", false)
	require.NoError(err)
	require.Equal(10, it.MaxWordLength(false))

	it, err = ParseAddress("CN100", false)
	require.NoError(err)
	require.Equal(64, it.MaxWordLength(false))

	it, err = ParseAddress("CN250", false)
	require.NoError(err)
	require.Equal(32, it.MaxWordLength(true))

	it, err = ParseAddress("M0", false)
	require.NoError(err)
	require.Equal(16, it.MaxWordLength(false))
	require.Equal(40, it.MaxWordLength(true))
}

func TestItemClone(t *testing.T) {
	require := require.New(t)

	it, err := ParseAddress("D0,2", false)
	require.NoError(err)
	blocks := BuildReadBlocks([]*Item{it}, OptimizeOptions{MaxGap: DefaultMaxGap})
	require.NoError(DecodeReadReply([]byte{0x81, 0x00, 0x01, 0x00, 0x02, 0x00}, blocks[0].Requests[0]))
	blocks[0].Reassemble()
	blocks[0].ExtractItems(false)

	clone := it.Clone()
	require.Equal([]int16{1, 2}, clone.Value())
	require.Nil(clone.view.block)

	clone.Value().([]int16)[0] = 99
	clone.qualities[0] = QualityBad
	require.Equal([]int16{1, 2}, it.Value())
	require.Equal(QualityOK, it.Quality())
}
