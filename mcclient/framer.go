package mcclient

import (
	"github.com/arloliu/go-mcprotocol/mc"
)

// replyFramer cuts reply frames out of the byte stream of the outstanding request.
//
// The 1E reply has no length field. A successful reply carries the marker, the end code and
// the requested payload; an error reply stops after the end code, or after the abnormal
// code and a reserved byte for end code 0x5B. In ASCII mode each byte travels as two hex
// characters.
type replyFramer struct {
	ascii bool
	buf   []byte
}

// reset discards buffered bytes and selects the framing mode. It returns the number of
// bytes discarded.
func (f *replyFramer) reset(ascii bool) int {
	n := len(f.buf)
	f.buf = f.buf[:0]
	f.ascii = ascii

	return n
}

func (f *replyFramer) feed(data []byte) {
	f.buf = append(f.buf, data...)
}

func (f *replyFramer) buffered() int {
	return len(f.buf)
}

// next returns the binary reply frame once it is complete, or nil while more bytes are needed.
// payloadLen is the number of data bytes a successful reply carries, zero for writes.
//
// A first byte without the reply bit set can't be framed; everything buffered is returned
// so the decoder can classify it. Invalid hex text yields an error wrapping mc.ErrTranscoding.
func (f *replyFramer) next(payloadLen int) ([]byte, error) {
	unit := 1
	if f.ascii {
		unit = 2
	}
	if len(f.buf) < 2*unit {
		return nil, nil
	}

	head, err := f.decode(f.buf[:2*unit])
	if err != nil {
		return nil, err
	}

	want := 2
	switch {
	case head[0]&0x80 == 0:
		want = len(f.buf) / unit
	case head[1] == mc.EndCodeOK:
		want += payloadLen
	case head[1] == mc.EndCodeAbnormal:
		want = 4
	}

	if len(f.buf) < want*unit {
		return nil, nil
	}

	frame, err := f.decode(f.buf[:want*unit])
	if err != nil {
		return nil, err
	}
	f.buf = append(f.buf[:0], f.buf[want*unit:]...)

	return frame, nil
}

// drain empties the buffer and returns its content in binary form. Text that isn't valid
// hex is returned as received.
func (f *replyFramer) drain() []byte {
	out, err := f.decode(f.buf)
	if err != nil {
		out = append([]byte(nil), f.buf...)
	}
	f.buf = f.buf[:0]

	return out
}

func (f *replyFramer) decode(raw []byte) ([]byte, error) {
	if f.ascii {
		return mc.Binarize(raw)
	}
	out := make([]byte, len(raw))
	copy(out, raw)

	return out, nil
}
