package mc

import (
	"errors"
	"fmt"
)

var (
	// ErrAddressResolution indicates an unsupported device prefix or malformed address text.
	ErrAddressResolution = errors.New("address resolution failed")

	// ErrValidation indicates a syntactically valid address that can't be served,
	// e.g. a counter array straddling the 16/32-bit boundary at CN200.
	ErrValidation = errors.New("address validation failed")

	// ErrInvalidWriteValue indicates a write value that can't be converted to the item's data type.
	ErrInvalidWriteValue = errors.New("invalid write value")
)

var (
	// ErrProtocol indicates an unexpected reply marker, a non-zero end code or a wrong payload length.
	ErrProtocol = errors.New("protocol error")

	// ErrTimeout indicates that no reply arrived within the reply timeout.
	ErrTimeout = errors.New("reply timeout")

	// ErrTranscoding indicates an ASCII payload with odd length or non-hex characters.
	ErrTranscoding = errors.New("invalid ascii hex payload")

	// ErrInvalidFrame indicates a request frame that doesn't follow the 1E header layout.
	ErrInvalidFrame = errors.New("invalid request frame")

	// ErrBlockNotPopulated indicates an attempt to read item values before every request
	// of the owning block has completed.
	ErrBlockNotPopulated = errors.New("block buffer not populated")
)

// ReplyError is returned for replies carrying a non-zero end code.
type ReplyError struct {
	// Command is the reply marker, e.g. 0x81 for a read reply.
	Command byte
	// EndCode is the completion code, 0x00 on success.
	EndCode byte
	// AbnormalCode is the detail code sent after end code 0x5B, zero otherwise.
	AbnormalCode byte
}

func (e *ReplyError) Error() string {
	if e.EndCode == EndCodeAbnormal {
		return fmt.Sprintf("reply 0x%02X failed with end code 0x%02X, abnormal code 0x%02X", e.Command, e.EndCode, e.AbnormalCode)
	}

	return fmt.Sprintf("reply 0x%02X failed with end code 0x%02X", e.Command, e.EndCode)
}

// Unwrap makes errors.Is(err, ErrProtocol) hold for reply errors.
func (e *ReplyError) Unwrap() error {
	return ErrProtocol
}
