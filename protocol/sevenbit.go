package protocol

import "errors"

var (
	ErrBufferTooSmall = errors.New("buffer too small for 7-bit value")
	ErrOddLength      = errors.New("7-bit byte sequence has odd length")
	ErrValueRange     = errors.New("value does not fit in 14 bits")
)

// EncodeUint14 writes v as two 7-bit data bytes, least significant first
func EncodeUint14(output OutputBuffer, v uint16) error {
	if v > 0x3FFF {
		return ErrValueRange
	}
	output.Output([]byte{byte(v & 0x7F), byte((v >> 7) & 0x7F)})
	return nil
}

// DecodeUint14 decodes a two-byte 7-bit value from the data slice
// The data slice is advanced past the consumed bytes
func DecodeUint14(data *[]byte) (uint16, error) {
	if len(*data) < 2 {
		return 0, ErrBufferTooSmall
	}
	v := uint16((*data)[0]&0x7F) | uint16((*data)[1]&0x7F)<<7
	*data = (*data)[2:]
	return v, nil
}

// EncodeSevenBitBytes splits every byte into two 7-bit data bytes
func EncodeSevenBitBytes(output OutputBuffer, data []byte) {
	for _, b := range data {
		output.Output([]byte{b & 0x7F, b >> 7})
	}
}

// DecodeSevenBitBytes joins 7-bit pairs back into bytes
func DecodeSevenBitBytes(data []byte) ([]byte, error) {
	if len(data)%2 != 0 {
		return nil, ErrOddLength
	}
	result := make([]byte, 0, len(data)/2)
	for len(data) > 0 {
		v, err := DecodeUint14(&data)
		if err != nil {
			return nil, err
		}
		result = append(result, byte(v))
	}
	return result, nil
}

// DecodeSevenBitString decodes a string sent as 7-bit pairs
func DecodeSevenBitString(data []byte) (string, error) {
	b, err := DecodeSevenBitBytes(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
