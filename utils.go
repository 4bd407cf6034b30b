package gombot

import "math"

// DecodeFloat rebuilds the single precision value the firmware serializes,
// with b0 being the most significant byte. Every bit pattern maps to a value;
// the all-ones exponent goes through the same formula as any other.
func DecodeFloat(b0, b1, b2, b3 byte) float64 {
	bits := uint32(b0)<<24 | uint32(b1)<<16 | uint32(b2)<<8 | uint32(b3)

	sign := 1.0
	if bits>>31 != 0 {
		sign = -1.0
	}
	exp := int(bits>>23) & 0xFF

	var mant uint32
	if exp == 0 {
		mant = (bits & 0x7FFFFF) << 1
	} else {
		mant = (bits & 0x7FFFFF) | 0x800000
	}

	// 150 = 127 bias + 23 mantissa bits
	return sign * math.Ldexp(float64(mant), exp-150)
}

// DecodeFloatLE decodes the first four bytes of content as they arrive on the
// wire, least significant first.
func DecodeFloatLE(content []byte) float64 {
	return DecodeFloat(content[3], content[2], content[1], content[0])
}

// RoundReading rounds a sensor value to two decimals.
func RoundReading(v float64) float64 {
	return math.Round(v*100) / 100
}

// BytesToInt combines two bytes, high byte first.
func BytesToInt(hi, lo byte) int {
	return int(hi)<<8 | int(lo)
}

// SignedBytesToInt is BytesToInt read as a two's complement 16-bit value.
func SignedBytesToInt(hi, lo byte) int {
	return int(int16(BytesToInt(hi, lo)))
}
