// ABOUTME: Sample conversion between the supported PCM formats
// ABOUTME: All conversions pass through int16 or float64 intermediates
package pcm

import (
	"encoding/binary"
	"math"
)

// WriteSample encodes one normalized sample (in [-1, +1]) into dst and
// returns the remaining slice. dst must have room for one sample.
func WriteSample(dst []byte, f SampleFormat, v float64) []byte {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	switch f {
	case S8:
		dst[0] = byte(int8(v * 127))
		return dst[1:]
	case U8:
		dst[0] = byte(int(v*127) + 128)
		return dst[1:]
	case S16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v*32767)))
		return dst[2:]
	case S24:
		s := int32(v * 8388607)
		binary.LittleEndian.PutUint32(dst, uint32(s))
		return dst[4:]
	case F32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
		return dst[4:]
	}
	return dst
}

// WriteSampleInt16 encodes one int16 sample into dst and returns the
// remaining slice.
func WriteSampleInt16(dst []byte, f SampleFormat, v int16) []byte {
	switch f {
	case S8:
		dst[0] = byte(int8(v >> 8))
		return dst[1:]
	case U8:
		dst[0] = byte(int(v>>8) + 128)
		return dst[1:]
	case S16:
		binary.LittleEndian.PutUint16(dst, uint16(v))
		return dst[2:]
	case S24:
		binary.LittleEndian.PutUint32(dst, uint32(int32(v)<<8))
		return dst[4:]
	case F32:
		binary.LittleEndian.PutUint32(dst,
			math.Float32bits(float32(v)/32768))
		return dst[4:]
	}
	return dst
}

// ReadSampleInt16 decodes one sample from src as int16 and returns the
// remaining slice.
func ReadSampleInt16(src []byte, f SampleFormat) (int16, []byte) {
	switch f {
	case S8:
		return int16(int8(src[0])) << 8, src[1:]
	case U8:
		return int16(int(src[0])-128) << 8, src[1:]
	case S16:
		return int16(binary.LittleEndian.Uint16(src)), src[2:]
	case S24:
		s := int32(binary.LittleEndian.Uint32(src))
		return int16(s >> 8), src[4:]
	case F32:
		v := math.Float32frombits(binary.LittleEndian.Uint32(src))
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		return int16(v * 32767), src[4:]
	}
	return 0, src
}

// BytesToInt16 decodes interleaved samples from src into dst. Returns
// the number of samples decoded; dst must hold len(src)/bytesPerSample
// samples.
func BytesToInt16(dst []int16, src []byte, f SampleFormat) int {
	n := len(src) / f.BytesPerSample()
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i], src = ReadSampleInt16(src, f)
	}
	return n
}

// Int16ToBytes encodes interleaved int16 samples into dst. dst must
// hold len(src)*bytesPerSample bytes.
func Int16ToBytes(dst []byte, src []int16, f SampleFormat) {
	for _, v := range src {
		dst = WriteSampleInt16(dst, f, v)
	}
}
