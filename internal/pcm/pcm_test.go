// ABOUTME: Tests for PCM formats and sample conversion
// ABOUTME: Conversion checks pin the byte-level encoding of each format
package pcm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSampleFormat(t *testing.T) {
	for name, want := range map[string]SampleFormat{
		"s8": S8, "u8": U8, "s16": S16, "s24": S24, "f32": F32,
	} {
		got, err := ParseSampleFormat(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, name, got.String())
	}
	_, err := ParseSampleFormat("dsd")
	assert.Error(t, err)
}

func TestFormatSizes(t *testing.T) {
	f := Format{Sample: S16, Rate: 44100, Channels: Stereo}
	assert.Equal(t, 4, f.BytesPerFrame())
	assert.Equal(t, 4, S24.BytesPerSample())
	assert.Equal(t, 24, S24.EffectiveBits())
	assert.Equal(t, 22050, f.DurationToFrames(0.5))
	assert.InDelta(t, 0.5, f.FramesToDuration(22050), 1e-9)
	assert.Equal(t, "s16/44100/stereo", f.String())
}

func TestChannelLayout(t *testing.T) {
	assert.Equal(t, 1, Mono.Count())
	assert.Equal(t, 2, Stereo.Count())
	ch, err := ParseChannelLayout("mono")
	require.NoError(t, err)
	assert.Equal(t, Mono, ch)
	_, err = ParseChannelLayout("5.1")
	assert.Error(t, err)
}

func TestSampleRoundTrip(t *testing.T) {
	for _, f := range []SampleFormat{S8, U8, S16, S24, F32} {
		for _, v := range []int16{-32768, -12345, 0, 1, 12345, 32767} {
			buf := make([]byte, f.BytesPerSample())
			WriteSampleInt16(buf, f, v)
			got, rest := ReadSampleInt16(buf, f)
			assert.Empty(t, rest)

			// 8-bit formats only keep the high byte.
			tolerance := int32(1)
			if shift := 16 - f.EffectiveBits(); shift > 0 {
				tolerance = int32(1) << shift
			}
			assert.LessOrEqual(t, abs32(int32(got)-int32(v)), tolerance,
				"%s %d -> %d", f, v, got)
		}
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func TestWriteSampleClamps(t *testing.T) {
	buf := make([]byte, 2)
	WriteSample(buf, S16, 2.0)
	v, _ := ReadSampleInt16(buf, S16)
	assert.Equal(t, int16(32767), v)
	WriteSample(buf, S16, -2.0)
	v, _ = ReadSampleInt16(buf, S16)
	assert.Equal(t, int16(-32767), v)
}

func TestBytesToInt16(t *testing.T) {
	src := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80}
	dst := make([]int16, 3)
	n := BytesToInt16(dst, src, S16)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int16{1, 32767, -32768}, dst)

	out := make([]byte, 6)
	Int16ToBytes(out, dst, S16)
	assert.Equal(t, src, out)
}

func TestCodecMIME(t *testing.T) {
	assert.Equal(t, "audio/mpeg", CodecMP3.MIME())
	assert.Equal(t, "application/ogg", CodecOggOpus.MIME())
	assert.Equal(t, "ogg-opus", CodecOggOpus.String())
}

func TestStreamFormatVariants(t *testing.T) {
	var sf StreamFormat = PCMStreamFormat{
		Format: Format{Sample: S16, Rate: 48000, Channels: Stereo},
	}
	_, ok := sf.(PCMStreamFormat)
	assert.True(t, ok)

	sf = EncodedStreamFormat{Codec: CodecOggVorbis}
	enc, ok := sf.(EncodedStreamFormat)
	require.True(t, ok)
	assert.Equal(t, CodecOggVorbis, enc.Codec)
}
