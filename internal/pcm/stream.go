// ABOUTME: Stream format tagged union
// ABOUTME: Either a raw PCM format or an encoded format identified by codec
package pcm

// Codec tags the encoded stream formats the relay can carry.
type Codec int

const (
	CodecMP3 Codec = iota
	CodecOggVorbis
	CodecOggOpus
	CodecOggFlac
)

func (c Codec) String() string {
	switch c {
	case CodecMP3:
		return "mp3"
	case CodecOggVorbis:
		return "ogg-vorbis"
	case CodecOggOpus:
		return "ogg-opus"
	case CodecOggFlac:
		return "ogg-flac"
	}
	return "unknown"
}

// MIME returns the content type served for the codec.
func (c Codec) MIME() string {
	if c == CodecMP3 {
		return "audio/mpeg"
	}
	return "application/ogg"
}

// StreamFormat describes the byte stream an encoder emits: either raw
// PCM or an encoded format identified by its codec tag.
type StreamFormat interface {
	streamFormat()
}

// PCMStreamFormat is a raw PCM stream.
type PCMStreamFormat struct {
	Format
}

func (PCMStreamFormat) streamFormat() {}

// EncodedStreamFormat is a codec-tagged encoded stream.
type EncodedStreamFormat struct {
	Codec Codec
}

func (EncodedStreamFormat) streamFormat() {}
