// ABOUTME: Tests for ordered metadata and the out-of-band payload codecs
// ABOUTME: Covers case-insensitive lookup and truncated payload handling
package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCaseInsensitive(t *testing.T) {
	m := Metadata{{Key: "Title", Value: "A"}, {Key: "ARTIST", Value: "B"}}

	v, ok := m.Get("title")
	require.True(t, ok)
	assert.Equal(t, "A", v)
	v, ok = m.Get("Artist")
	require.True(t, ok)
	assert.Equal(t, "B", v)
	_, ok = m.Get("album")
	assert.False(t, ok)
}

func TestGetFirstWins(t *testing.T) {
	m := Metadata{{Key: "title", Value: "first"}, {Key: "TITLE", Value: "second"}}
	v, _ := m.Get("title")
	assert.Equal(t, "first", v)
}

func TestSet(t *testing.T) {
	var m Metadata
	m.Set("title", "A")
	m.Set("Title", "B")
	require.Len(t, m, 1)
	assert.Equal(t, "title", m[0].Key)
	assert.Equal(t, "B", m[0].Value)

	m.Set("artist", "C")
	require.Len(t, m, 2)
}

func TestCloneIndependence(t *testing.T) {
	m := Metadata{{Key: "title", Value: "A"}}
	c := m.Clone()
	c.Set("title", "B")
	v, _ := m.Get("title")
	assert.Equal(t, "A", v)
	assert.Nil(t, Metadata(nil).Clone())
}

func TestOOBRoundTrip(t *testing.T) {
	m := Metadata{
		{Key: "title", Value: "Some = Song"},
		{Key: "artist", Value: "Somebody"},
	}
	decoded, err := DecodeOOB(EncodeOOB(m))
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestOOBBadMagic(t *testing.T) {
	_, err := DecodeOOB([]byte("XXXXtitle=a\x00"))
	assert.Error(t, err)
}

func TestOOBTruncated(t *testing.T) {
	payload := EncodeOOB(Metadata{
		{Key: "title", Value: "A"},
		{Key: "artist", Value: "B"},
	})
	// Chop the terminator off the last record; only the fully parsed
	// pairs survive.
	decoded, err := DecodeOOB(payload[:len(payload)-1])
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "title", decoded[0].Key)
}

func TestOOBCommandRoundTrip(t *testing.T) {
	raw := []byte(`{"cmd":"play","param":"x"}`)
	decoded, err := DecodeOOBCommand(EncodeOOBCommand(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	_, err = DecodeOOBCommand([]byte("nope"))
	assert.Error(t, err)
}
