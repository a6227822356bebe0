// ABOUTME: Tests for configuration parsing, defaults and validation
// ABOUTME: Exercises the documented schema and its error cases
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziplantil/exocaster/internal/pcm"
)

const minimalConfig = `{
	"shell": {"type": "stdio"},
	"commands": {"play": {"type": "tone"}},
	"outputs": [
		{"type": "pcm", "broca": [{"type": "discard"}]}
	]
}`

func TestParseMinimal(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "stdio", cfg.Shell.Type)
	assert.Equal(t, "tone", cfg.Commands["play"].Type)
	require.Len(t, cfg.Outputs, 1)
	assert.Equal(t, "pcm", cfg.Outputs[0].Type)
	assert.Equal(t, DefaultPacketRingSize, cfg.Outputs[0].Buffer)
	assert.Equal(t, DefaultJobQueueSize, cfg.Jobs.Queue)
	assert.Equal(t, DefaultJobWorkers, cfg.Jobs.Workers)
}

func TestPCMBufferDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	f, err := cfg.PCMBuffer.PCMFormat()
	require.NoError(t, err)
	assert.Equal(t, pcm.Format{Sample: pcm.S16, Rate: 44100, Channels: pcm.Stereo}, f)
	assert.Equal(t, 1.0, cfg.PCMBuffer.Duration)
	assert.True(t, cfg.PCMBuffer.SkipEnabled())
	assert.Equal(t, 0.1, cfg.PCMBuffer.SkipMargin)
	assert.Equal(t, 2.0, cfg.PCMBuffer.SkipFactor)
	// One second of s16 stereo at 44100.
	assert.Equal(t, 44100*4, cfg.PCMBuffer.BufferBytes())
}

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"shell": {"type": "file", "config": {"file": "/tmp/in"}},
		"publish": [{"type": "file", "config": {"file": "/tmp/out"}}],
		"commands": {
			"play": {"type": "mp3"},
			"beep": {"type": "tone", "config": {"frequency": 440}}
		},
		"pcmbuffer": {
			"format": "f32", "samplerate": 48000, "channels": "mono",
			"duration": 0.5, "skip": false
		},
		"resampler": {"type": "linear"},
		"outputs": [
			{
				"type": "oggopus", "buffer": 4096,
				"config": {"bitrate": 96000},
				"broca": [{"type": "file", "config": {"file": "/tmp/a.opus"}}],
				"barrier": "main", "sendcommand": true
			},
			{
				"type": "pcm",
				"broca": [{"type": "discard", "config": {"wait": true}}],
				"barrier": "main", "sendmetadata": false
			}
		],
		"jobs": {"queue": 16, "workers": 4},
		"log": {"level": "debug"}
	}`))
	require.NoError(t, err)

	require.Len(t, cfg.Publish, 1)
	assert.Equal(t, "file", cfg.Publish[0].Type)
	assert.False(t, cfg.PCMBuffer.SkipEnabled())

	f, err := cfg.PCMBuffer.PCMFormat()
	require.NoError(t, err)
	assert.Equal(t, pcm.Format{Sample: pcm.F32, Rate: 48000, Channels: pcm.Mono}, f)

	require.Len(t, cfg.Outputs, 2)
	assert.Equal(t, 4096, cfg.Outputs[0].Buffer)
	assert.Equal(t, "main", cfg.Outputs[0].Barrier)
	require.NotNil(t, cfg.Outputs[0].SendCommand)
	assert.True(t, *cfg.Outputs[0].SendCommand)
	require.NotNil(t, cfg.Outputs[1].SendMetadata)
	assert.False(t, *cfg.Outputs[1].SendMetadata)

	assert.Equal(t, 16, cfg.Jobs.Queue)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestUnknownKeysIgnored(t *testing.T) {
	_, err := Parse([]byte(`{
		"shell": {"type": "stdio"},
		"commands": {"play": {"type": "tone"}},
		"outputs": [{"type": "pcm", "broca": [{"type": "discard"}]}],
		"experimental": {"whatever": 1}
	}`))
	assert.NoError(t, err)
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"missing shell": `{
			"commands": {"play": {"type": "tone"}},
			"outputs": [{"type": "pcm", "broca": [{"type": "discard"}]}]
		}`,
		"missing commands": `{
			"shell": {"type": "stdio"},
			"outputs": [{"type": "pcm", "broca": [{"type": "discard"}]}]
		}`,
		"missing outputs": `{
			"shell": {"type": "stdio"},
			"commands": {"play": {"type": "tone"}}
		}`,
		"output without broca": `{
			"shell": {"type": "stdio"},
			"commands": {"play": {"type": "tone"}},
			"outputs": [{"type": "pcm"}]
		}`,
		"negative duration": `{
			"shell": {"type": "stdio"},
			"commands": {"play": {"type": "tone"}},
			"outputs": [{"type": "pcm", "broca": [{"type": "discard"}]}],
			"pcmbuffer": {"duration": -1}
		}`,
		"negative skipmargin": `{
			"shell": {"type": "stdio"},
			"commands": {"play": {"type": "tone"}},
			"outputs": [{"type": "pcm", "broca": [{"type": "discard"}]}],
			"pcmbuffer": {"skipmargin": -0.5}
		}`,
		"s24 from config": `{
			"shell": {"type": "stdio"},
			"commands": {"play": {"type": "tone"}},
			"outputs": [{"type": "pcm", "broca": [{"type": "discard"}]}],
			"pcmbuffer": {"format": "s24"}
		}`,
		"bad channel layout": `{
			"shell": {"type": "stdio"},
			"commands": {"play": {"type": "tone"}},
			"outputs": [{"type": "pcm", "broca": [{"type": "discard"}]}],
			"pcmbuffer": {"channels": "quad"}
		}`,
		"bad discovery": `{
			"shell": {"type": "stdio"},
			"commands": {"play": {"type": "tone"}},
			"outputs": [{"type": "pcm", "broca": [{"type": "discard"}]}],
			"discovery": {"service": "_exocaster._tcp", "port": 0}
		}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
