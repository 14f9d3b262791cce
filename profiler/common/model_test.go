package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfile_WriteFolded(t *testing.T) {
	p := &Profile{Type: ProfileTypeCPU, Stacks: map[string]int64{"c": 2, "a;b": 8, "a": 1}}
	buf := &bytes.Buffer{}
	require.NoError(t, p.WriteFolded(buf))
	assert.Equal(t, "a 1\na;b 8\nc 2\n", buf.String())
	assert.Equal(t, int64(11), p.Total())
	assert.False(t, p.Empty())
}

func TestProfile_Empty(t *testing.T) {
	var p *Profile
	assert.True(t, p.Empty())
	p = &Profile{Stacks: map[string]int64{}}
	assert.True(t, p.Empty())

	buf := &bytes.Buffer{}
	require.NoError(t, p.WriteFolded(buf))
	assert.Zero(t, buf.Len())
}

func TestProfileType(t *testing.T) {
	for _, pt := range AllProfileTypes {
		got, ok := FromString(pt.ToString())
		assert.True(t, ok)
		assert.Equal(t, pt, got)
	}
	_, ok := FromString("block")
	assert.False(t, ok)
	assert.Equal(t, "bytes", ProfileTypeHeap.Units())
	assert.Equal(t, "samples", ProfileTypeCPU.Units())
}
