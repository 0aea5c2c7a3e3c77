package vpmap

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Flat(t *testing.T) {
	spec, warn := Parse("flat", 4)
	assert.Empty(t, warn)
	assert.Len(t, spec.VPs, 4)
	for i, vp := range spec.VPs {
		assert.Equal(t, []int{i}, vp)
	}
}

func TestParse_Hwloc_DegradesWithWarning(t *testing.T) {
	spec, warn := Parse("hwloc", 2)
	assert.NotEmpty(t, warn)
	assert.Len(t, spec.VPs, 2)
}

func TestParse_RoundRobin(t *testing.T) {
	spec, warn := Parse("rr:2:3:6", 6)
	require.Empty(t, warn)
	require.Len(t, spec.VPs, 2)
	assert.Len(t, spec.VPs[0], 3)
	assert.Equal(t, []int{0, 1, 2}, spec.VPs[0])
	assert.Equal(t, []int{3, 4, 5}, spec.VPs[1])
}

func TestParse_RoundRobin_Malformed_Degrades(t *testing.T) {
	spec, warn := Parse("rr:x:y", 4)
	assert.NotEmpty(t, warn)
	assert.Len(t, spec.VPs, 4)
}

func TestParse_File(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "vpmap")
	require.NoError(t, err)
	_, err = f.WriteString("0,1\n2,3\n")
	require.NoError(t, err)
	f.Close()

	spec, warn := Parse("file:"+f.Name(), 4)
	require.Empty(t, warn)
	assert.Equal(t, [][]int{{0, 1}, {2, 3}}, spec.VPs)
}

func TestParse_UnknownGrammar_Degrades(t *testing.T) {
	spec, warn := Parse("bogus", 2)
	assert.NotEmpty(t, warn)
	assert.Len(t, spec.VPs, 2)
}
