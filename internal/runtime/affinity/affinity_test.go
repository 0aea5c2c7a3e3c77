package affinity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_None(t *testing.T) {
	b, warn := Parse("none", 4)
	assert.Empty(t, warn)
	assert.Equal(t, -1, b.CoreFor(0))
}

func TestParse_SingleCoreAppliesToAll(t *testing.T) {
	b, warn := Parse("3", 4)
	assert.Empty(t, warn)
	for i := 0; i < 4; i++ {
		assert.Equal(t, 3, b.CoreFor(i))
	}
}

func TestParse_ExplicitListCyclesToFillWorkers(t *testing.T) {
	b, warn := Parse("0,2", 4)
	assert.Empty(t, warn)
	assert.Equal(t, []int{0, 2, 0, 2}, b.Cores)
}

func TestParse_Invalid_Degrades(t *testing.T) {
	b, warn := Parse("not-a-core", 2)
	assert.NotEmpty(t, warn)
	assert.Equal(t, -1, b.CoreFor(0))
}
