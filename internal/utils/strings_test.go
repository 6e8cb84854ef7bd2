package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPadInt(t *testing.T) {
	assert.Equal(t, "007", PadInt(7, 3))
	assert.Equal(t, "042", PadInt(42, 3))
	assert.Equal(t, "1234", PadInt(1234, 3))
	assert.Equal(t, "5", PadInt(5, 0))
}
