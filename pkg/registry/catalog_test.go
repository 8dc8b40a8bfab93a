package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalog(t *testing.T) {
	strict := NewCatalog([]string{"camera", " ir_control ", ""}, true)
	assert.True(t, strict.Strict())
	assert.True(t, strict.Allows("camera"))
	assert.True(t, strict.Allows("ir_control"))
	assert.False(t, strict.Allows("Camera"))
	assert.Equal(t, []string{"camera", "ir_control"}, strict.Names())

	lenient := NewCatalog([]string{"camera"}, false)
	assert.True(t, lenient.Allows("anything"))
}
