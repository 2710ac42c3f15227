package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruthy(t *testing.T) {
	truthy := []interface{}{true, 1, int64(-1), 0.5, "x", []interface{}{1}, map[string]interface{}{"a": 1}, struct{}{}}
	falsy := []interface{}{nil, false, 0, 0.0, uint(0), "", []interface{}{}, map[string]interface{}{}}
	for _, v := range truthy {
		assert.True(t, Truthy(v), "%v", v)
	}
	for _, v := range falsy {
		assert.False(t, Truthy(v), "%v", v)
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(1, 1.0))
	assert.True(t, Equal(int64(2), uint8(2)))
	assert.True(t, Equal("a", "a"))
	assert.True(t, Equal([]interface{}{1.0}, []interface{}{1.0}))
	assert.False(t, Equal("1", 1))
	assert.False(t, Equal(nil, 0))
}
