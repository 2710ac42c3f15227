package aggregation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := map[string]struct {
		a, b     interface{}
		expected int
	}{
		"nil equal":         {nil, nil, 0},
		"nil before bool":   {nil, false, -1},
		"bool before num":   {true, 0, -1},
		"false before true": {false, true, -1},
		"int vs float":      {2, 1.5, 1},
		"int equals float":  {1, 1.0, 0},
		"num before string": {10, "1", -1},
		"strings":           {"a", "b", -1},
		"str before list":   {"z", []interface{}{}, -1},
		"lists":             {[]interface{}{1, "a"}, []interface{}{1, "b"}, -1},
		"shorter list":      {[]interface{}{1}, []interface{}{1, 2}, -1},
		"typed slice":       {[]string{"a"}, []interface{}{"a"}, 0},
		"list before map":   {[]interface{}{}, map[string]interface{}{}, -1},
		"maps":              {map[string]interface{}{"a": 1}, map[string]interface{}{"a": 2}, -1},
		"map keys":          {map[string]interface{}{"b": 1}, map[string]interface{}{"a": 1}, 1},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Compare(tc.a, tc.b))
			assert.Equal(t, -tc.expected, Compare(tc.b, tc.a))
		})
	}
}
