package aggregation

import (
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Values are ordered by type first (nil < bool < number < string < list < map < anything else)
// and then by value, so that keys mixing types can still be sorted.
const (
	rankNil = iota
	rankBool
	rankNumber
	rankString
	rankList
	rankMap
	rankOther
)

// Compare returns -1, 0 or +1 depending on whether a sorts before, equal to or after b.
func Compare(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return compareInts(ra, rb)
	}
	switch ra {
	case rankNil:
		return 0
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		} else if !ba {
			return -1
		}
		return 1
	case rankNumber:
		fa, fb := toFloat(a), toFloat(b)
		if fa < fb {
			return -1
		} else if fa > fb {
			return 1
		}
		return 0
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankList:
		return compareLists(toList(a), toList(b))
	case rankMap:
		return compareMaps(a.(map[string]interface{}), b.(map[string]interface{}))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func rank(v interface{}) int {
	switch v.(type) {
	case nil:
		return rankNil
	case bool:
		return rankBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return rankNumber
	case string:
		return rankString
	case []interface{}:
		return rankList
	case map[string]interface{}:
		return rankMap
	}
	if reflect.TypeOf(v).Kind() == reflect.Slice {
		return rankList
	}
	return rankOther
}

func toFloat(v interface{}) float64 {
	return reflect.ValueOf(v).Convert(reflect.TypeOf(float64(0))).Float()
}

func toList(v interface{}) []interface{} {
	if l, ok := v.([]interface{}); ok {
		return l
	}
	rv := reflect.ValueOf(v)
	result := make([]interface{}, rv.Len())
	for i := range result {
		result[i] = rv.Index(i).Interface()
	}
	return result
}

func compareLists(a, b []interface{}) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareInts(len(a), len(b))
}

func compareMaps(a, b map[string]interface{}) int {
	ka, kb := maps.Keys(a), maps.Keys(b)
	slices.Sort(ka)
	slices.Sort(kb)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if c := strings.Compare(ka[i], kb[i]); c != 0 {
			return c
		}
		if c := Compare(a[ka[i]], b[kb[i]]); c != 0 {
			return c
		}
	}
	return compareInts(len(ka), len(kb))
}

func compareInts(a, b int) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
