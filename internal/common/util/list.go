package util

func StringListToSet(list []string) map[string]bool {
	set := map[string]bool{}
	for _, item := range list {
		set[item] = true
	}
	return set
}

// Filter returns the elements of list for which keep returns true, preserving order.
func Filter[T any](list []T, keep func(T) bool) []T {
	var result []T
	for _, v := range list {
		if keep(v) {
			result = append(result, v)
		}
	}
	return result
}

func Map[T any, U any](list []T, fn func(T) U) []U {
	result := make([]U, len(list))
	for i, v := range list {
		result[i] = fn(v)
	}
	return result
}

// Unique removes duplicates from list, keeping the first occurrence of each element.
func Unique[T comparable](list []T) []T {
	seen := make(map[T]bool, len(list))
	result := make([]T, 0, len(list))
	for _, v := range list {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}
