package catalog

import (
	"golang.org/x/exp/maps"
)

const (
	NpDirective            = "np"
	NGpuDirective          = "ngpu"
	NRanksDirective        = "nranks"
	OmpNumThreadsDirective = "omp_num_threads"
)

// Directives are the resource requests of an operation, passed unmodified to the script renderer.
type Directives map[string]interface{}

func (d Directives) Copy() Directives {
	if d == nil {
		return Directives{}
	}
	return maps.Clone(d)
}

// NP returns the number of processors. Unless set explicitly it is nranks * omp_num_threads.
func (d Directives) NP() int {
	if np, ok := d.intValue(NpDirective); ok {
		return np
	}
	return d.NRanks() * d.OmpNumThreads()
}

func (d Directives) NGpu() int {
	n, _ := d.intValue(NGpuDirective)
	return n
}

// NRanks returns the number of MPI ranks, 1 if unset.
func (d Directives) NRanks() int {
	if n, ok := d.intValue(NRanksDirective); ok && n > 0 {
		return n
	}
	return 1
}

// OmpNumThreads returns the number of OpenMP threads per rank, 1 if unset.
func (d Directives) OmpNumThreads() int {
	if n, ok := d.intValue(OmpNumThreadsDirective); ok && n > 0 {
		return n
	}
	return 1
}

func (d Directives) intValue(key string) (int, bool) {
	switch x := d[key].(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case int32:
		return int(x), true
	case float64:
		return int(x), true
	}
	return 0, false
}

// MergeDirectives combines the directives of instances that run one after the other in a single bundle.
// Numeric directives take their maximum, other directives their first value. np is the largest NP() of the
// inputs.
func MergeDirectives(all ...Directives) Directives {
	result := Directives{}
	np := 0
	for _, d := range all {
		for key, value := range d {
			if _, ok := result[key]; !ok {
				result[key] = value
				continue
			}
			a, aNumeric := result.intValue(key)
			b, bNumeric := d.intValue(key)
			if aNumeric && bNumeric && b > a {
				result[key] = value
			}
		}
		if n := d.NP(); n > np {
			np = n
		}
	}
	if len(all) > 0 {
		result[NpDirective] = np
	}
	return result
}
