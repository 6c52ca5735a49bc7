package power

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// MaxCpus bounds the cpu ids accepted in lists, the largest NR_CPUS the kernel builds with
const MaxCpus = 8192

// CpuList is an ordered list of logical cpu ids as enumerated by the kernel
type CpuList []uint

// ParseCpuList parses the kernel cpu list format, e.g. "0,2,4-7"
func ParseCpuList(list string) (CpuList, error) {
	cpus := CpuList{}
	list = strings.TrimSpace(list)
	if list == "" {
		return cpus, nil
	}
	for _, elem := range strings.Split(list, ",") {
		elem = strings.TrimSpace(elem)
		if elem == "" {
			continue
		}
		if bounds := strings.SplitN(elem, "-", 2); len(bounds) == 2 {
			start, err := strconv.ParseUint(bounds[0], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid cpu range %q: %w", elem, err)
			}
			end, err := strconv.ParseUint(bounds[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid cpu range %q: %w", elem, err)
			}
			if end < start {
				return nil, fmt.Errorf("invalid cpu range %q: end before start", elem)
			}
			if end >= MaxCpus {
				return nil, fmt.Errorf("invalid cpu range %q: cpu ids stop at %d", elem, MaxCpus-1)
			}
			for id := start; id <= end; id++ {
				cpus = append(cpus, uint(id))
			}
			continue
		}
		id, err := strconv.ParseUint(elem, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu id %q: %w", elem, err)
		}
		if id >= MaxCpus {
			return nil, fmt.Errorf("invalid cpu id %q: cpu ids stop at %d", elem, MaxCpus-1)
		}
		cpus = append(cpus, uint(id))
	}
	return cpus, nil
}

// String formats the list back into the kernel format, collapsing runs into ranges
func (cpus CpuList) String() string {
	sorted := cpus.Sorted()
	var b strings.Builder
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if j > i {
			fmt.Fprintf(&b, "%d-%d", sorted[i], sorted[j])
		} else {
			fmt.Fprintf(&b, "%d", sorted[i])
		}
		i = j + 1
	}
	return b.String()
}

func (cpus CpuList) IndexOf(cpu uint) int {
	return slices.Index(cpus, cpu)
}

func (cpus CpuList) Contains(cpu uint) bool {
	return cpus.IndexOf(cpu) >= 0
}

// Sorted returns an ascending copy without duplicates
func (cpus CpuList) Sorted() CpuList {
	sorted := slices.Clone(cpus)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}

// Difference returns the cpus of the list that are not in excluded
func (cpus CpuList) Difference(excluded CpuList) CpuList {
	diff := CpuList{}
	for _, cpu := range cpus {
		if !excluded.Contains(cpu) {
			diff = append(diff, cpu)
		}
	}
	return diff
}

// Intersect returns the cpus present in both lists, keeping the receiver's order
func (cpus CpuList) Intersect(other CpuList) CpuList {
	common := CpuList{}
	for _, cpu := range cpus {
		if other.Contains(cpu) {
			common = append(common, cpu)
		}
	}
	return common
}
