package core

import "sort"

// SortChart orders aggregation groups by summed amount, largest first. The
// sort is stable so groups with equal totals keep their original order, which
// keeps the chart deterministic across repeated runs with the same input.
func SortChart(slices []ChartSlice) {
	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].Value.Cents > slices[j].Value.Cents
	})
}
