package executor

import "sort"

// intersect keeps the ids present in every branch, in the order of the
// first branch. Membership is decided by a sorted merge over id-sorted
// copies.
func intersect(branches [][]int64) []int64 {
	if len(branches) == 0 {
		return nil
	}
	common := sortedCopy(branches[0])
	for _, b := range branches[1:] {
		common = mergeCommon(common, sortedCopy(b))
		if len(common) == 0 {
			return []int64{}
		}
	}

	out := make([]int64, 0, len(common))
	for _, id := range branches[0] {
		i := sort.Search(len(common), func(i int) bool { return common[i] >= id })
		if i < len(common) && common[i] == id {
			out = append(out, id)
		}
	}
	return out
}

func mergeCommon(a, b []int64) []int64 {
	out := make([]int64, 0, min(len(a), len(b)))
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// union concatenates the branches, keeping the first occurrence of each id.
func union(branches [][]int64) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, b := range branches {
		for _, id := range b {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func sortedCopy(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
