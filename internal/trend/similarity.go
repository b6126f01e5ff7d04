package trend

// similarity is the classic sequence-matcher ratio: twice the total
// length of the longest matching blocks divided by the combined length.
func similarity(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 1.0
	}
	matched := matchingTotal([]byte(a), []byte(b))
	return 2.0 * float64(matched) / float64(len(a)+len(b))
}

// matchingTotal sums matching block lengths by recursively splitting
// around the longest common block.
func matchingTotal(a, b []byte) int {
	type span struct{ alo, ahi, blo, bhi int }
	total := 0
	queue := []span{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		ai, bi, size := longestMatch(a, b, s.alo, s.ahi, s.blo, s.bhi)
		if size == 0 {
			continue
		}
		total += size
		queue = append(queue,
			span{s.alo, ai, s.blo, bi},
			span{ai + size, s.ahi, bi + size, s.bhi})
	}
	return total
}

// longestMatch finds the longest matching block in a[alo:ahi] and
// b[blo:bhi], preferring the earliest position on ties.
func longestMatch(a, b []byte, alo, ahi, blo, bhi int) (int, int, int) {
	bestA, bestB, bestSize := alo, blo, 0

	// lengths[j] holds the match length ending at the previous a index
	// and b index j-1.
	lengths := make([]int, bhi-blo+1)
	for i := alo; i < ahi; i++ {
		next := make([]int, bhi-blo+1)
		for j := blo; j < bhi; j++ {
			if a[i] != b[j] {
				continue
			}
			k := lengths[j-blo] + 1
			next[j-blo+1] = k
			if k > bestSize {
				bestA, bestB, bestSize = i-k+1, j-k+1, k
			}
		}
		lengths = next
	}
	return bestA, bestB, bestSize
}
