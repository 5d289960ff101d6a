package classify

// Ratio scores the similarity of two strings on a 0-100 scale as
// 200*LCS/(len(a)+len(b)), where LCS is the longest common subsequence measured
// in runes. Identical strings score 100; two empty strings score 100.
func Ratio(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	return ratioRunes(ra, rb)
}

// PartialRatio aligns the shorter string against every window of the same length
// in the longer one and returns the best Ratio. A shorter string that occurs
// verbatim inside the longer one scores 100. Either string empty scores 0.
func PartialRatio(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	short, long := ra, rb
	if len(short) > len(long) {
		short, long = long, short
	}
	m := len(short)
	best := 0
	for i := 0; i+m <= len(long); i++ {
		score := ratioRunes(short, long[i:i+m])
		if score > best {
			best = score
			if best == 100 {
				break
			}
		}
	}
	return best
}

func ratioRunes(a, b []rune) int {
	total := len(a) + len(b)
	if total == 0 {
		return 100
	}
	lcs := lcsLength(a, b)
	// round half up
	return (200*lcs + total/2) / total
}

// lcsLength computes the longest common subsequence with a rolling row.
func lcsLength(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
