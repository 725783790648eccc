package parser

import "sort"

const (
	verbSuggestionDistance   = 3
	optionSuggestionDistance = 2
)

// SuggestVerbs ranks known verbs by edit distance to the unknown token and
// returns those within distance 3, closest first.
func SuggestVerbs(unknown string) []string {
	candidates := make([]string, 0, len(Verbs))
	for _, v := range Verbs {
		candidates = append(candidates, string(v))
	}
	return rankByDistance(unknown, candidates, verbSuggestionDistance)
}

// SuggestOptions ranks the verb's options and flags within distance 2.
func SuggestOptions(unknown string, verb Verb) []string {
	candidates := append(optionsFor(verb), flagsFor(verb)...)
	return rankByDistance(unknown, candidates, optionSuggestionDistance)
}

func rankByDistance(input string, candidates []string, maxDistance int) []string {
	type scored struct {
		name string
		dist int
	}
	var hits []scored
	for _, c := range candidates {
		if d := levenshtein(input, c); d <= maxDistance {
			hits = append(hits, scored{c, d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}

// levenshtein is the classic two-row edit distance.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
