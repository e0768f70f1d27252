package journal

import "strings"

// FuzzyMatch returns true if query fuzzy-matches target.
// Matching is case-insensitive and succeeds on substring match or if
// the query characters appear as a subsequence in the target.
func FuzzyMatch(target, query string) bool {
	if query == "" {
		return true
	}
	t := strings.ToLower(target)
	q := strings.ToLower(query)
	if strings.Contains(t, q) {
		return true
	}
	// subsequence match (rune-aware)
	qr := []rune(q)
	i := 0
	for _, ch := range t {
		if i < len(qr) && qr[i] == ch {
			i++
			if i >= len(qr) {
				return true
			}
		}
	}
	return false
}

// FilterRuns returns runs whose root or any event path fuzzy-matches query,
// newest first.
func (r *Repository) FilterRuns(query string) ([]Run, error) {
	runs, err := r.ListRuns(0)
	if err != nil {
		return nil, err
	}
	var out []Run
	for _, run := range runs {
		if FuzzyMatch(run.Root, query) {
			out = append(out, run)
			continue
		}
		events, err := r.ListEvents(run.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if FuzzyMatch(e.Path, query) {
				out = append(out, run)
				break
			}
		}
	}
	return out, nil
}
