package numbering

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// nextNumber applies the yearly reset rule for the given calendar year.
func nextNumber(seq Sequence, year int) int64 {
	if seq.ResetYearly && (seq.LastYear == nil || year > *seq.LastYear) {
		return 1
	}
	return seq.LastNumber + 1
}

// Format renders prefix SEP [year SEP] zero_padded(number, min_digits).
func Format(seq Sequence, number int64, year int) string {
	var b strings.Builder
	b.WriteString(seq.Prefix)
	b.WriteString(seq.Separator)
	if seq.IncludeYear {
		b.WriteString(formatYear(seq.YearFormat, year))
		b.WriteString(seq.Separator)
	}
	digits := seq.MinDigits
	if digits < 1 {
		digits = 1
	}
	b.WriteString(fmt.Sprintf("%0*d", digits, number))
	return b.String()
}

func formatYear(f YearFormat, year int) string {
	if f == YearFormatShort {
		return fmt.Sprintf("%02d", year%100)
	}
	return strconv.Itoa(year)
}

// scanIntegrity reports missing runs inside each year's observed min..max
// range and numbers issued more than once. A run of missing numbers is one
// gap issue spanning SequenceNumber..Through. Input need not be sorted.
func scanIntegrity(numbers []IssuedNumber) []IntegrityIssue {
	byYear := make(map[int]map[int64]int)
	var years []int
	for _, n := range numbers {
		seen, ok := byYear[n.Year]
		if !ok {
			seen = make(map[int64]int)
			byYear[n.Year] = seen
			years = append(years, n.Year)
		}
		seen[n.SequenceNumber]++
	}
	slices.Sort(years)

	var issues []IntegrityIssue
	for _, year := range years {
		seen := byYear[year]
		issued := make([]int64, 0, len(seen))
		for n := range seen {
			issued = append(issued, n)
		}
		slices.Sort(issued)
		for i, n := range issued {
			if i > 0 && n > issued[i-1]+1 {
				issues = append(issues, IntegrityIssue{Kind: IssueGap, Year: year, SequenceNumber: issued[i-1] + 1, Through: n - 1})
			}
			if count := seen[n]; count > 1 {
				issues = append(issues, IntegrityIssue{Kind: IssueDuplicate, Year: year, SequenceNumber: n, Occurrences: count})
			}
		}
	}
	return issues
}
