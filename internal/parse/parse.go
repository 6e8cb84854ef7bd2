package parse

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"novelarr/internal/domain"
)

// ChapterSelection parses the user input for ranges and parts
func ChapterSelection(input string, availableChapters map[int]domain.ChapterRef) ([]int, error) {
	parts := strings.Split(input, ",")
	uniqueChapters := make(map[int]bool)

	for _, part := range parts {
		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid range format: %s", part)
			}
			start, end, err := getRange(rangeParts)
			if err != nil {
				return nil, err
			}

			for ordinal := range availableChapters {
				if ordinal >= start && ordinal <= end {
					uniqueChapters[ordinal] = true
				}
			}
		} else {
			ordinal, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			uniqueChapters[ordinal] = true
		}
	}

	selectedChapters := make([]int, 0, len(uniqueChapters))
	for ordinal := range uniqueChapters {
		selectedChapters = append(selectedChapters, ordinal)
	}
	slices.Sort(selectedChapters)

	return selectedChapters, nil
}

// getRange parses the user input for chapter ranges
func getRange(rangeParts []string) (int, int, error) {
	start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start of range: %s", rangeParts[0])
	}
	end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end of range: %s", rangeParts[1])
	}

	if start > end {
		return 0, 0, fmt.Errorf("start of range should not be greater than end: %s-%s", rangeParts[0], rangeParts[1])
	}

	return start, end, nil
}

// GetMinAndMaxKeys returns the lowest and highest keys from a map that has keys that can be ordered
func GetMinAndMaxKeys[K cmp.Ordered, V any](someMap map[K]V) ([]K, []K, error) {
	if len(someMap) == 0 {
		var zero []K
		return zero, zero, fmt.Errorf("map is empty")
	}

	keys := make([]K, 0, len(someMap))
	for key := range someMap {
		keys = append(keys, key)
	}

	return []K{slices.Min(keys)}, []K{slices.Max(keys)}, nil
}
