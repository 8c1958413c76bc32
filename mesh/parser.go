package mesh

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// ParseCorrespondenceFile reads and parses a correspondence JSON file
func ParseCorrespondenceFile(path string) (*CorrespondenceSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseCorrespondences(data)
}

// ParseCorrespondences parses either a CorrespondenceSet object or a bare
// array of pairs. When every pair has ID 0 the pairs are numbered 0..n-1 in
// input order.
func ParseCorrespondences(data []byte) (*CorrespondenceSet, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("parsing JSON: empty input")
	}

	var set CorrespondenceSet
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &set.Pairs); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	} else if err := json.Unmarshal(trimmed, &set); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	for i, p := range set.Pairs {
		if !finitePoint(p.Source) || !finitePoint(p.Target) {
			return nil, fmt.Errorf("pair %d has a non-finite coordinate", i)
		}
	}

	if len(set.Pairs) > 1 && allZeroIDs(set.Pairs) {
		for i := range set.Pairs {
			set.Pairs[i].ID = i
		}
	}
	return &set, nil
}

func finitePoint(p Point) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

func allZeroIDs(pairs []Correspondence) bool {
	for _, p := range pairs {
		if p.ID != 0 {
			return false
		}
	}
	return true
}
