package pipeline

import (
	"sort"

	"github.com/pensieved/pensieve/pkg/capture"
	"github.com/pensieved/pensieve/pkg/phash"
)

// selectRepresentatives caps a record's captures at max, keeping the most
// visually diverse subset by farthest-point sampling over fingerprint
// Hamming distance. The earliest capture is always kept. Captures whose
// fingerprint cannot be parsed contribute distance zero, so they are only
// chosen once every distinct-looking capture is in. Ties prefer the lowest
// object ID. The result keeps the input's chronological order.
func selectRepresentatives(captures []capture.RawCapture, max int) []capture.RawCapture {
	if max <= 0 || len(captures) <= max {
		return captures
	}

	fingerprints := make([]phash.Fingerprint, len(captures))
	valid := make([]bool, len(captures))
	for i, rc := range captures {
		fp, err := phash.Parse(rc.Fingerprint)
		if err != nil {
			continue
		}
		fingerprints[i] = fp
		valid[i] = true
	}

	selected := make([]int, 0, max)
	chosen := make([]bool, len(captures))

	selected = append(selected, 0)
	chosen[0] = true

	for len(selected) < max {
		best := -1
		bestDist := -1
		for i := range captures {
			if chosen[i] {
				continue
			}
			dist := minDistanceTo(selected, fingerprints, valid, i)
			if dist > bestDist || (dist == bestDist && best >= 0 && captures[i].ObjectID < captures[best].ObjectID) {
				best = i
				bestDist = dist
			}
		}
		if best < 0 {
			break
		}
		selected = append(selected, best)
		chosen[best] = true
	}

	sort.Ints(selected)
	result := make([]capture.RawCapture, 0, len(selected))
	for _, i := range selected {
		result = append(result, captures[i])
	}
	return result
}

// minDistanceTo returns the smallest Hamming distance between candidate i
// and the already selected captures. Pairs involving an unparsable
// fingerprint count as distance zero.
func minDistanceTo(selected []int, fingerprints []phash.Fingerprint, valid []bool, i int) int {
	if !valid[i] {
		return 0
	}
	min := -1
	for _, s := range selected {
		d := 0
		if valid[s] {
			d = fingerprints[i].Distance(fingerprints[s])
		}
		if min < 0 || d < min {
			min = d
		}
	}
	return min
}
