package pipeline

import (
	"testing"

	"github.com/pensieved/pensieve/pkg/capture"
	"github.com/pensieved/pensieve/pkg/phash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cap4(objectID string, fp phash.Fingerprint) capture.RawCapture {
	return capture.RawCapture{ObjectID: objectID, Fingerprint: fp.String()}
}

func TestSelectRepresentativesUnderCap(t *testing.T) {
	captures := []capture.RawCapture{
		cap4("a", 0x00),
		cap4("b", 0xFF),
	}

	got := selectRepresentatives(captures, 5)
	assert.Equal(t, captures, got)
}

func TestSelectRepresentativesPicksDiverse(t *testing.T) {
	// "a" is always kept as the earliest; of the rest, "d" is farthest
	// from it and from anything else selected.
	captures := []capture.RawCapture{
		cap4("a", 0x0000000000000000),
		cap4("b", 0x0000000000000001),
		cap4("c", 0x0000000000000003),
		cap4("d", 0xFFFFFFFFFFFFFFFF),
	}

	got := selectRepresentatives(captures, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ObjectID)
	assert.Equal(t, "d", got[1].ObjectID)
}

func TestSelectRepresentativesTieBreaksByObjectID(t *testing.T) {
	// "b" and "c" are equidistant from "a"; the lower object ID wins.
	captures := []capture.RawCapture{
		cap4("a", 0x00),
		cap4("c", 0x01),
		cap4("b", 0x02),
	}

	got := selectRepresentatives(captures, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ObjectID)
	assert.Equal(t, "b", got[1].ObjectID)
}

func TestSelectRepresentativesInvalidFingerprintsLast(t *testing.T) {
	captures := []capture.RawCapture{
		cap4("a", 0x00),
		{ObjectID: "broken", Fingerprint: ""},
		cap4("c", 0xFF),
		cap4("d", 0xF0),
	}

	got := selectRepresentatives(captures, 3)
	require.Len(t, got, 3)
	for _, rc := range got {
		assert.NotEqual(t, "broken", rc.ObjectID)
	}
}

func TestSelectRepresentativesKeepsInputOrder(t *testing.T) {
	captures := []capture.RawCapture{
		cap4("a", 0x00),
		cap4("b", 0x0F),
		cap4("c", 0xFF),
	}

	got := selectRepresentatives(captures, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ObjectID)
	assert.Equal(t, "c", got[1].ObjectID)
}
