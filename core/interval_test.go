package core_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/care-engine/core"
)

func mustInterval(t *testing.T, start, end string) core.Interval {
	t.Helper()
	s, err := time.Parse(time.RFC3339, start)
	require.NoError(t, err)
	e, err := time.Parse(time.RFC3339, end)
	require.NoError(t, err)
	iv, err := core.NewInterval(s, e)
	require.NoError(t, err)
	return iv
}

// =============================================================================
// OVERLAP
// =============================================================================

func TestInterval_Overlaps_TouchingEndpointsDoNot(t *testing.T) {
	// GIVEN: Two back-to-back intervals sharing one instant
	// WHEN: Checking overlap both ways
	// THEN: Half-open semantics - no overlap

	a := mustInterval(t, "2022-03-10T09:00:00Z", "2022-03-10T11:00:00Z")
	b := mustInterval(t, "2022-03-10T11:00:00Z", "2022-03-10T13:00:00Z")

	assert.False(t, a.Overlaps(b))
	assert.False(t, b.Overlaps(a))
}

func TestInterval_Overlaps_IsSymmetric(t *testing.T) {
	a := mustInterval(t, "2022-03-10T09:00:00Z", "2022-03-10T12:00:00Z")
	b := mustInterval(t, "2022-03-10T11:00:00Z", "2022-03-10T14:00:00Z")

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a))
}

func TestInterval_Clip(t *testing.T) {
	iv := mustInterval(t, "2022-03-10T09:00:00Z", "2022-03-10T17:00:00Z")
	bounds := mustInterval(t, "2022-03-10T12:00:00Z", "2022-03-10T20:00:00Z")

	clipped, ok := iv.Clip(bounds)
	require.True(t, ok)
	assert.Equal(t, bounds.Start, clipped.Start)
	assert.Equal(t, iv.End, clipped.End)

	disjoint := mustInterval(t, "2022-03-11T09:00:00Z", "2022-03-11T10:00:00Z")
	_, ok = iv.Clip(disjoint)
	assert.False(t, ok)
}

func TestInterval_Hours_MinutePrecision(t *testing.T) {
	iv := mustInterval(t, "2022-03-10T09:00:00Z", "2022-03-10T10:30:00Z")
	assert.True(t, iv.Hours().Equal(decimal.NewFromFloat(1.5)), "got %s", iv.Hours())
}

func TestNewInterval_RejectsInvertedRange(t *testing.T) {
	end := time.Date(2022, time.March, 10, 9, 0, 0, 0, time.UTC)
	start := end.Add(time.Hour)

	_, err := core.NewInterval(start, end)
	assert.ErrorIs(t, err, core.ErrInvalidInterval)
}

// =============================================================================
// VERSION RESOLUTION
// =============================================================================

type versioned struct {
	Start time.Time
	Name  string
}

func TestMatchingVersion_PicksGreatestStartNotAfterDate(t *testing.T) {
	// GIVEN: Three versions starting in Jan, Mar, Jun
	// WHEN: Resolving at an April date
	// THEN: The March version applies - the latest one already started

	versions := []versioned{
		{Start: time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC), Name: "jan"},
		{Start: time.Date(2022, time.June, 1, 0, 0, 0, 0, time.UTC), Name: "jun"},
		{Start: time.Date(2022, time.March, 1, 0, 0, 0, 0, time.UTC), Name: "mar"},
	}

	v, ok := core.MatchingVersion(versions,
		time.Date(2022, time.April, 15, 0, 0, 0, 0, time.UTC),
		func(v versioned) time.Time { return v.Start })
	require.True(t, ok)
	assert.Equal(t, "mar", v.Name)
}

func TestMatchingVersion_ExactStartDateMatches(t *testing.T) {
	versions := []versioned{
		{Start: time.Date(2022, time.March, 1, 0, 0, 0, 0, time.UTC), Name: "mar"},
	}

	v, ok := core.MatchingVersion(versions,
		time.Date(2022, time.March, 1, 0, 0, 0, 0, time.UTC),
		func(v versioned) time.Time { return v.Start })
	require.True(t, ok)
	assert.Equal(t, "mar", v.Name)
}

func TestMatchingVersion_NoneQualifies(t *testing.T) {
	// A date before every version start is a data-integrity situation the
	// caller must surface, never a silent zero value.
	versions := []versioned{
		{Start: time.Date(2022, time.March, 1, 0, 0, 0, 0, time.UTC), Name: "mar"},
	}

	_, ok := core.MatchingVersion(versions,
		time.Date(2022, time.February, 1, 0, 0, 0, 0, time.UTC),
		func(v versioned) time.Time { return v.Start })
	assert.False(t, ok)
}

func TestLatestBy_MaxCreatedAtWins(t *testing.T) {
	versions := []versioned{
		{Start: time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC), Name: "old"},
		{Start: time.Date(2022, time.June, 1, 0, 0, 0, 0, time.UTC), Name: "new"},
	}

	v, ok := core.LatestBy(versions, func(v versioned) time.Time { return v.Start })
	require.True(t, ok)
	assert.Equal(t, "new", v.Name)

	_, ok = core.LatestBy(nil, func(v versioned) time.Time { return v.Start })
	assert.False(t, ok)
}
