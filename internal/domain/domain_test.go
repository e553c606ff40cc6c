package domain

import (
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStation_Name(t *testing.T) {
	tests := []struct {
		name    string
		station Station
		want    string
	}{
		{"first last", Station{FirstName: "Ross", LastName: "Smith"}, "Ross Smith"},
		{"with middle and suffix", Station{FirstName: "Ross", MiddleName: "J", LastName: "Smith", Suffix: "Jr"}, "Ross J Smith Jr"},
		{"club uses organization", Station{FirstName: "Ross", LastName: "Smith", Organization: "Nashua ARC"}, "Nashua ARC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.station.Name())
		})
	}
}

func TestStripPOBox(t *testing.T) {
	assert.Equal(t, "123 Main St", StripPOBox("123 Main St, PO Box 100"))
	assert.Equal(t, "123 Main St", StripPOBox("123 Main St, p.o. box 7"))
	assert.Equal(t, "123 Main St", StripPOBox("123 Main St,POBox 7"))
	assert.Equal(t, "123 Main St", StripPOBox("123 Main St"))
	assert.Equal(t, "PO Box 100", StripPOBox("PO Box 100"), "no leading comma, nothing to strip")
}

func TestIsPOBoxOnly(t *testing.T) {
	assert.True(t, IsPOBoxOnly("PO Box 100"))
	assert.True(t, IsPOBoxOnly("  P.O. BOX 12"))
	assert.True(t, IsPOBoxOnly("pobox 12"))
	assert.False(t, IsPOBoxOnly("123 Main St, PO Box 100"))
	assert.False(t, IsPOBoxOnly("Post Road 5"))
}

func TestPOBoxOnlyPattern_MatchesGoRegexp(t *testing.T) {
	posix := regexp.MustCompile(`(?i)` + POBoxOnlyPattern)
	for _, line := range []string{"PO Box 100", "  P.O. BOX 12", "pobox 12", "123 Main St, PO Box 100", "Post Road 5", "PO BOX"} {
		assert.Equal(t, IsPOBoxOnly(line), posix.MatchString(line), line)
	}
}

func TestHashAddress(t *testing.T) {
	a := HashAddress("12 Elm St", "Nashua", "NH", "03060")
	b := HashAddress("  12  ELM st ", "nashua", "nh", "03060")
	c := HashAddress("14 Elm St", "Nashua", "NH", "03060")

	assert.Len(t, a, 40)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBestResult(t *testing.T) {
	results := []GeocodeResult{
		{Lat: 1, Tier: TierApproximate, Accuracy: 1},
		{Lat: 2, Tier: TierRangeInterpolation, Accuracy: 0.8},
		{Lat: 3, Tier: TierRooftop, Accuracy: 0.9},
		{Lat: 4, Tier: TierPoint, Accuracy: 0.9},
	}

	best, ok := BestResult(results)
	assert.True(t, ok)
	assert.Equal(t, 3.0, best.Lat)

	_, ok = BestResult([]GeocodeResult{{Tier: TierPlace, Accuracy: 1}})
	assert.False(t, ok)

	_, ok = BestResult(nil)
	assert.False(t, ok)
}

func TestSearchError_Is(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewSearchError(AddressIsPOBox, "KT1F"))

	assert.ErrorIs(t, err, ErrAddressIsPOBox)
	assert.NotErrorIs(t, err, ErrAddressGeoNotFound)
	assert.Equal(t, "lookup: The address for KT1F is a PO Box.", err.Error())

	var se *SearchError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "KT1F", se.Value)
}

func TestSearchError_MessagesAreDistinct(t *testing.T) {
	seen := map[string]bool{}
	for kind := CallsignNotFound; kind <= UnknownQueryType; kind++ {
		msg := NewSearchError(kind, "X").Error()
		assert.False(t, seen[msg], "duplicate message %q", msg)
		seen[msg] = true
	}
}

func TestGeocodeStatus_Resolved(t *testing.T) {
	assert.False(t, StatusPending.Resolved())
	assert.True(t, StatusSuccess.Resolved())
	assert.True(t, StatusNotFound.Resolved())
	assert.True(t, StatusPOBox.Resolved())
	assert.Equal(t, "not_found", StatusNotFound.String())
}
