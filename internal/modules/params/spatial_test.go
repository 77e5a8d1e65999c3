package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Four assets, two categories: one category splits them into two pairs, the
// other joins them all.
func testGroups() Groups {
	return Groups{
		{{0, 1}, {2, 3}},
		{{0, 1, 2, 3}},
	}
}

func TestGroupsCounts(t *testing.T) {
	g := testGroups()
	assert.Equal(t, 2, g.NumCategories())
	assert.Equal(t, 3, g.NumGroups())
	assert.Equal(t, 4, g.NumAssets())
}

func TestGroupsValidate(t *testing.T) {
	require.NoError(t, testGroups().Validate(4))

	cases := []struct {
		name string
		g    Groups
	}{
		{"empty", Groups{}},
		{"empty category", Groups{{}}},
		{"singleton group", Groups{{{0}}}},
		{"out of range", Groups{{{0, 5}}}},
		{"duplicate in category", Groups{{{0, 1}, {1, 2}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.g.Validate(4)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestGroupWeightsRowStochastic(t *testing.T) {
	weights, err := testGroups().GroupWeights(4)
	require.NoError(t, err)
	require.Len(t, weights, 3)

	members := [][]int{{0, 1}, {2, 3}, {0, 1, 2, 3}}
	for k, w := range weights {
		for _, i := range members[k] {
			sum := 0.0
			for j := 0; j < 4; j++ {
				sum += w.At(i, j)
			}
			assert.InDelta(t, 1.0, sum, 1e-12, "group %d row %d", k, i)
			assert.Equal(t, 0.0, w.At(i, i))
		}
	}
}

func TestExpandSingleGroup(t *testing.T) {
	// One group of two assets: W = [[0,1],[1,0]], so the expansion is
	// a0·I + a1·W exactly.
	g := Groups{{{0, 1}}}
	m, err := g.Expand([]float64{0.3, 0.1}, 2)
	require.NoError(t, err)

	assert.InDelta(t, 0.3, m.At(0, 0), 1e-12)
	assert.InDelta(t, 0.1, m.At(0, 1), 1e-12)
	assert.InDelta(t, 0.1, m.At(1, 0), 1e-12)
	assert.InDelta(t, 0.3, m.At(1, 1), 1e-12)
}

func TestExpandRejectsWrongVectorLength(t *testing.T) {
	_, err := testGroups().Expand([]float64{0.3, 0.1}, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestSpatialFromTargetMatchesStandard(t *testing.T) {
	// With the expansion fixed, spatial parameters must agree with standard
	// parameters built from the same expanded matrices.
	g := Groups{{{0, 1}}}
	target := testTarget(2)
	avec := []float64{0.3, 0.05}
	bvec := []float64{0.85, 0.02}

	sp, err := SpatialFromTarget(avec, bvec, target, g)
	require.NoError(t, err)

	amat, err := g.Expand(avec, 2)
	require.NoError(t, err)
	bmat, err := g.Expand(bvec, 2)
	require.NoError(t, err)
	std, err := StandardFromTarget(amat, bmat, target)
	require.NoError(t, err)

	assertMatEqual(t, std.AMat(), sp.AMat())
	assertMatEqual(t, std.BMat(), sp.BMat())
	assertMatEqual(t, std.CMat(), sp.CMat())
}

func TestSpatialSpaceDim(t *testing.T) {
	g := testGroups()
	target := testTarget(4)

	cases := []struct {
		restriction Restriction
		useTarget   bool
		cfree       bool
		want        int
	}{
		{Homogeneous, true, false, 4},
		{Heterogeneous, true, false, 6},
		{Group, true, false, 8},
		{Group, false, false, 8 + 10},
		{Group, true, true, 8 + 10},
	}
	for _, tc := range cases {
		space, err := NewSpatialSpace(4, tc.restriction, tc.useTarget, tc.cfree, target, g)
		require.NoError(t, err)
		assert.Equal(t, tc.want, space.Dim(), "restriction %s target %v cfree %v", tc.restriction, tc.useTarget, tc.cfree)
	}
}

func TestSpatialSpaceRoundTrip(t *testing.T) {
	g := testGroups()
	target := testTarget(4)

	// Coefficient vectors that satisfy every restriction in turn.
	vecs := map[Restriction][2][]float64{
		Homogeneous:   {{0.3, 0.05, 0.05, 0.05}, {0.85, 0.02, 0.02, 0.02}},
		Heterogeneous: {{0.3, 0.05, 0.05, 0.03}, {0.85, 0.02, 0.02, 0.01}},
		Group:         {{0.3, 0.05, 0.04, 0.03}, {0.85, 0.02, 0.015, 0.01}},
	}

	for restriction, pair := range vecs {
		for _, mode := range []struct{ useTarget, cfree bool }{
			{true, false}, {false, false}, {true, true},
		} {
			space, err := NewSpatialSpace(4, restriction, mode.useTarget, mode.cfree, target, g)
			require.NoError(t, err)

			p, err := SpatialFromTarget(pair[0], pair[1], target, g)
			require.NoError(t, err)

			theta, err := space.Theta(p)
			require.NoError(t, err)
			require.Len(t, theta, space.Dim())

			back, err := space.FromTheta(theta)
			require.NoError(t, err)
			bsp, ok := back.(*ParamSpatial)
			require.True(t, ok)

			assert.InDeltaSlice(t, pair[0], bsp.AVec(), 1e-10, "%s avec", restriction)
			assert.InDeltaSlice(t, pair[1], bsp.BVec(), 1e-10, "%s bvec", restriction)
			assertMatEqual(t, p.CMat(), bsp.CMat())
		}
	}
}

func TestSpatialSpaceThetaRejectsOffRestrictionVecs(t *testing.T) {
	g := testGroups()
	target := testTarget(4)

	// Group-level vectors: all three groups carry distinct coefficients, so
	// only the group restriction admits them.
	p, err := SpatialFromTarget(
		[]float64{0.3, 0.05, 0.04, 0.03},
		[]float64{0.85, 0.02, 0.015, 0.01},
		target, g)
	require.NoError(t, err)

	for _, restriction := range []Restriction{Homogeneous, Heterogeneous} {
		space, err := NewSpatialSpace(4, restriction, true, false, target, g)
		require.NoError(t, err)

		_, err = space.Theta(p)
		require.Error(t, err, "restriction %s must not project", restriction)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	}

	// Equal within each category but not across: heterogeneous admits it,
	// homogeneous does not.
	perCat, err := SpatialFromTarget(
		[]float64{0.3, 0.05, 0.05, 0.03},
		[]float64{0.85, 0.02, 0.02, 0.01},
		target, g)
	require.NoError(t, err)

	het, err := NewSpatialSpace(4, Heterogeneous, true, false, target, g)
	require.NoError(t, err)
	_, err = het.Theta(perCat)
	assert.NoError(t, err)

	hom, err := NewSpatialSpace(4, Homogeneous, true, false, target, g)
	require.NoError(t, err)
	_, err = hom.Theta(perCat)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestSpatialSpaceRejectsStandardParams(t *testing.T) {
	space, err := NewSpatialSpace(2, Homogeneous, false, false, nil, Groups{{{0, 1}}})
	require.NoError(t, err)

	std, err := NewStandard(scalarMatrix(2, 0.3), scalarMatrix(2, 0.9), scalarMatrix(2, 1))
	require.NoError(t, err)

	_, err = space.Theta(std)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestSnapshotRoundTrip(t *testing.T) {
	target := testTarget(2)

	std, err := StandardFromTarget(scalarMatrix(2, 0.3), scalarMatrix(2, 0.9), target)
	require.NoError(t, err)
	back, err := Snap(std).Params()
	require.NoError(t, err)
	assertMatEqual(t, std.AMat(), back.AMat())
	assertMatEqual(t, std.CMat(), back.CMat())

	g := Groups{{{0, 1}}}
	sp, err := SpatialFromTarget([]float64{0.3, 0.05}, []float64{0.85, 0.02}, target, g)
	require.NoError(t, err)
	back, err = Snap(sp).Params()
	require.NoError(t, err)
	bsp, ok := back.(*ParamSpatial)
	require.True(t, ok)
	assert.InDeltaSlice(t, sp.AVec(), bsp.AVec(), 1e-12)
	assertMatEqual(t, sp.CMat(), bsp.CMat())
}
