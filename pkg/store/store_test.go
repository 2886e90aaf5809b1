package store

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/bbox-annotator/pkg/types"
)

func rect(x, y, w, h float64) types.Rect {
	return types.Rect{X: x, Y: y, Width: w, Height: h}
}

func TestCreateAssignsUniqueIDs(t *testing.T) {
	s := New()
	a, err := s.Create(rect(0, 0, 10, 10), "a", "#fff")
	require.NoError(t, err)
	b, err := s.Create(rect(5, 5, 10, 10), "b", "#fff")
	require.NoError(t, err)

	assert.Equal(t, "bbox-0", a.ID)
	assert.Equal(t, "bbox-1", b.ID)

	s.Delete(a.ID)
	c, err := s.Create(rect(1, 1, 20, 20), "c", "#fff")
	require.NoError(t, err)
	assert.Equal(t, "bbox-2", c.ID, "ids are never reused after a delete")
}

func TestCreateRejectsSmallGeometry(t *testing.T) {
	s := New()
	_, err := s.Create(rect(0, 0, 4.9, 50), "", "")
	assert.ErrorIs(t, err, ErrRejectedGeometry)
	_, err = s.Create(rect(0, 0, 50, 2), "", "")
	assert.ErrorIs(t, err, ErrRejectedGeometry)
	assert.Equal(t, 0, s.Len())

	_, err = s.Create(rect(0, 0, 5, 5), "", "")
	assert.NoError(t, err)
}

func TestUpdatePreservesOrderAndID(t *testing.T) {
	s := New()
	s.Load([]types.InitialBox{
		{BBox: [4]float64{0, 0, 10, 10}, Label: "a"},
		{BBox: [4]float64{20, 20, 10, 10}, Label: "b"},
		{BBox: [4]float64{40, 40, 10, 10}, Label: "c"},
	}, nil)

	got, err := s.Update("bbox-1", func(b *types.Box) {
		b.ID = "hijack"
		b.Label = "B"
		b.X = 99
	})
	require.NoError(t, err)
	assert.Equal(t, "bbox-1", got.ID)

	boxes := s.Boxes()
	require.Len(t, boxes, 3)
	assert.Equal(t, []string{"bbox-0", "bbox-1", "bbox-2"}, []string{boxes[0].ID, boxes[1].ID, boxes[2].ID})
	assert.Equal(t, "B", boxes[1].Label)
	assert.Equal(t, 99.0, boxes[1].X)

	_, err = s.Update("bbox-9", func(*types.Box) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsIdempotentAndClearsSelection(t *testing.T) {
	s := New()
	b, err := s.Create(rect(0, 0, 10, 10), "", "")
	require.NoError(t, err)
	require.NoError(t, s.Select(b.ID))

	s.Delete(b.ID)
	assert.Equal(t, "", s.Selected())
	assert.NotPanics(t, func() { s.Delete(b.ID) })
	assert.Equal(t, 0, s.Len())
}

func TestSelect(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Select("bbox-0"), ErrNotFound)
	assert.NoError(t, s.Select(""))

	b, err := s.Create(rect(0, 0, 10, 10), "", "")
	require.NoError(t, err)
	require.NoError(t, s.Select(b.ID))
	assert.Equal(t, b.ID, s.Selected())
}

func TestObserversSeeEveryMutation(t *testing.T) {
	s := New()
	var kinds []MutationKind
	s.Observe(func(m Mutation) { kinds = append(kinds, m.Kind) })

	b, _ := s.Create(rect(0, 0, 10, 10), "", "")
	_, _ = s.SetLabel(b.ID, "x", "#000")
	_ = s.Select(b.ID)
	s.Delete(b.ID)
	s.Reset(nil, nil)

	assert.Equal(t, []MutationKind{Created, Updated, Selected, Deleted, ResetAll}, kinds)
}

func TestResetKeepsIDsMonotonic(t *testing.T) {
	s := New()
	s.Load([]types.InitialBox{{BBox: [4]float64{0, 0, 10, 10}}}, nil)
	s.Reset([]types.InitialBox{{BBox: [4]float64{0, 0, 10, 10}}}, nil)

	boxes := s.Boxes()
	require.Len(t, boxes, 1)
	assert.Equal(t, "bbox-1", boxes[0].ID)
}

func TestHitTestPrefersTopmost(t *testing.T) {
	s := New()
	_, _ = s.Create(rect(0, 0, 100, 100), "under", "")
	top, _ := s.Create(rect(10, 10, 20, 20), "over", "")

	got, ok := s.HitTest(types.Point{X: 15, Y: 15})
	require.True(t, ok)
	assert.Equal(t, top.ID, got.ID)

	_, ok = s.HitTest(types.Point{X: 500, Y: 500})
	assert.False(t, ok)
}

func TestSelectionNeverDangles(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := New()
	for i := 0; i < 500; i++ {
		switch rng.Intn(4) {
		case 0:
			_, _ = s.Create(rect(rng.Float64()*100, rng.Float64()*100, 1+rng.Float64()*40, 1+rng.Float64()*40), "", "")
		case 1:
			if boxes := s.Boxes(); len(boxes) > 0 {
				s.Delete(boxes[rng.Intn(len(boxes))].ID)
			}
		case 2:
			if boxes := s.Boxes(); len(boxes) > 0 {
				_ = s.Select(boxes[rng.Intn(len(boxes))].ID)
			}
		case 3:
			if boxes := s.Boxes(); len(boxes) > 0 {
				_, _ = s.SetLabel(boxes[rng.Intn(len(boxes))].ID, "l", "")
			}
		}
		if sel := s.Selected(); sel != "" {
			require.True(t, s.Has(sel), "selection %s dangles after step %d", sel, i)
		}
	}
}
