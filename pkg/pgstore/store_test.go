package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/bbox-annotator/pkg/bridge"
	"github.com/menta2k/bbox-annotator/pkg/storage"
)

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" Review ")
	require.NoError(t, err)
	assert.Equal(t, StatusReview, st)

	_, err = ParseStatus("done")
	assert.ErrorIs(t, err, ErrStatus)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "a.jpg", Filename("/img/a.jpg"))
	assert.Equal(t, "b.png", Filename("s3://bucket/dir/b.png"))
	assert.Equal(t, "c.png", Filename("https://host/c.png?X-Amz-Signature=abc"))
	assert.Equal(t, "d.webp", Filename(`C:\shots\d.webp`))
}

func TestDocumentRowsKeepOrderAndRenumber(t *testing.T) {
	rows, err := encodeRows([]bridge.BoxState{
		{ID: "bbox-4", BBox: [4]float64{1, 2, 10, 12}, Label: "sign"},
		{ID: "bbox-9", BBox: [4]float64{0.5, 0, 3, 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, "[1,2,10,12]", rows[0].bbox)

	saved := time.Date(2025, 4, 11, 17, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	data, err := buildDocument("/img/a.jpg", [2]int{64, 48}, saved, rows)
	require.NoError(t, err)

	doc, err := decodeDocument(data)
	require.NoError(t, err)
	assert.Equal(t, "/img/a.jpg", doc.Image)
	assert.Equal(t, [2]int{64, 48}, doc.ImageSize)
	assert.True(t, saved.Equal(doc.SavedAt))
	assert.Equal(t, []bridge.BoxState{
		{ID: "bbox-0", BBox: [4]float64{1, 2, 10, 12}, Label: "sign"},
		{ID: "bbox-1", BBox: [4]float64{0.5, 0, 3, 3}},
	}, doc.Boxes)
}

func TestBuildDocumentRejectsBadBBox(t *testing.T) {
	_, err := buildDocument("a", [2]int{}, time.Time{}, []row{{bbox: `{"x":1}`}})
	assert.Error(t, err)
}

func TestSavedAtFallsBackToClock(t *testing.T) {
	now := time.Date(2025, 4, 11, 17, 0, 0, 0, time.UTC)
	assert.Equal(t, now, savedAt(document{}, func() time.Time { return now }))

	at := now.Add(-time.Hour)
	assert.Equal(t, at, savedAt(document{SavedAt: at}, func() time.Time { return now }))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), Config{DSN: "  "})
	assert.Error(t, err)
}

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ANNOTATOR_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ANNOTATOR_TEST_PG_DSN not set")
	}
	s, err := New(context.Background(), Config{DSN: dsn, Project: "test", User: "tester"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	image := fmt.Sprintf("/test/%d/street.png", time.Now().UnixNano())
	t.Cleanup(func() { _ = s.DeleteImage(context.Background(), image) })

	_, err := s.GetAnnotations(ctx, image)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.SetStatus(ctx, image, StatusAssigned), storage.ErrNotFound)

	id, err := s.RegisterImage(ctx, image, [2]int{64, 48})
	require.NoError(t, err)
	again, err := s.RegisterImage(ctx, image, [2]int{64, 48})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	st, err := s.ImageStatus(ctx, image)
	require.NoError(t, err)
	assert.Equal(t, StatusUnassigned, st)

	save := func(boxes ...bridge.BoxState) {
		payload, err := json.Marshal(document{Image: image, ImageSize: [2]int{64, 48}, Boxes: boxes})
		require.NoError(t, err)
		key, err := s.PutAnnotations(ctx, image, payload)
		require.NoError(t, err)
		assert.Equal(t, image, key)
	}
	save(
		bridge.BoxState{ID: "bbox-0", BBox: [4]float64{1, 2, 10, 12}, Label: "sign"},
		bridge.BoxState{ID: "bbox-1", BBox: [4]float64{5, 5, 8, 8}, Label: "car"},
	)
	save(bridge.BoxState{ID: "bbox-1", BBox: [4]float64{5, 5, 8, 8}, Label: "car"})

	data, err := s.GetAnnotations(ctx, image)
	require.NoError(t, err)
	doc, err := decodeDocument(data)
	require.NoError(t, err)
	assert.Equal(t, []bridge.BoxState{{ID: "bbox-0", BBox: [4]float64{5, 5, 8, 8}, Label: "car"}}, doc.Boxes)

	st, err = s.ImageStatus(ctx, image)
	require.NoError(t, err)
	assert.Equal(t, StatusUnassigned, st, "saving leaves the status alone")

	require.NoError(t, s.SetStatus(ctx, image, StatusReview))
	st, err = s.ImageStatus(ctx, image)
	require.NoError(t, err)
	assert.Equal(t, StatusReview, st)
	assert.ErrorIs(t, s.SetStatus(ctx, image, Status("done")), ErrStatus)

	require.NoError(t, s.DeleteImage(ctx, image))
	_, err = s.ImageID(ctx, image)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
