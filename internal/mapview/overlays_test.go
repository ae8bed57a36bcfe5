package mapview

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func markerOverlay() *detachOverlay {
	return &detachOverlay{fakeOverlay: &fakeOverlay{shape: Shape{Kind: ShapeMarker, Geometry: orb.Point{1, 1}}}}
}

func TestOverlayManagerReplaceAll(t *testing.T) {
	var added int
	popup := NewPopupController(func() PopupHandle { return &fakePopup{} })
	m := NewOverlayManager(func(ovs []Overlay) error { added += len(ovs); return nil }, popup)

	m.Clear()
	assert.Equal(t, 0, m.Len())

	first := []*detachOverlay{markerOverlay(), markerOverlay(), markerOverlay()}
	require.NoError(t, m.ReplaceAll([]Overlay{first[0], first[1], first[2]}))
	assert.Equal(t, 3, m.Len())

	popup.Show("hi", orb.Point{1, 1})
	second := markerOverlay()
	require.NoError(t, m.ReplaceAll([]Overlay{second}))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 4, added)
	assert.False(t, popup.Visible())
	for _, o := range first {
		assert.Equal(t, 1, o.detached)
	}

	m.Clear()
	m.Clear()
	assert.Equal(t, 1, second.detached)
	assert.Equal(t, 0, m.Len())
}

func TestOverlayManagerReleaseStrategy(t *testing.T) {
	m := NewOverlayManager(nil, nil)
	both := &bothOverlay{fakeOverlay: &fakeOverlay{}}
	destroyOnly := &destroyOverlay{fakeOverlay: &fakeOverlay{}}
	require.NoError(t, m.ReplaceAll([]Overlay{both, destroyOnly}))
	m.Clear()
	assert.Equal(t, 1, both.detached)
	assert.Equal(t, 0, both.destroyed)
	assert.Equal(t, 1, destroyOnly.destroyed)
}

func TestOverlayManagerAddFailure(t *testing.T) {
	m := NewOverlayManager(func([]Overlay) error { return errors.New("native add failed") }, nil)
	o := markerOverlay()
	assert.Error(t, m.ReplaceAll([]Overlay{o}))
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 1, o.detached)
}

func TestPopupController(t *testing.T) {
	var made []*fakePopup
	p := NewPopupController(func() PopupHandle {
		fp := &fakePopup{}
		made = append(made, fp)
		return fp
	})
	p.Hide()
	assert.Empty(t, made)

	require.True(t, p.Show("a", orb.Point{1, 2}))
	require.True(t, p.Show("b", orb.Point{3, 4}))
	require.Len(t, made, 1)
	assert.Equal(t, "b", made[0].content)
	a, ok := p.Anchor()
	require.True(t, ok)
	assert.Equal(t, orb.Point{3, 4}, a)

	p.Hide()
	assert.False(t, p.Visible())
	assert.False(t, made[0].released)

	p.Release()
	p.Release()
	assert.True(t, made[0].released)

	require.True(t, p.Show("c", orb.Point{0, 0}))
	assert.Len(t, made, 2)

	unavailable := NewPopupController(func() PopupHandle { return nil })
	assert.False(t, unavailable.Show("x", orb.Point{}))
}

func TestQueueDrain(t *testing.T) {
	var q Queue
	var order []int
	q.Defer(func() {
		order = append(order, 1)
		q.Defer(func() { order = append(order, 3) })
	})
	q.Defer(func() { order = append(order, 2) })
	assert.Equal(t, 2, q.Pending())
	assert.Equal(t, 3, q.Drain())
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, q.Drain())
}
