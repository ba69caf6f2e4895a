package metablock

import "errors"

// MBNExtents and MBExtentSeparation are the ring's fixed geometry
// constants, per spec.md §3: the metablock region occupies MBNExtents
// extents placed at k*MBExtentSeparation extents apart in the file.
const (
	MBNExtents         = 2
	MBExtentSeparation = 4
)

var errZeroSlotsPerExtent = errors.New("metablock: extent too small to hold a single record")

// Geometry is the resolved, concrete shape of one ring: how many slots
// fit in an extent, and where each extent starts in the file.
type Geometry struct {
	Layout           Layout
	StaticHeaderSize int64
	ExtentSize       int64
	SlotsPerExtent   int
}

// NewGeometry derives a Geometry from a record layout and the reserved
// region's dimensions.
func NewGeometry(layout Layout, staticHeaderSize, extentSize int64) (Geometry, error) {
	recordSize := int64(layout.RecordSize())
	slotsPerExtent := int(extentSize / recordSize)
	if slotsPerExtent == 0 {
		return Geometry{}, errZeroSlotsPerExtent
	}

	return Geometry{
		Layout:           layout,
		StaticHeaderSize: staticHeaderSize,
		ExtentSize:       extentSize,
		SlotsPerExtent:   slotsPerExtent,
	}, nil
}

// TotalSlots is the number of slots across the whole ring.
func (g Geometry) TotalSlots() int {
	return MBNExtents * g.SlotsPerExtent
}

// ExtentStart returns the file offset at which extent k begins.
func (g Geometry) ExtentStart(extent int) int64 {
	return g.StaticHeaderSize + int64(extent)*MBExtentSeparation*g.ExtentSize
}
