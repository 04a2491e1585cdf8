// Package planesep implements a plane-axis separation filter: a composable
// transform that sits in front of any reader, virtually splits planar axes
// (e.g. channel) into non-planar axes, and reassembles requested
// sub-regions strip-wise with a single-slot cache.
//
// The parent is asked for the requested sub-region (split axes in full),
// possibly strip by strip; that fetch is cached single-slot and the
// separated sample is then extracted from it. One mutex guards both the
// cache and parent access so concurrent opens serialize cleanly.
package planesep

import (
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/RayPlante/scifio/tiff"
)

// Parent is the abstraction a Filter wraps: satisfied by *tiff.Reader and,
// recursively, by another *Filter, so filters compose.
type Parent interface {
	GetPlaneCount(imageIndex int) (uint64, error)
	OpenPlane(imageIndex, planeIndex int, offsets, lengths []int64) (*tiff.Plane, error)
	Metadata(imageIndex int) (*tiff.ImageMetadata, error)
	ThumbnailPlane(imageIndex int) (*tiff.Plane, error)
}

// cacheKey identifies a cached parent-plane fetch: exact starts AND exact
// ends must agree for a hit -- a sub-region fetch never reuses a
// differently-bounded cached fetch.
type cacheKey struct {
	imageIndex      int
	parentPlaneIdx  int
	offsetsKey      string
	lengthsKey      string
}

type cacheEntry struct {
	bytes []byte
	meta  *tiff.ImageMetadata
}

// Filter wraps a Parent and separates the named planar axis types into the
// non-planar tail.
type Filter struct {
	mu        sync.Mutex
	parent    Parent
	separated []tiff.AxisType
	cache     *lru.Cache[cacheKey, cacheEntry]

	// AvailableMemory bounds the strip-vs-whole-plane decision heuristic;
	// defaults to a generous constant if zero.
	AvailableMemory int64
}

// DefaultAvailableMemory is used when Filter.AvailableMemory is unset: a
// conservative constant rather than a runtime memory probe, since Go has no
// portable "free memory" query.
const DefaultAvailableMemory = 256 << 20

// New wraps parent, separating the given axis types out of its planar
// prefix into the virtual reader's non-planar tail.
func New(parent Parent, separated []tiff.AxisType) *Filter {
	c, _ := lru.New[cacheKey, cacheEntry](1) // single-slot: one fetched parent plane at a time.
	return &Filter{parent: parent, separated: separated, cache: c}
}

// Metadata returns the derived ImageMetadata: the separated axis types move
// from the planar prefix to the non-planar tail, and plane count becomes
// parent plane count times the product of the separated axes' lengths.
func (f *Filter) Metadata(imageIndex int) (*tiff.ImageMetadata, error) {
	parentMeta, err := f.parent.Metadata(imageIndex)
	if err != nil {
		return nil, err
	}
	if parentMeta.Indexed {
		// Indexed color bypasses separation entirely: there is no planar
		// sample axis to split out of a palette lookup.
		return parentMeta, nil
	}
	return deriveMetadata(parentMeta, f.separated), nil
}

// offset returns the number of axes this filter splits out of the parent's
// planar prefix -- used to slice position vectors.
func (f *Filter) offset() int { return len(f.separated) }

func deriveMetadata(parent *tiff.ImageMetadata, separated []tiff.AxisType) *tiff.ImageMetadata {
	wantSplit := make(map[tiff.AxisType]bool, len(separated))
	for _, t := range separated {
		wantSplit[t] = true
	}

	derived := *parent
	var newPlanar []tiff.Axis
	var split []tiff.Axis
	for _, a := range parent.PlanarAxes() {
		if wantSplit[a.Type] {
			split = append(split, tiff.Axis{Type: a.Type, Length: a.Length, Planar: false})
		} else {
			newPlanar = append(newPlanar, a)
		}
	}
	// Splitting an interleaved channel axis out removes the interleave.
	if wantSplit[tiff.AxisChannel] {
		derived.InterleavedAxisCount = 0
	}

	axes := append(append([]tiff.Axis{}, newPlanar...), split...)
	axes = append(axes, parent.NonPlanarAxes()...)
	derived.Axes = axes
	return &derived
}

// GetOriginalIndex is the pure function virtualPlaneIndex -> parentPlaneIndex,
// letting callers correlate a virtual plane back to the parent's own
// indexing.
func (f *Filter) GetOriginalIndex(imageIndex, virtualPlaneIndex int) (int, error) {
	parentMeta, err := f.parent.Metadata(imageIndex)
	if err != nil {
		return 0, err
	}
	derived := deriveMetadata(parentMeta, f.separated)
	parentPlaneIdx, _, _ := rasterize(virtualPlaneIndex, derived, f.offset())
	return parentPlaneIdx, nil
}

// rasterize decodes virtualPlaneIndex against the derived metadata's
// non-planar axis lengths, returning the parent plane index (product of
// the non-split non-planar axes) plus the separated-position vector and
// the separated-lengths vector.
func rasterize(virtualPlaneIndex int, derived *tiff.ImageMetadata, splitCount int) (parentPlaneIdx int, separatedPos []int, separatedLengths []int) {
	nonPlanar := derived.NonPlanarAxes()
	// The first splitCount non-planar axes (in Axes order, which places
	// split axes right after the surviving planar prefix and before the
	// parent's original non-planar axes) are the separated ones.
	splitAxes := nonPlanar[:splitCount]
	parentAxes := nonPlanar[splitCount:]

	lengths := make([]int, len(nonPlanar))
	for i, a := range nonPlanar {
		lengths[i] = a.Length
	}

	coords := unrasterize(virtualPlaneIndex, lengths)
	separatedPos = coords[:splitCount]
	parentCoords := coords[splitCount:]

	separatedLengths = make([]int, len(splitAxes))
	for i, a := range splitAxes {
		separatedLengths[i] = a.Length
	}

	parentLengths := make([]int, len(parentAxes))
	for i, a := range parentAxes {
		parentLengths[i] = a.Length
	}
	parentPlaneIdx = rasterizeCoords(parentCoords, parentLengths)
	return
}

// unrasterize decodes a flat index into a mixed-radix coordinate vector,
// most-significant axis first (row-major over axis lengths in order).
func unrasterize(index int, lengths []int) []int {
	coords := make([]int, len(lengths))
	for i := len(lengths) - 1; i >= 0; i-- {
		if lengths[i] == 0 {
			continue
		}
		coords[i] = index % lengths[i]
		index /= lengths[i]
	}
	return coords
}

// rasterizeCoords is the inverse of unrasterize: the first axis is the most
// significant.
func rasterizeCoords(coords, lengths []int) int {
	idx := 0
	for i := 0; i < len(coords); i++ {
		idx = idx*lengths[i] + coords[i]
	}
	return idx
}

// OpenPlane translates a virtual plane request into a parent-space fetch
// (possibly cached), then crops/recombines it down to the requested
// separated sub-region.
func (f *Filter) OpenPlane(imageIndex, virtualPlaneIndex int, offsets, lengths []int64) (*tiff.Plane, error) {
	parentMeta, err := f.parent.Metadata(imageIndex)
	if err != nil {
		return nil, err
	}
	if parentMeta.Indexed {
		// Bypass: delegate straight to the parent.
		return f.parent.OpenPlane(imageIndex, virtualPlaneIndex, offsets, lengths)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	derived := deriveMetadata(parentMeta, f.separated)
	parentPlaneIdx, separatedPos, separatedLengths := rasterize(virtualPlaneIndex, derived, f.offset())

	// Step 1: translate virtual offsets/lengths into the parent's planar
	// coordinate space. Axes that remain planar copy through directly;
	// split axes are requested as a full [0, axisLength) span.
	parentOffsets, parentLengths := translateToParent(derived, parentMeta, f.separated, offsets, lengths)

	key := cacheKey{
		imageIndex:     imageIndex,
		parentPlaneIdx: parentPlaneIdx,
		offsetsKey:     encodeInts64(parentOffsets),
		lengthsKey:     encodeInts64(parentLengths),
	}

	// Step 2: single-slot cache check.
	if entry, ok := f.cache.Get(key); ok {
		return extractSeparated(entry.bytes, entry.meta, derived, separatedPos, separatedLengths, offsets, lengths)
	}

	// Step 3: decide strip count.
	parentPlane, err := f.fetchStripwise(imageIndex, parentPlaneIdx, parentMeta, parentOffsets, parentLengths)
	if err != nil {
		return nil, err
	}

	// Step 5: cache the (uncombined) parent plane.
	f.cache.Add(key, cacheEntry{bytes: parentPlane.Bytes, meta: parentMeta})

	return extractSeparated(parentPlane.Bytes, parentMeta, derived, separatedPos, separatedLengths, offsets, lengths)
}

// translateToParent maps a virtual-plane sub-region request back into the
// parent's own planar coordinate space.
func translateToParent(derived, parentMeta *tiff.ImageMetadata, separated []tiff.AxisType, offsets, lengths []int64) ([]int64, []int64) {
	wantSplit := make(map[tiff.AxisType]bool, len(separated))
	for _, t := range separated {
		wantSplit[t] = true
	}
	derivedPlanar := derived.PlanarAxes()
	parentOffsets := make([]int64, 0, len(parentMeta.PlanarAxes()))
	parentLengths := make([]int64, 0, len(parentMeta.PlanarAxes()))

	di := 0
	for _, pa := range parentMeta.PlanarAxes() {
		if wantSplit[pa.Type] {
			parentOffsets = append(parentOffsets, 0)
			parentLengths = append(parentLengths, int64(pa.Length))
			continue
		}
		if di < len(derivedPlanar) && len(offsets) > di {
			parentOffsets = append(parentOffsets, offsets[di])
			parentLengths = append(parentLengths, lengths[di])
		} else {
			parentOffsets = append(parentOffsets, 0)
			parentLengths = append(parentLengths, int64(pa.Length))
		}
		di++
	}
	return parentOffsets, parentLengths
}

// spatialAxisIndices returns the indices, within parentMeta.PlanarAxes(),
// of the planar axes that are neither Y (already handled as height) nor
// part of the trailing interleaved-sample run folded into bpp.
func spatialAxisIndices(parentMeta *tiff.ImageMetadata, yAxis int) []int {
	planar := parentMeta.PlanarAxes()
	xyCount := 0
	for _, a := range planar {
		if a.Type == tiff.AxisX || a.Type == tiff.AxisY {
			xyCount++
		} else {
			break
		}
	}
	var out []int
	for i := 0; i < xyCount; i++ {
		if i != yAxis {
			out = append(out, i)
		}
	}
	return out
}

// fetchStripwise decides a strip count based on AvailableMemory, then
// fetches and assembles the parent plane in row bands.
func (f *Filter) fetchStripwise(imageIndex, parentPlaneIdx int, parentMeta *tiff.ImageMetadata, parentOffsets, parentLengths []int64) (*tiff.Plane, error) {
	yAxis := -1
	for i, a := range parentMeta.PlanarAxes() {
		if a.Type == tiff.AxisY {
			yAxis = i
			break
		}
	}
	if yAxis < 0 {
		// No Y axis to strip over: fetch in one request.
		return f.parent.OpenPlane(imageIndex, parentPlaneIdx, parentOffsets, parentLengths)
	}

	height := parentLengths[yAxis]
	// bpp already folds in every interleaved sample (InterleavedSamplesOrOne),
	// so the per-row element count must only multiply the remaining purely
	// spatial planar axes (X, and any further non-interleaved spatial axis),
	// never the interleaved ones again.
	bpp := int64(parentMeta.PixelType.BytesPerPixel()) * int64(parentMeta.InterleavedSamplesOrOne())
	spatialAxisIdx := spatialAxisIndices(parentMeta, yAxis)
	rowElemCount := int64(1)
	for _, i := range spatialAxisIdx {
		rowElemCount *= parentLengths[i]
	}
	planeSize := bpp * rowElemCount * height

	availableMemory := f.AvailableMemory
	if availableMemory == 0 {
		availableMemory = DefaultAvailableMemory
	}
	strips := 1
	if availableMemory < planeSize || planeSize > math.MaxInt32 {
		strips = int(math.Sqrt(float64(height)))
		if strips < 1 {
			strips = 1
		}
	}

	if strips == 1 {
		return f.parent.OpenPlane(imageIndex, parentPlaneIdx, parentOffsets, parentLengths)
	}

	rowBytes := bpp * rowElemCount
	out := make([]byte, planeSize)
	stripHeight := height / int64(strips)
	if stripHeight == 0 {
		stripHeight = 1
	}

	yStart := int64(0)
	for yStart < height {
		h := stripHeight
		if yStart+h > height {
			h = height - yStart
		}
		stripOffsets := append([]int64(nil), parentOffsets...)
		stripLengths := append([]int64(nil), parentLengths...)
		stripOffsets[yAxis] = parentOffsets[yAxis] + yStart
		stripLengths[yAxis] = h

		stripPlane, err := f.parent.OpenPlane(imageIndex, parentPlaneIdx, stripOffsets, stripLengths)
		if err != nil {
			return nil, err
		}
		dstStart := yStart * rowBytes
		n := h * rowBytes
		if dstStart+n > int64(len(out)) {
			n = int64(len(out)) - dstStart
		}
		if n > 0 && int64(len(stripPlane.Bytes)) >= n {
			copy(out[dstStart:dstStart+n], stripPlane.Bytes[:n])
		}
		yStart += h
	}

	return &tiff.Plane{Bytes: out, Offsets: parentOffsets, Lengths: parentLengths, Meta: parentMeta}, nil
}

// extractSeparated pulls the separated sample at separatedPos out of the
// cached/fetched parent bytes, which cover the sub-region named by the
// virtual offsets/lengths; it serves both the freshly-fetched path and the
// cache-hit path.
func extractSeparated(parentBytes []byte, parentMeta, derived *tiff.ImageMetadata, separatedPos, separatedLengths []int, offsets, lengths []int64) (*tiff.Plane, error) {
	splitAxes := findSplitAxes(parentMeta, derived)
	if len(splitAxes) == 0 {
		return &tiff.Plane{Bytes: append([]byte(nil), parentBytes...), Offsets: offsets, Lengths: lengths, Meta: derived}, nil
	}

	bpp := parentMeta.PixelType.BytesPerPixel()
	parentPlanar := append([]tiff.Axis(nil), parentMeta.PlanarAxes()...)
	splitIdx := splitAxes[0].index
	pos := separatedPos[0]

	// parentBytes hold only the requested sub-region: the non-split axes
	// take their lengths from the virtual request, as in translateToParent.
	di := 0
	for i := range parentPlanar {
		if i != splitIdx {
			if di < len(lengths) {
				parentPlanar[i].Length = int(lengths[di])
			}
			di++
		}
	}

	xyElems := 1
	for i, a := range parentPlanar {
		if i != splitIdx {
			xyElems *= a.Length
		}
	}

	out := make([]byte, xyElems*bpp)
	for e := 0; e < xyElems; e++ {
		// interleavedIndex walks every planar axis (in raster order) to
		// locate element e at split-axis coordinate pos; it is the single
		// source of truth for the stride math, so the split axis's
		// position within the planar list never matters.
		srcSample := interleavedIndex(e, pos, parentPlanar, splitIdx)
		srcOff := srcSample * bpp
		dstOff := e * bpp
		if srcOff+bpp <= len(parentBytes) {
			copy(out[dstOff:dstOff+bpp], parentBytes[srcOff:srcOff+bpp])
		}
	}

	return &tiff.Plane{Bytes: out, Offsets: offsets, Lengths: lengths, Meta: derived}, nil
}

// rasterStrides computes the flat-index stride of each axis in axes, under
// the raster order TIFF chunky (PlanarConfiguration=1) storage actually
// uses: Y is the slowest-varying axis, X next, and any further planar axes
// (e.g. Channel, for interleaved samples) are the fastest-varying, sample
// bytes interleaved within each pixel. axes is always parentMeta.PlanarAxes(),
// which by construction (buildImageMetadata) orders X first and Y second.
func rasterStrides(axes []tiff.Axis) []int {
	strides := make([]int, len(axes))
	stride := 1
	for i := len(axes) - 1; i >= 2; i-- {
		strides[i] = stride
		stride *= axes[i].Length
	}
	if len(axes) > 0 {
		strides[0] = stride
		stride *= axes[0].Length
	}
	if len(axes) > 1 {
		strides[1] = stride
		stride *= axes[1].Length
	}
	return strides
}

type splitAxisRef struct {
	index int
	typ   tiff.AxisType
}

func findSplitAxes(parentMeta, derived *tiff.ImageMetadata) []splitAxisRef {
	derivedSplitTypes := make(map[tiff.AxisType]bool)
	for _, a := range derived.NonPlanarAxes() {
		derivedSplitTypes[a.Type] = true
	}
	var out []splitAxisRef
	for i, a := range parentMeta.PlanarAxes() {
		if derivedSplitTypes[a.Type] && a.Type != tiff.AxisX && a.Type != tiff.AxisY {
			out = append(out, splitAxisRef{index: i, typ: a.Type})
		}
	}
	return out
}

// interleavedIndex computes the flat sample index of element e (over all
// planar axes except splitIdx, in axis order) at split-axis coordinate pos,
// under the TIFF chunky raster order rasterStrides documents.
func interleavedIndex(e, pos int, axes []tiff.Axis, splitIdx int) int {
	// unrasterize treats the LAST entry of lens as fastest-varying, while
	// rasterStrides treats the FIRST axis (X) as faster than later ones
	// (Y slowest of all). Walking axes back-to-front when building lens
	// lines the two conventions up: X (processed last here) lands last in
	// lens, so it decodes as the fastest-varying coordinate.
	order := make([]int, 0, len(axes)-1)
	lens := make([]int, 0, len(axes)-1)
	for i := len(axes) - 1; i >= 0; i-- {
		if i == splitIdx {
			continue
		}
		order = append(order, i)
		lens = append(lens, axes[i].Length)
	}
	coords := unrasterize(e, lens)

	full := make([]int, len(axes))
	full[splitIdx] = pos
	for ci, i := range order {
		full[i] = coords[ci]
	}

	strides := rasterStrides(axes)
	idx := 0
	for i := range axes {
		idx += full[i] * strides[i]
	}
	return idx
}

func encodeInts64(vs []int64) string {
	out := make([]byte, 0, len(vs)*9)
	for _, v := range vs {
		out = append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
			byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56), ',')
	}
	return string(out)
}

// ThumbnailPlane applies the same separation projection to the parent's
// thumbnail plane that OpenPlane applies to regular planes. The thumbnail
// IFD carries its own dimensions (distinct from the main image's), so the
// derived metadata and split axes are computed from the thumbnail plane's
// own Meta rather than from Filter.Metadata; the fetch itself is always a
// single full-plane read, with no sub-region translation.
func (f *Filter) ThumbnailPlane(imageIndex int) (*tiff.Plane, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parentPlane, err := f.parent.ThumbnailPlane(imageIndex)
	if err != nil {
		return nil, err
	}
	if parentPlane.Meta.Indexed {
		return parentPlane, nil
	}

	derived := deriveMetadata(parentPlane.Meta, f.separated)
	_, separatedPos, separatedLengths := rasterize(0, derived, f.offset())
	lengths := derived.PlanarLengths64()
	offsets := make([]int64, len(lengths))
	return extractSeparated(parentPlane.Bytes, parentPlane.Meta, derived, separatedPos, separatedLengths, offsets, lengths)
}

// GetPlaneCount returns the derived plane count: parent plane count times
// the product of the separated axes' lengths.
func (f *Filter) GetPlaneCount(imageIndex int) (uint64, error) {
	meta, err := f.Metadata(imageIndex)
	if err != nil {
		return 0, err
	}
	return uint64(meta.PlaneCount()), nil
}

// SetSource replaces the parent and invalidates the cache: a cached fetch
// from the old parent must never be served once the parent has changed.
func (f *Filter) SetSource(parent Parent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parent = parent
	f.cache.Purge()
}

// Close invalidates the cache. It does not close the parent, which callers
// may still be using elsewhere -- a Filter wraps its Parent but does not
// own it.
func (f *Filter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache.Purge()
	return nil
}
