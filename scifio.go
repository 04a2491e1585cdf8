// Package scifio ties the location, source, stream, tiff and planesep
// packages together behind a single entry point: Open resolves an id to a
// byte stream, parses it as TIFF, and optionally wraps the result in a
// plane-separator filter.
package scifio

import (
	"encoding/binary"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/RayPlante/scifio/location"
	"github.com/RayPlante/scifio/planesep"
	"github.com/RayPlante/scifio/source"
	"github.com/RayPlante/scifio/stream"
	"github.com/RayPlante/scifio/tiff"
)

// ParserLevel names how much of a TIFF file a parser walks. Open records
// it in Config but does not pass it to the TIFF parser, which always walks
// the full IFD chain whatever the level.
type ParserLevel int

const (
	// ParserMinimum names reading only what's needed to answer
	// GetPlaneCount/Metadata for the first image.
	ParserMinimum ParserLevel = iota
	// ParserNoOverlays names walking the full IFD chain but skipping sub-IFD
	// overlays (thumbnails, EXIF/GPS side directories).
	ParserNoOverlays
	// ParserAll names walking the full IFD chain including overlays.
	ParserAll
)

// Region restricts reads to a rectangular subset of a plane's X/Y
// axes, offsets and lengths given in pixels.
type Region struct {
	X, Y, Width, Height int
}

// FilterSpec is a tagged-union marker for the filters a Config can request.
// Only PlaneSeparatorSpec is implemented by this module; ChannelFillerSpec
// and MinMaxFilterSpec are recognized so a Config can name a filter this
// engine doesn't yet implement, but constructing a Reader with one of those
// returns ErrFilterNotImplemented.
type FilterSpec interface {
	isFilterSpec()
}

// PlaneSeparatorSpec requests that the named axes be split out of interleaved
// planes into independently addressable virtual planes (see planesep.Filter).
type PlaneSeparatorSpec struct {
	Axes []tiff.AxisType
}

func (PlaneSeparatorSpec) isFilterSpec() {}

// ChannelFillerSpec requests indexed-color expansion to RGB. Not implemented
// by this module.
type ChannelFillerSpec struct{}

func (ChannelFillerSpec) isFilterSpec() {}

// MinMaxFilterSpec requests per-plane min/max statistics tracking. Not
// implemented by this module.
type MinMaxFilterSpec struct{}

func (MinMaxFilterSpec) isFilterSpec() {}

// ErrFilterNotImplemented is returned by Open when cfg.Filters names a
// FilterSpec this module doesn't implement.
var ErrFilterNotImplemented = errors.New("scifio: filter not implemented")

// Config controls how Open resolves and parses an id.
type Config struct {
	GroupFiles    bool
	ParserLevel   ParserLevel
	Filters       []FilterSpec
	ImageIndex    int
	SubRegion     *Region
	ComputeMinMax bool

	// Registry is consulted for alias/pre-registered-handle resolution and
	// directory listings. Defaults to location.Default() when nil.
	Registry *location.Registry
	// HTTPClient is used when id resolves to a URLHandle, or to fetch the
	// raw bytes behind a .gz/.bz2-wrapped URL. Defaults to
	// http.DefaultClient when nil.
	HTTPClient *http.Client
}

// Option mutates a Config; With* constructors build a Config via functional
// options so unknown option names are caught at compile time rather than
// at construction-time key validation.
type Option func(*Config)

func WithGroupFiles(v bool) Option { return func(c *Config) { c.GroupFiles = v } }

func WithParserLevel(level ParserLevel) Option {
	return func(c *Config) { c.ParserLevel = level }
}

func WithFilter(spec FilterSpec) Option {
	return func(c *Config) { c.Filters = append(c.Filters, spec) }
}

func WithImageIndex(i int) Option { return func(c *Config) { c.ImageIndex = i } }

func WithSubRegion(r Region) Option { return func(c *Config) { c.SubRegion = &r } }

func WithComputeMinMax(v bool) Option { return func(c *Config) { c.ComputeMinMax = v } }

func WithRegistry(r *location.Registry) Option { return func(c *Config) { c.Registry = r } }

func WithHTTPClient(hc *http.Client) Option { return func(c *Config) { c.HTTPClient = hc } }

// NewConfig builds a Config from functional options, defaulting ParserLevel
// to ParserAll.
func NewConfig(opts ...Option) Config {
	cfg := Config{ParserLevel: ParserAll}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Parent is the plane-source abstraction a Reader delegates to: a bare
// *tiff.Reader, or a chain of *planesep.Filter wrapping one.
type Parent = planesep.Parent

// Reader is the handle Open returns: a tiff.Reader, optionally wrapped in a
// chain of filters, reachable through one uniform Parent-shaped surface.
type Reader struct {
	cfg    Config
	tiff   *tiff.Reader
	parent Parent
}

// Open resolves id (a local path, a URL, or a pre-registered location alias)
// to a byte stream, parses it as TIFF, and applies cfg.Filters in order.
func Open(id string, cfg Config) (*Reader, error) {
	if err := checkFilterSupport(cfg.Filters); err != nil {
		return nil, err
	}

	registry := cfg.Registry
	if registry == nil {
		registry = location.Default()
	}

	resolved := registry.GetMappedID(id)

	handle, err := openHandle(resolved, registry, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "scifio: opening %q", id)
	}

	s := stream.New(handle)
	tr, err := tiff.NewReader(s)
	if err != nil {
		handle.Close()
		return nil, errors.Wrapf(err, "scifio: parsing %q as TIFF", id)
	}

	r := &Reader{cfg: cfg, tiff: tr, parent: tr}
	for _, spec := range cfg.Filters {
		if ps, ok := spec.(PlaneSeparatorSpec); ok {
			r.parent = planesep.New(r.parent, ps.Axes)
		}
	}
	return r, nil
}

// checkFilterSupport rejects any FilterSpec this module doesn't implement,
// before any I/O happens.
func checkFilterSupport(specs []FilterSpec) error {
	for _, spec := range specs {
		switch spec.(type) {
		case PlaneSeparatorSpec:
			// implemented
		case ChannelFillerSpec:
			return errors.Wrap(ErrFilterNotImplemented, "ChannelFillerSpec")
		case MinMaxFilterSpec:
			return errors.Wrap(ErrFilterNotImplemented, "MinMaxFilterSpec")
		default:
			return errors.Errorf("scifio: unrecognized filter spec %T", spec)
		}
	}
	return nil
}

// openHandle builds the source.Handle for resolved: a compressed-archive
// wrapper around the raw bytes for .gz/.bz2/.zip suffixes, or a direct
// file/URL/pre-registered handle otherwise.
func openHandle(resolved string, registry *location.Registry, cfg Config) (source.Handle, error) {
	if h := registry.GetMappedSource(resolved); h != nil {
		return h, nil
	}

	order := binary.LittleEndian
	isURL := strings.HasPrefix(resolved, "http://") || strings.HasPrefix(resolved, "https://")
	lower := strings.ToLower(resolved)

	switch {
	case strings.HasSuffix(lower, ".gz"):
		return source.NewGzipHandle(order, rawOpener(resolved, isURL, cfg)), nil
	case strings.HasSuffix(lower, ".bz2"):
		return source.NewBzip2Handle(order, rawOpener(resolved, isURL, cfg)), nil
	case strings.HasSuffix(lower, ".zip"):
		return openZipHandle(resolved, order)
	case isURL:
		client := cfg.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		return source.NewURLHandle(resolved, client, order)
	default:
		return source.OpenFileHandle(resolved, order)
	}
}

// rawOpener returns a fresh io.ReadCloser over the (still-compressed) bytes
// at resolved each time it's called, as source.NewGzipHandle/NewBzip2Handle
// require for their restart-from-start semantics.
func rawOpener(resolved string, isURL bool, cfg Config) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		if isURL {
			client := cfg.HTTPClient
			if client == nil {
				client = http.DefaultClient
			}
			resp, err := client.Get(resolved)
			if err != nil {
				return nil, err
			}
			return resp.Body, nil
		}
		return os.Open(resolved)
	}
}

// openZipHandle opens resolved directly via os.Open (rather than through a
// source.FileHandle, which only exposes sequential Read/Seek): ZipHandle
// needs true io.ReaderAt random access to walk the archive's central
// directory, and *os.File provides that natively.
func openZipHandle(resolved string, order binary.ByteOrder) (source.Handle, error) {
	f, err := os.Open(resolved)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	zh, err := source.NewZipHandle(f, fi.Size(), "", order)
	if err != nil {
		f.Close()
		return nil, err
	}
	return zh, nil
}

// GetPlaneCount, Metadata, OpenPlane and ThumbnailPlane delegate to whichever
// Parent (the bare tiff.Reader, or the outermost filter) Open constructed.

func (r *Reader) GetPlaneCount(imageIndex int) (uint64, error) {
	return r.parent.GetPlaneCount(imageIndex)
}

func (r *Reader) Metadata(imageIndex int) (*tiff.ImageMetadata, error) {
	return r.parent.Metadata(imageIndex)
}

func (r *Reader) OpenPlane(imageIndex, planeIndex int, offsets, lengths []int64) (*tiff.Plane, error) {
	if region := r.cfg.SubRegion; region != nil && offsets == nil && lengths == nil {
		meta, err := r.parent.Metadata(imageIndex)
		if err != nil {
			return nil, err
		}
		axes := meta.PlanarAxes()
		offsets = make([]int64, len(axes))
		lengths = meta.PlanarLengths64()
		for i, a := range axes {
			switch a.Type {
			case tiff.AxisX:
				offsets[i] = int64(region.X)
				lengths[i] = int64(region.Width)
			case tiff.AxisY:
				offsets[i] = int64(region.Y)
				lengths[i] = int64(region.Height)
			}
		}
	}
	return r.parent.OpenPlane(imageIndex, planeIndex, offsets, lengths)
}

func (r *Reader) ThumbnailPlane(imageIndex int) (*tiff.Plane, error) {
	return r.parent.ThumbnailPlane(imageIndex)
}

// Warnings surfaces best-effort parser decisions (e.g. ImageJ truncated-stack
// recovery) made while opening id.
func (r *Reader) Warnings() []string { return r.tiff.Warnings() }

// Close releases the underlying source.Handle.
func (r *Reader) Close() error { return r.tiff.Close() }
