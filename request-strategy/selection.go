package requestStrategy

import (
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/multiless"
)

const (
	// Files with this priority are not downloaded.
	SkipPriority = 0
	// The priority of files nobody expressed an opinion on.
	DefaultPriority = 2
)

// How pieces are chosen within one selection group.
type Mode int

const (
	ModeSequential Mode = iota
	ModeRandom
	ModeRarest
	ModeRandomizedRarest
)

func ModeFor(rarest, random bool) Mode {
	switch {
	case rarest && random:
		return ModeRandomizedRarest
	case rarest:
		return ModeRarest
	case random:
		return ModeRandom
	default:
		return ModeSequential
	}
}

func (m Mode) String() string {
	switch m {
	case ModeSequential:
		return "sequential"
	case ModeRandom:
		return "random"
	case ModeRarest:
		return "rarest"
	case ModeRandomizedRarest:
		return "randomized-rarest"
	}
	return "unknown"
}

// How a single file of the torrent should be downloaded. Offset and Length are in bytes within the
// torrent's concatenated data.
type FileSelection struct {
	Offset, Length int64
	Priority       int
	Rarest         bool
	Random         bool
	// Bytes at the start and end of the file to fetch before the rest of it.
	PrefetchHead, PrefetchTail int64
}

func (fs FileSelection) Skip() bool {
	return fs.Priority <= SkipPriority
}

func (fs FileSelection) Mode() Mode {
	return ModeFor(fs.Rarest, fs.Random)
}

type selectionGroupKey struct {
	priority int
	prefetch bool
	mode     Mode
}

type selectionGroup struct {
	selectionGroupKey
	pieces *roaring.Bitmap
}

func groupLess(a, b selectionGroupKey) multiless.Computation {
	return multiless.New().Int(
		b.priority, a.priority,
	).Bool(
		b.prefetch, a.prefetch,
	).Int(
		int(a.mode), int(b.mode),
	)
}

type pieceRange struct {
	numPieces   int
	pieceLength int64
}

// Adds the pieces overlapping the byte extent [begin, end) to bm.
func (me pieceRange) addExtent(bm *roaring.Bitmap, begin, end int64) {
	if end <= begin {
		return
	}
	first := begin / me.pieceLength
	last := (end + me.pieceLength - 1) / me.pieceLength
	last = min(last, int64(me.numPieces))
	bm.AddRange(uint64(first), uint64(last))
}

// Builds a Complex order from per-file selections, trying higher priority groups first and
// prefetch regions before file bodies. Also returns the pieces that belong only to skipped files.
// r may be nil to use the global random source.
func BuildPieceOrder(
	numPieces int, pieceLength int64, files []FileSelection, r Rand,
) (order *Complex, skipped *roaring.Bitmap) {
	panicif.LessThanOrEqual(pieceLength, 0)
	pr := pieceRange{numPieces, pieceLength}
	groups := make(map[selectionGroupKey]*roaring.Bitmap)
	selected := roaring.New()
	skipped = roaring.New()
	groupFor := func(key selectionGroupKey) *roaring.Bitmap {
		bm, ok := groups[key]
		if !ok {
			bm = roaring.New()
			groups[key] = bm
		}
		return bm
	}
	for _, f := range files {
		end := f.Offset + f.Length
		if f.Skip() {
			pr.addExtent(skipped, f.Offset, end)
			continue
		}
		all := roaring.New()
		pr.addExtent(all, f.Offset, end)
		selected.Or(all)
		prefetch := roaring.New()
		pr.addExtent(prefetch, f.Offset, f.Offset+min(f.PrefetchHead, f.Length))
		pr.addExtent(prefetch, end-min(f.PrefetchTail, f.Length), end)
		if !prefetch.IsEmpty() {
			groupFor(selectionGroupKey{f.Priority, true, f.Mode()}).Or(prefetch)
		}
		all.AndNot(prefetch)
		if !all.IsEmpty() {
			groupFor(selectionGroupKey{f.Priority, false, f.Mode()}).Or(all)
		}
	}
	// Pieces shared with a selected file are needed regardless.
	skipped.AndNot(selected)
	sorted := make([]selectionGroup, 0, len(groups))
	for key, pieces := range groups {
		sorted = append(sorted, selectionGroup{key, pieces})
	}
	slices.SortFunc(sorted, func(a, b selectionGroup) int {
		return groupLess(a.selectionGroupKey, b.selectionGroupKey).OrderingInt()
	})
	orders := make([]PieceOrder, 0, len(sorted))
	for _, group := range sorted {
		orders = append(orders, NewPieceOrder(group.mode, group.pieces, r))
	}
	order = NewComplex(orders...)
	return
}

func NewPieceOrder(mode Mode, mask *roaring.Bitmap, r Rand) PieceOrder {
	switch mode {
	case ModeSequential:
		return NewSequential(mask)
	case ModeRandom:
		return NewRandom(mask, r)
	case ModeRarest:
		return NewRarest(mask)
	case ModeRandomizedRarest:
		return NewRandomizedRarest(mask, r)
	}
	panic(mode)
}
