package flash

import (
	"sort"

	"github.com/vertexdbg/probeforge/pkg/target"
)

// span is one (address, bytes) entry a caller wants written.
type span struct {
	Address uint32
	Data    []byte
}

func (s span) end() uint32 { return s.Address + uint32(len(s.Data)) }

// FlashBuilder accumulates the spans a programming job wants written,
// unordered and not checked for overlap; where spans overlap, BuildLayout
// takes each byte from the span with the higher start address (spec.md §3
// "Flash layout... derived per programming job from a flash builder").
type FlashBuilder struct {
	spans []span
}

// NewFlashBuilder returns an empty builder.
func NewFlashBuilder() *FlashBuilder { return &FlashBuilder{} }

// AddData appends a span of bytes to be written starting at addr.
func (b *FlashBuilder) AddData(addr uint32, data []byte) {
	b.spans = append(b.spans, span{Address: addr, Data: data})
}

// FlashSector is one erase-granularity unit that must be erased before its
// pages can be programmed.
type FlashSector struct {
	Address uint32
	Size    uint32
}

// FlashPage holds the final contents to write at Address, including bytes
// preserved from flash where a Fill restored them.
type FlashPage struct {
	Address uint32
	Data    []byte
}

// FlashFill is an address range within a page that must be read back from
// flash before erase, to preserve bytes the caller did not intend to touch
// (spec.md §3, §4.4.4 step 2).
type FlashFill struct {
	Address   uint32
	Size      uint32
	PageIndex int
}

// FlashLayout is the derived sectors/pages/fills for one programming job,
// in ascending address order (spec.md §4.4.4 step 1).
type FlashLayout struct {
	Sectors []FlashSector
	Pages   []FlashPage
	Fills   []FlashFill
}

// BuildLayout intersects the builder's spans with region's sector table,
// producing the sectors to erase and the pages to program. When
// restoreUnwritten is true, untouched bytes within a touched page are
// recorded as Fills so the caller can read them back before erase
// (spec.md §4.4.4 step 1).
func (b *FlashBuilder) BuildLayout(props target.FlashProperties, restoreUnwritten bool) (*FlashLayout, error) {
	b.sortSpans()

	boundaries := sectorBoundaries(props)
	if len(boundaries) == 0 {
		return &FlashLayout{}, nil
	}

	layout := &FlashLayout{}
	for i, sectorAddr := range boundaries {
		sectorEnd := props.AddressRangeEnd
		if i+1 < len(boundaries) {
			sectorEnd = boundaries[i+1]
		}
		sectorSize := sectorEnd - sectorAddr

		if !b.touches(sectorAddr, sectorEnd) {
			continue
		}
		layout.Sectors = append(layout.Sectors, FlashSector{Address: sectorAddr, Size: sectorSize})

		pageSize := props.PageSize
		if pageSize == 0 {
			pageSize = sectorSize
		}
		for pageAddr := sectorAddr; pageAddr < sectorEnd; pageAddr += pageSize {
			pageEnd := pageAddr + pageSize
			if pageEnd > sectorEnd {
				pageEnd = sectorEnd
			}
			if !b.touches(pageAddr, pageEnd) {
				continue
			}

			page, fills := b.buildPage(pageAddr, pageEnd, props.ErasedByteValue, restoreUnwritten, len(layout.Pages))
			layout.Pages = append(layout.Pages, page)
			layout.Fills = append(layout.Fills, fills...)
		}
	}
	return layout, nil
}

// sectorBoundaries walks props.Sectors' runs across the declared address
// range, returning every sector's start address in ascending order.
func sectorBoundaries(props target.FlashProperties) []uint32 {
	var out []uint32
	addr := props.AddressRangeStart
	for addr < props.AddressRangeEnd {
		size := props.SectorSizeAt(addr)
		if size == 0 {
			break
		}
		out = append(out, addr)
		addr += size
	}
	return out
}

func (b *FlashBuilder) touches(start, end uint32) bool {
	for _, s := range b.spans {
		if s.Address < end && start < s.end() {
			return true
		}
	}
	return false
}

// buildPage fills page [start, end) with data from overlapping spans,
// padding the rest with erasedByte. When restoreUnwritten is set, runs of
// bytes not covered by any span become Fills.
func (b *FlashBuilder) buildPage(start, end uint32, erasedByte byte, restoreUnwritten bool, pageIndex int) (FlashPage, []FlashFill) {
	size := end - start
	data := make([]byte, size)
	for i := range data {
		data[i] = erasedByte
	}
	covered := make([]bool, size)

	for _, s := range b.spans {
		if s.Address >= end || s.end() <= start {
			continue
		}
		lo := start
		if s.Address > lo {
			lo = s.Address
		}
		hi := end
		if s.end() < hi {
			hi = s.end()
		}
		for addr := lo; addr < hi; addr++ {
			data[addr-start] = s.Data[addr-s.Address]
			covered[addr-start] = true
		}
	}

	var fills []FlashFill
	if restoreUnwritten {
		fills = coveredToFills(covered, start, pageIndex)
	}
	return FlashPage{Address: start, Data: data}, fills
}

// coveredToFills collapses runs of uncovered bytes into FlashFill entries.
func coveredToFills(covered []bool, base uint32, pageIndex int) []FlashFill {
	var fills []FlashFill
	runStart := -1
	for i := 0; i <= len(covered); i++ {
		uncovered := i < len(covered) && !covered[i]
		if uncovered && runStart == -1 {
			runStart = i
		} else if !uncovered && runStart != -1 {
			fills = append(fills, FlashFill{
				Address:   base + uint32(runStart),
				Size:      uint32(i - runStart),
				PageIndex: pageIndex,
			})
			runStart = -1
		}
	}
	return fills
}

// sortSpans orders spans by address so overlapping-span precedence and
// logging are deterministic regardless of the order callers added them in.
func (b *FlashBuilder) sortSpans() {
	sort.Slice(b.spans, func(i, j int) bool { return b.spans[i].Address < b.spans[j].Address })
}
