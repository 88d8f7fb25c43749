package flash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexdbg/probeforge/pkg/target"
)

func sampleProps() target.FlashProperties {
	return target.FlashProperties{
		AddressRangeStart: 0x0800_0000,
		AddressRangeEnd:   0x0800_2000,
		PageSize:          256,
		ErasedByteValue:   0xFF,
		Sectors: []target.SectorDescription{
			{Address: 0x0800_0000, Size: 0x1000},
			{Address: 0x0800_1000, Size: 0x1000},
		},
	}
}

func TestBuildLayoutSkipsUntouchedSectors(t *testing.T) {
	b := NewFlashBuilder()
	b.AddData(0x0800_0010, []byte{1, 2, 3, 4})

	layout, err := b.BuildLayout(sampleProps(), false)
	require.NoError(t, err)
	require.Len(t, layout.Sectors, 1)
	assert.Equal(t, uint32(0x0800_0000), layout.Sectors[0].Address)
}

func TestBuildLayoutPagesNeverCrossSectorBoundary(t *testing.T) {
	b := NewFlashBuilder()
	// a span straddling the two sectors' boundary at 0x0800_1000
	b.AddData(0x0800_0F00, make([]byte, 0x200))

	layout, err := b.BuildLayout(sampleProps(), false)
	require.NoError(t, err)
	require.Len(t, layout.Sectors, 2, "span crosses the sector boundary")
	for _, p := range layout.Pages {
		crosses := p.Address < 0x0800_1000 && p.Address+uint32(len(p.Data)) > 0x0800_1000
		assert.Falsef(t, crosses, "page at 0x%X (size %d) crosses the sector boundary at 0x0800_1000", p.Address, len(p.Data))
	}
}

func TestBuildLayoutFillsErasedByteOutsideSpans(t *testing.T) {
	b := NewFlashBuilder()
	b.AddData(0x0800_0000, []byte{0xAA, 0xBB})

	layout, err := b.BuildLayout(sampleProps(), false)
	require.NoError(t, err)
	page := layout.Pages[0]
	require.Equal(t, []byte{0xAA, 0xBB}, page.Data[0:2])
	assert.Equal(t, byte(0xFF), page.Data[2], "erased value, outside the span")
}

func TestBuildLayoutRestoreUnwrittenProducesFills(t *testing.T) {
	b := NewFlashBuilder()
	b.AddData(0x0800_0000, []byte{1, 2})

	layout, err := b.BuildLayout(sampleProps(), true)
	require.NoError(t, err)
	require.NotEmpty(t, layout.Fills, "expected at least one fill for bytes not covered by the span")
	assert.Equal(t, uint32(0x0800_0002), layout.Fills[0].Address, "first byte after the span")
}

func TestBuildLayoutWithoutRestoreProducesNoFills(t *testing.T) {
	b := NewFlashBuilder()
	b.AddData(0x0800_0000, []byte{1, 2})

	layout, err := b.BuildLayout(sampleProps(), false)
	require.NoError(t, err)
	assert.Empty(t, layout.Fills, "restoreUnwritten is false")
}

func TestSectorBoundariesRepeatsLastRunToRangeEnd(t *testing.T) {
	props := sampleProps()
	props.AddressRangeEnd = 0x0800_3000 // the last run's 0x1000 sectors repeat up to here

	got := sectorBoundaries(props)
	want := []uint32{0x0800_0000, 0x0800_1000, 0x0800_2000}
	assert.Equal(t, want, got)
}
