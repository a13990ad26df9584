// Package memory implements byte-addressable symbolic memory over a
// cell-indexed bitvector array: the same "cells plus within-cell
// shift-and-mask" decomposition as a bounded-array SMT theory, just
// represented as an append-only write log instead of an actual Select/Store
// array term (pkg/solver has no backing array theory to delegate to).
package memory

import (
	"github.com/oisee/symexec/pkg/bv"
	"github.com/oisee/symexec/pkg/serr"
)

const (
	// IndexBits is the width of every address handled by Memory.
	IndexBits uint32 = 64
	// CellBits is the width of a single memory cell; reads/writes are
	// decomposed into whole cells plus a within-cell remainder.
	CellBits uint32 = 64
	// BitsInByte is the number of bits addressed by one unit of offset.
	BitsInByte uint32 = 8
	// LogBitsInByte is log2(BitsInByte), used to turn a byte offset into a
	// bit shift amount.
	LogBitsInByte uint32 = 3
	// CellBytes is how many bytes make up one cell.
	CellBytes uint32 = CellBits / BitsInByte
	// LogCellBytes is log2(CellBytes): this many low address bits select
	// the offset within a cell; the rest select the cell number.
	LogCellBytes uint32 = 3
)

// write records one assignment to a cell-granularity slot, in the order it
// was performed. Later writes shadow earlier ones at the same (possibly
// symbolic) cell address via an if-then-else chain built at read time --
// the same semantics an SMT array theory's Store/Select chain gives, just
// evaluated lazily instead of held as a solver-side term.
type write struct {
	cellAddr bv.BV // width IndexBits-LogCellBytes
	val      bv.BV // width CellBits
}

// Memory is symbolic, byte-addressable memory indexed by 64-bit addresses,
// with 64-bit cells as the unit of storage.
type Memory struct {
	logBitsInByteAsBV bv.BV
	background        bv.BV // value an unwritten cell reads as
	writes            []write
}

// New constructs an empty memory; every address reads as the concrete
// value zero until written.
func New() *Memory {
	return newWithBackground(bv.Zero(CellBits))
}

// NewSymbolic constructs an empty memory whose never-written cells read as
// one shared, unconstrained symbolic value rather than zero, for
// Config.SymbolicInit.
func NewSymbolic() *Memory {
	return newWithBackground(bv.NewVar("uninit_mem", CellBits))
}

func newWithBackground(background bv.BV) *Memory {
	return &Memory{
		logBitsInByteAsBV: bv.FromUint64(uint64(LogBitsInByte), CellBits),
		background:        background,
	}
}

// Clone returns an independent copy of m, for State.Fork. The underlying
// BV terms are immutable and shared; only the write log's backing slice is
// copied so future writes to the clone don't alias the original.
func (m *Memory) Clone() *Memory {
	c := &Memory{logBitsInByteAsBV: m.logBitsInByteAsBV, background: m.background}
	c.writes = append(c.writes, m.writes...)
	return c
}

func cellNumberOf(addr bv.BV) bv.BV {
	return addr.Extract(IndexBits-1, LogCellBytes)
}

// readCell reads the entire cell containing addr. If addr is not
// cell-aligned, this gives the whole cell the address falls within.
func (m *Memory) readCell(addr bv.BV) bv.BV {
	cellNum := cellNumberOf(addr)
	result := m.background
	for _, w := range m.writes {
		result = bv.Ite(cellNum.Eq(w.cellAddr), w.val, result)
	}
	return result
}

// writeCell writes an entire cell at the address containing addr.
func (m *Memory) writeCell(addr bv.BV, val bv.BV) {
	m.writes = append(m.writes, write{cellAddr: cellNumberOf(addr), val: val})
}

func (m *Memory) offsetInBits(addr bv.BV) bv.BV {
	return addr.Extract(LogCellBytes-1, 0).ZeroExt(CellBits).Shl(m.logBitsInByteAsBV)
}

// readWithinCell reads bits (<= CellBits) of memory at any alignment, not
// crossing a cell boundary.
func (m *Memory) readWithinCell(addr bv.BV, bits uint32) bv.BV {
	cellContents := m.readCell(addr)
	if bits == CellBits {
		return cellContents
	}
	offset := m.offsetInBits(addr)
	return cellContents.Lshr(offset).Extract(bits-1, 0)
}

// writeWithinCell writes val (width <= CellBits) at any alignment, not
// crossing a cell boundary.
func (m *Memory) writeWithinCell(addr bv.BV, val bv.BV) {
	writeSize := val.Width()
	if writeSize == CellBits {
		m.writeCell(addr, val)
		return
	}
	offset := m.offsetInBits(addr)
	maskClear := bv.Zero(writeSize).Not().ZeroExt(CellBits).Shl(offset).Not()
	maskWrite := val.ZeroExt(CellBits).Shl(offset)
	dataToWrite := m.readCell(addr).And(maskClear).Or(maskWrite)
	m.writeCell(addr, dataToWrite)
}

// isCellAligned reports whether addr is concretely known to have zero cell
// offset. Addresses whose alignment cannot be determined concretely are
// treated as unaligned by the caller, which is the conservative choice for
// multi-cell accesses (see Read/Write).
func isCellAligned(addr bv.BV) bool {
	offset := addr.Extract(LogCellBytes-1, 0)
	val, ok := offset.ConcreteValue()
	return ok && val == 0
}

// Read reads bits (> 0) of memory starting at addr. Reads of CellBits or
// fewer bits may be at any alignment as long as they don't cross a cell
// boundary implicitly (within-cell reads always stay in one cell by
// construction); reads of more than CellBits bits must start at a
// cell-aligned, concretely-alignable address, or a MalformedInstruction
// error is returned.
func (m *Memory) Read(addr bv.BV, bits uint32) (bv.BV, error) {
	if bits == 0 {
		return bv.BV{}, serr.MalformedInstruction("memory: read of zero bits")
	}
	if bits > CellBits && !isCellAligned(addr) {
		return bv.BV{}, serr.MalformedInstruction("memory: read of %d bits (> cell size %d) requires a cell-aligned address", bits, CellBits)
	}
	numFullCells := (bits - 1) / CellBits
	bitsInLastCell := (bits-1)%CellBits + 1

	var acc bv.BV
	for i := uint32(0); i <= numFullCells; i++ {
		sz := CellBits
		if i == numFullCells {
			sz = bitsInLastCell
		}
		offsetBytes := uint64(i) * uint64(CellBytes)
		pieceAddr := addr.Add(bv.FromUint64(offsetBytes, IndexBits))
		piece := m.readWithinCell(pieceAddr, sz)
		if i == 0 {
			acc = piece
		} else {
			acc = acc.Concat(piece)
		}
	}
	return acc, nil
}

// Write writes val (width > 0) to memory starting at addr, under the same
// alignment rule as Read.
func (m *Memory) Write(addr bv.BV, val bv.BV) error {
	writeSize := val.Width()
	if writeSize == 0 {
		return serr.MalformedInstruction("memory: write of zero bits")
	}
	if writeSize > CellBits && !isCellAligned(addr) {
		return serr.MalformedInstruction("memory: write of %d bits (> cell size %d) requires a cell-aligned address", writeSize, CellBits)
	}
	numFullCells := (writeSize - 1) / CellBits
	bitsInLastCell := (writeSize-1)%CellBits + 1

	for i := uint32(0); i <= numFullCells; i++ {
		sz := CellBits
		offsetBits := i * CellBits
		if i == numFullCells {
			sz = bitsInLastCell
		}
		offsetBytes := uint64(i) * uint64(CellBytes)
		writeData := val.Extract(sz+offsetBits-1, offsetBits)
		pieceAddr := addr.Add(bv.FromUint64(offsetBytes, IndexBits))
		m.writeWithinCell(pieceAddr, writeData)
	}
	return nil
}
