package hotkeys

import (
	"math"
	"math/bits"
)

const (
	hllP     = 14
	hllQ     = 64 - hllP
	hllM     = 1 << hllP
	hllMask  = hllM - 1
	hllAlpha = 0.5 / math.Ln2
)

// distinct is a dense HyperLogLog estimating how many different keys were
// touched. It reuses the key hash computed by Touch and keeps one byte per
// register, 16 KiB in total. The caller provides locking.
type distinct struct {
	registers [hllM]uint8
	cached    uint64
	dirty     bool
}

// add records hash and reports whether a register changed.
func (d *distinct) add(hash uint64) bool {
	//
	// DESIGN
	// ------
	//
	// The low hllP bits pick the register. The remaining hllQ bits give the
	// rank: the position of their lowest set bit plus one. A guard bit at
	// position hllQ caps the rank at hllQ+1 when those bits are all zero.
	//
	idx := hash & hllMask
	rank := uint8(bits.TrailingZeros64(hash>>hllP|1<<hllQ)) + 1
	if rank <= d.registers[idx] {
		return false
	}
	d.registers[idx] = rank
	d.dirty = true
	return true
}

// count returns the cardinality estimate, caching it until the next change.
func (d *distinct) count() uint64 {
	if !d.dirty {
		return d.cached
	}

	var histo [hllQ + 2]int
	for _, r := range d.registers {
		histo[r]++
	}

	// Ertl's improved estimator works on the register histogram.
	z := hllM * tau(float64(hllM-histo[hllQ+1])/hllM)
	for j := hllQ; j >= 1; j-- {
		z += float64(histo[j])
		z *= 0.5
	}
	z += hllM * sigma(float64(histo[0])/hllM)

	d.cached = uint64(math.Round(hllAlpha * hllM * hllM / z))
	d.dirty = false
	return d.cached
}

func (d *distinct) reset() {
	clear(d.registers[:])
	d.cached = 0
	d.dirty = false
}

// sigma accounts for registers still at zero.
func sigma(x float64) float64 {
	if x == 1 {
		return math.Inf(1)
	}
	y, z := 1.0, x
	for {
		x *= x
		prev := z
		z += x * y
		y += y
		if prev == z {
			return z
		}
	}
}

// tau accounts for registers at the maximum rank.
func tau(x float64) float64 {
	if x == 0 || x == 1 {
		return 0
	}
	y, z := 1.0, 1-x
	for {
		x = math.Sqrt(x)
		prev := z
		y *= 0.5
		z -= (1 - x) * (1 - x) * y
		if prev == z {
			return z / 3
		}
	}
}
