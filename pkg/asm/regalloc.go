package asm

import (
	"fmt"
	"sort"
	"strconv"

	"gocompile/pkg/diag"
)

// MinRegisters is the smallest register file the allocator accepts: one
// allocatable register plus two scratch registers for spill code.
const MinRegisters = 3

// Interval is the live range of a virtual register, as positions in the
// parsed listing.
type Interval struct {
	Reg        string
	Start, End int
}

func (a Interval) overlaps(b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// Allocation is the result of register allocation.
type Allocation struct {
	Listing    []string
	Assignment map[string]string // virtual register -> rN or spill slot sN
	Intervals  []Interval
	Spills     int
}

func regNum(r string) int {
	n, _ := strconv.Atoi(r[1:])
	return n
}

func physical(n int) string {
	return "r" + strconv.Itoa(n)
}

// scratch returns the two registers reserved for spill code.
func scratch(numRegs int) (string, string) {
	return physical(numRegs - 2), physical(numRegs - 1)
}

// LiveIntervals computes one interval per virtual register from its first
// occurrence to its last, extended to the end of any loop it is live into.
// The result is sorted by start position, then register number.
func LiveIntervals(ls []Line) []Interval {
	byReg := make(map[string]*Interval)
	var order []*Interval
	labels := make(map[string]int)
	for pos, l := range ls {
		if l.Kind == KindLabel {
			labels[l.Label] = pos
			continue
		}
		for _, r := range append(l.Uses(), l.Defs()...) {
			if !IsVirtual(r) {
				continue
			}
			iv, ok := byReg[r]
			if !ok {
				iv = &Interval{Reg: r, Start: pos, End: pos}
				byReg[r] = iv
				order = append(order, iv)
			}
			iv.End = pos
		}
	}

	type backEdge struct{ target, from int }
	var edges []backEdge
	for pos, l := range ls {
		if !l.IsBranch() {
			continue
		}
		if target, ok := labels[l.Operand('l')]; ok && target <= pos {
			edges = append(edges, backEdge{target, pos})
		}
	}
	for changed := true; changed; {
		changed = false
		for _, e := range edges {
			for _, iv := range order {
				if iv.Start < e.target && iv.End >= e.target && iv.End < e.from {
					iv.End = e.from
					changed = true
				}
			}
		}
	}

	out := make([]Interval, len(order))
	for i, iv := range order {
		out[i] = *iv
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return regNum(out[i].Reg) < regNum(out[j].Reg)
	})
	return out
}

// Allocate maps virtual registers onto r0..r{numRegs-1} by linear scan.
// The two highest registers are kept for spill code. When no register is
// free, whichever of the current interval and the active intervals lives
// longest is spilled to a frame slot; a tie spills the current interval.
// Spilled values are reloaded into a scratch register before every use and
// stored back after every definition.
func Allocate(listing []string, numRegs int) (Allocation, error) {
	if numRegs < MinRegisters {
		return Allocation{}, fmt.Errorf("%w: need at least %d registers, have %d", diag.ErrAllocation, MinRegisters, numRegs)
	}
	ls, err := Parse(listing)
	if err != nil {
		return Allocation{}, fmt.Errorf("%w: %v", diag.ErrAllocation, err)
	}

	intervals := LiveIntervals(ls)
	assign := make(map[string]string)
	var free []int
	for i := 0; i < numRegs-2; i++ {
		free = append(free, i)
	}
	var active []Interval
	spills := 0
	spill := func(reg string) {
		assign[reg] = "s" + strconv.Itoa(spills)
		spills++
	}

	for _, cur := range intervals {
		// expire intervals that ended at or before this start
		kept := active[:0]
		for _, a := range active {
			if a.End <= cur.Start {
				free = append(free, regNum(assign[a.Reg]))
				continue
			}
			kept = append(kept, a)
		}
		active = kept
		sort.Ints(free)

		if len(free) > 0 {
			assign[cur.Reg] = physical(free[0])
			free = free[1:]
			active = append(active, cur)
			continue
		}

		victim := 0
		for i, a := range active {
			if a.End > active[victim].End {
				victim = i
			}
		}
		if active[victim].End > cur.End {
			v := active[victim]
			assign[cur.Reg] = assign[v.Reg]
			spill(v.Reg)
			active[victim] = cur
		} else {
			spill(cur.Reg)
		}
	}

	out := rewrite(ls, assign, numRegs)
	alloc := Allocation{
		Listing:    Format(out),
		Assignment: assign,
		Intervals:  intervals,
		Spills:     spills,
	}
	if err := CheckAllocation(listing, alloc.Listing, numRegs); err != nil {
		return Allocation{}, err
	}
	return alloc, nil
}

func isSpilled(loc string) bool {
	return len(loc) > 0 && loc[0] == 's'
}

// rewrite substitutes physical registers and inserts spill code.
func rewrite(ls []Line, assign map[string]string, numRegs int) []Line {
	s0, s1 := scratch(numRegs)
	var out []Line
	for _, l := range ls {
		if l.Kind != KindInstr {
			out = append(out, l)
			continue
		}
		reloaded := make(map[string]string)
		var before, after []Line
		renamed := l.Rename(func(reg string, def bool) string {
			loc, ok := assign[reg]
			if !ok {
				return reg
			}
			if !isSpilled(loc) {
				return loc
			}
			if def {
				// operands are read before the result is written
				after = append(after, Instr("SPILL", s0, loc))
				return s0
			}
			if r, ok := reloaded[reg]; ok {
				return r
			}
			r := s0
			if len(reloaded) > 0 {
				r = s1
			}
			reloaded[reg] = r
			before = append(before, Instr("RELOAD", r, loc))
			return r
		})
		out = append(out, before...)
		out = append(out, renamed)
		out = append(out, after...)
	}
	return out
}

// CheckAllocation verifies that after is a valid allocation of before:
// without spill code both listings have the same lines apart from register
// names, and no two overlapping live ranges share a physical register.
func CheckAllocation(before, after []string, numRegs int) error {
	orig, err := Parse(before)
	if err != nil {
		return fmt.Errorf("%w: %v", diag.ErrAllocation, err)
	}
	alloc, err := Parse(after)
	if err != nil {
		return fmt.Errorf("%w: %v", diag.ErrAllocation, err)
	}
	var stripped []Line
	for _, l := range alloc {
		if !l.IsSpillCode() {
			stripped = append(stripped, l)
		}
	}
	if len(stripped) != len(orig) {
		return fmt.Errorf("%w: %d lines after allocation, want %d", diag.ErrAllocation, len(stripped), len(orig))
	}

	s0, s1 := scratch(numRegs)
	mapping := make(map[string]string)
	for i, o := range orig {
		a := stripped[i]
		if o.Kind != a.Kind || o.Mnemonic != a.Mnemonic || o.Label != a.Label || len(o.Operands) != len(a.Operands) {
			return fmt.Errorf("%w: line %q became %q", diag.ErrAllocation, o.Text(), a.Text())
		}
		for j, op := range o.Operands {
			got := a.Operands[j]
			if !IsVirtual(op) {
				if op != got {
					return fmt.Errorf("%w: line %q became %q", diag.ErrAllocation, o.Text(), a.Text())
				}
				continue
			}
			if !IsRegister(got) || IsVirtual(got) || regNum(got) >= numRegs {
				return fmt.Errorf("%w: %s mapped to invalid register %s", diag.ErrAllocation, op, got)
			}
			if got == s0 || got == s1 {
				got = "spill"
			}
			if prev, ok := mapping[op]; ok && prev != got {
				return fmt.Errorf("%w: %s lives in both %s and %s", diag.ErrAllocation, op, prev, got)
			}
			mapping[op] = got
		}
	}

	byPhys := make(map[string][]Interval)
	for _, iv := range LiveIntervals(orig) {
		if p := mapping[iv.Reg]; p != "spill" {
			byPhys[p] = append(byPhys[p], iv)
		}
	}
	for p, ivs := range byPhys {
		for i := 1; i < len(ivs); i++ {
			for j := 0; j < i; j++ {
				if ivs[i].overlaps(ivs[j]) {
					return fmt.Errorf("%w: %s and %s overlap in %s", diag.ErrAllocation, ivs[j].Reg, ivs[i].Reg, p)
				}
			}
		}
	}
	return nil
}
