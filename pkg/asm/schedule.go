package asm

import (
	"fmt"
	"sort"

	"gocompile/pkg/diag"
)

// Latency is the number of cycles before the result of mnemonic can be read.
func Latency(mnemonic string) int {
	switch mnemonic {
	case "LW", "RELOAD", "MUL":
		return 3
	case "DIV", "MOD":
		return 5
	}
	return 1
}

// ScheduleOptions tunes the list scheduler.
type ScheduleOptions struct {
	// NoPadding drops the NOPs that mark cycles spent waiting on a result.
	NoPadding bool
}

// effects lists the resources an instruction reads and writes.
type effects struct {
	reads, writes []string
}

func effectsOf(l Line) effects {
	var e effects
	for _, r := range l.Uses() {
		e.reads = append(e.reads, "reg:"+r)
	}
	for _, r := range l.Defs() {
		e.writes = append(e.writes, "reg:"+r)
	}
	switch l.Mnemonic {
	case "LW":
		e.reads = append(e.reads, "mem:"+l.Operand('m'))
	case "SW":
		e.writes = append(e.writes, "mem:"+l.Operand('m'))
	case "RELOAD":
		e.reads = append(e.reads, "slot:"+l.Operand('s'))
	case "SPILL":
		e.writes = append(e.writes, "slot:"+l.Operand('s'))
	case "ARG":
		e.writes = append(e.writes, "args")
	case "CALL":
		e.reads = append(e.reads, "args")
		e.writes = append(e.writes, "args")
	case "PRINT", "PRINTS", "DIV", "MOD":
		// output and traps keep their relative order
		e.writes = append(e.writes, "io")
	}
	return e
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// dependency returns the minimum distance in cycles between i and a later
// instruction j, or 0 when j may move freely relative to i.
func dependency(i, j Line) int {
	ei, ej := effectsOf(i), effectsOf(j)
	d := 0
	if intersects(ei.writes, ej.reads) {
		d = Latency(i.Mnemonic)
	}
	if d == 0 && (intersects(ei.reads, ej.writes) || intersects(ei.writes, ej.writes)) {
		d = 1
	}
	if d == 0 && j.IsTerminator() {
		d = 1
	}
	return d
}

// block is a run of instructions between boundaries. lead holds the label
// and directive lines in front of it.
type block struct {
	lead  []Line
	instr []Line
}

func splitBlocks(ls []Line) []block {
	var out []block
	var cur block
	flush := func() {
		if len(cur.lead) > 0 || len(cur.instr) > 0 {
			out = append(out, cur)
		}
		cur = block{}
	}
	for _, l := range ls {
		if l.Kind != KindInstr {
			if len(cur.instr) > 0 {
				flush()
			}
			cur.lead = append(cur.lead, l)
			continue
		}
		cur.instr = append(cur.instr, l)
		if l.IsTerminator() {
			flush()
		}
	}
	flush()
	return out
}

// Schedule reorders each basic block by cycle-driven list scheduling.
// Each cycle issues the ready instruction with the most transitive
// dependents, earliest original position first on ties. A cycle in which
// nothing is ready emits a NOP unless padding is off. Labels, directives
// and block terminators never move.
func Schedule(listing []string, opts ScheduleOptions) ([]string, error) {
	ls, err := Parse(listing)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", diag.ErrSchedule, err)
	}
	var out []Line
	for _, b := range splitBlocks(ls) {
		out = append(out, b.lead...)
		scheduled, err := scheduleBlock(b.instr, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, scheduled...)
	}
	return Format(out), nil
}

func scheduleBlock(instr []Line, opts ScheduleOptions) ([]Line, error) {
	n := len(instr)
	lat := make([][]int, n)
	preds := make([][]int, n)
	for j := range instr {
		lat[j] = make([]int, n)
		for i := 0; i < j; i++ {
			if d := dependency(instr[i], instr[j]); d > 0 {
				lat[j][i] = d
				preds[j] = append(preds[j], i)
			}
		}
	}

	// transitive dependents, walking backwards so successors are done first
	reach := make([][]bool, n)
	priority := make([]int, n)
	for i := n - 1; i >= 0; i-- {
		reach[i] = make([]bool, n)
		for j := i + 1; j < n; j++ {
			if lat[j][i] == 0 {
				continue
			}
			reach[i][j] = true
			for k := j + 1; k < n; k++ {
				if reach[j][k] {
					reach[i][k] = true
				}
			}
		}
		for _, r := range reach[i] {
			if r {
				priority[i]++
			}
		}
	}

	issued := make([]int, n)
	for i := range issued {
		issued[i] = -1
	}
	var out []Line
	for cycle, done := 0, 0; done < n; cycle++ {
		best, waiting := -1, false
		for i := 0; i < n; i++ {
			if issued[i] >= 0 {
				continue
			}
			ready, blocked := 0, false
			for _, p := range preds[i] {
				if issued[p] < 0 {
					blocked = true
					break
				}
				if t := issued[p] + lat[i][p]; t > ready {
					ready = t
				}
			}
			if blocked {
				continue
			}
			if ready > cycle {
				waiting = true
				continue
			}
			if best < 0 || priority[i] > priority[best] {
				best = i
			}
		}
		switch {
		case best >= 0:
			issued[best] = cycle
			out = append(out, instr[best])
			done++
		case waiting:
			if !opts.NoPadding {
				out = append(out, Instr("NOP"))
			}
		default:
			return nil, fmt.Errorf("%w: no instruction can issue at cycle %d", diag.ErrSchedule, cycle)
		}
	}
	return out, nil
}

// CheckSchedule verifies that after holds the same instructions per block
// as before, apart from inserted NOPs, and that every dependent pair kept
// its order.
func CheckSchedule(before, after []string) error {
	orig, err := Parse(before)
	if err != nil {
		return fmt.Errorf("%w: %v", diag.ErrSchedule, err)
	}
	sched, err := Parse(after)
	if err != nil {
		return fmt.Errorf("%w: %v", diag.ErrSchedule, err)
	}
	ob, sb := splitBlocks(withoutNops(orig)), splitBlocks(withoutNops(sched))
	if len(ob) != len(sb) {
		return fmt.Errorf("%w: %d blocks after scheduling, want %d", diag.ErrSchedule, len(sb), len(ob))
	}
	for k := range ob {
		if fmt.Sprint(Format(ob[k].lead)) != fmt.Sprint(Format(sb[k].lead)) {
			return fmt.Errorf("%w: block %d boundary changed", diag.ErrSchedule, k)
		}
		a, b := Format(ob[k].instr), Format(sb[k].instr)
		if len(a) != len(b) {
			return fmt.Errorf("%w: block %d has %d instructions, want %d", diag.ErrSchedule, k, len(b), len(a))
		}
		sa, sbs := append([]string(nil), a...), append([]string(nil), b...)
		sort.Strings(sa)
		sort.Strings(sbs)
		for i := range sa {
			if sa[i] != sbs[i] {
				return fmt.Errorf("%w: block %d instructions differ", diag.ErrSchedule, k)
			}
		}

		// pair the k-th occurrence of each text in both orders
		pos := make([]int, len(a))
		seen := make(map[string][]int)
		for i, t := range b {
			seen[t] = append(seen[t], i)
		}
		for i, t := range a {
			pos[i] = seen[t][0]
			seen[t] = seen[t][1:]
		}
		for j := range a {
			for i := 0; i < j; i++ {
				if dependency(ob[k].instr[i], ob[k].instr[j]) > 0 && pos[i] > pos[j] {
					return fmt.Errorf("%w: %q moved past %q", diag.ErrSchedule, a[j], a[i])
				}
			}
		}
	}
	return nil
}

func withoutNops(ls []Line) []Line {
	var out []Line
	for _, l := range ls {
		if l.Kind == KindInstr && l.Mnemonic == "NOP" {
			continue
		}
		out = append(out, l)
	}
	return out
}
