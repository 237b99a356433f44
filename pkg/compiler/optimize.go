package compiler

import "gocompile/pkg/asm"

// DefaultOptimizerIterations bounds the pass loop when no limit is given.
const DefaultOptimizerIterations = 10

// OptStats summarizes one optimizer run.
type OptStats struct {
	Iterations int `json:"iterations"`
	Folded     int `json:"folded"`
	Removed    int `json:"removed"`
	Collapsed  int `json:"collapsed"`
}

// Optimize runs constant folding, dead-code elimination and redundant copy
// elimination, in that order, until nothing changes or maxIter rounds have
// run. Functions never reached from the entry function are dropped first.
// Globals are kept: they are observable in the final data segment.
func Optimize(prog *IRProgram, maxIter int) (*IRProgram, OptStats) {
	if maxIter <= 0 {
		maxIter = DefaultOptimizerIterations
	}
	out := prog.Clone()
	out.Funcs = eliminateDeadFunctions(out.Funcs)
	globals := make(map[string]bool, len(out.Globals))
	for _, g := range out.Globals {
		globals[g] = true
	}

	var st OptStats
	for st.Iterations < maxIter {
		st.Iterations++
		changed := false
		for _, f := range out.Funcs {
			n := foldConstants(f, globals)
			st.Folded += n
			changed = changed || n > 0
		}
		for _, f := range out.Funcs {
			n := eliminateDeadCode(f, globals)
			st.Removed += n
			changed = changed || n > 0
		}
		for _, f := range out.Funcs {
			n := collapseCopies(f, globals)
			st.Collapsed += n
			changed = changed || n > 0
		}
		if !changed {
			break
		}
	}
	return out, st
}

// eliminateDeadFunctions removes functions that are never called, directly
// or transitively, from the entry function.
func eliminateDeadFunctions(funcs []*IRFunc) []*IRFunc {
	byName := make(map[string]*IRFunc)
	for _, f := range funcs {
		byName[f.Name] = f
	}

	reachable := make(map[string]bool)
	var worklist []string

	addReachable := func(name string) {
		if !reachable[name] {
			reachable[name] = true
			worklist = append(worklist, name)
		}
	}
	addReachable(EntryFunction)

	for len(worklist) > 0 {
		curr := worklist[0]
		worklist = worklist[1:]

		f, exists := byName[curr]
		if !exists {
			continue
		}
		for _, in := range f.Body {
			if in.Op == IRCall {
				addReachable(in.Label)
			}
		}
	}

	var kept []*IRFunc
	for _, f := range funcs {
		if reachable[f.Name] {
			kept = append(kept, f)
		}
	}
	return kept
}

// evalBinary folds a binary IR operator. Division by zero does not fold.
func evalBinary(op string, a, b int64) (int64, bool) {
	mn, ok := binaryMnemonics[op]
	if !ok {
		return 0, false
	}
	v, err := asm.Eval(mn, a, b)
	return v, err == nil
}

func evalUnary(op string, a int64) int64 {
	if op == "!" {
		v, _ := asm.Eval("NOT", a, 0)
		return v
	}
	v, _ := asm.Eval("NEG", a, 0)
	return v
}

// foldConstants evaluates statements whose operands are known constants and
// propagates constants forward inside a basic block. Knowledge is dropped at
// labels, and a call forgets every global.
func foldConstants(f *IRFunc, globals map[string]bool) int {
	known := make(map[string]int64)
	changed := 0
	subst := func(operand *string) {
		if v, ok := known[*operand]; ok {
			*operand = formatLiteral(v)
			changed++
		}
	}
	record := func(dst, value string) {
		if v, ok := literal(value); ok {
			known[dst] = v
		} else {
			delete(known, dst)
		}
	}

	var out []IRInst
	for _, in := range f.Body {
		switch in.Op {
		case IRLabel:
			known = make(map[string]int64)
		case IRCopy:
			subst(&in.A)
			record(in.Dst, in.A)
		case IRBinary:
			subst(&in.A)
			subst(&in.B)
			a, okA := literal(in.A)
			b, okB := literal(in.B)
			if okA && okB {
				if v, ok := evalBinary(in.Operator, a, b); ok {
					in = IRInst{Op: IRCopy, Dst: in.Dst, A: formatLiteral(v)}
					changed++
				}
			}
			record(in.Dst, in.A)
			if in.Op == IRBinary {
				delete(known, in.Dst)
			}
		case IRUnary:
			subst(&in.A)
			if a, ok := literal(in.A); ok {
				in = IRInst{Op: IRCopy, Dst: in.Dst, A: formatLiteral(evalUnary(in.Operator, a))}
				changed++
				record(in.Dst, in.A)
			} else {
				delete(known, in.Dst)
			}
		case IRIfFalse, IRIf:
			subst(&in.A)
			if v, ok := literal(in.A); ok {
				changed++
				taken := (v == 0) == (in.Op == IRIfFalse)
				if !taken {
					continue
				}
				in = IRInst{Op: IRGoto, Label: in.Label}
			}
		case IRArg, IRPrint:
			subst(&in.A)
		case IRReturn:
			if in.A != "" {
				subst(&in.A)
			}
		case IRCall:
			for name := range known {
				if globals[name] {
					delete(known, name)
				}
			}
			if in.Dst != "" {
				delete(known, in.Dst)
			}
		}
		out = append(out, in)
	}
	f.Body = out
	return changed
}

// mayTrap reports whether in can fault at run time.
func mayTrap(in IRInst) bool {
	if in.Op != IRBinary || (in.Operator != "/" && in.Operator != "%") {
		return false
	}
	v, ok := literal(in.B)
	return !ok || v == 0
}

// eliminateDeadCode removes unreachable statements, jumps to the next
// statement, unreferenced labels and stores to locals or temporaries that
// are never read.
func eliminateDeadCode(f *IRFunc, globals map[string]bool) int {
	removed := 0

	// unreachable code after an unconditional transfer
	var live []IRInst
	dead := false
	for _, in := range f.Body {
		if in.Op == IRLabel {
			dead = false
		}
		if dead {
			removed++
			continue
		}
		live = append(live, in)
		if in.Op == IRGoto || in.Op == IRReturn || in.Op == IRHalt {
			dead = true
		}
	}

	// goto L directly followed by L:
	var body []IRInst
	for i, in := range live {
		if in.Op == IRGoto && jumpsToNext(live, i) {
			removed++
			continue
		}
		body = append(body, in)
	}

	referenced := make(map[string]bool)
	read := make(map[string]bool)
	for _, in := range body {
		if in.IsJump() {
			referenced[in.Label] = true
		}
		for _, u := range in.Uses() {
			read[u] = true
		}
	}

	var out []IRInst
	for _, in := range body {
		if in.Op == IRLabel && !referenced[in.Label] {
			removed++
			continue
		}
		if d := in.Def(); d != "" && !globals[d] && !read[d] {
			if in.Op == IRCall {
				in.Dst = ""
				removed++
			} else if !mayTrap(in) {
				removed++
				continue
			}
		}
		out = append(out, in)
	}
	f.Body = out
	return removed
}

// jumpsToNext reports whether the goto at i lands on one of the labels that
// immediately follow it.
func jumpsToNext(body []IRInst, i int) bool {
	for j := i + 1; j < len(body) && body[j].Op == IRLabel; j++ {
		if body[j].Label == body[i].Label {
			return true
		}
	}
	return false
}

// collapseCopies removes self copies and merges "T = expr; d = T" when the
// temporary T is written and read exactly once.
func collapseCopies(f *IRFunc, globals map[string]bool) int {
	defs := make(map[string]int)
	uses := make(map[string]int)
	for _, in := range f.Body {
		if d := in.Def(); d != "" {
			defs[d]++
		}
		for _, u := range in.Uses() {
			uses[u]++
		}
	}

	collapsed := 0
	var out []IRInst
	for i := 0; i < len(f.Body); i++ {
		in := f.Body[i]
		if in.Op == IRCopy && in.Dst == in.A {
			collapsed++
			continue
		}
		if i+1 < len(f.Body) {
			next := f.Body[i+1]
			t := in.Def()
			if t != "" && isTemp(t) && defs[t] == 1 && uses[t] == 1 &&
				next.Op == IRCopy && next.A == t {
				in.Dst = next.Dst
				out = append(out, in)
				collapsed++
				i++
				continue
			}
		}
		out = append(out, in)
	}
	f.Body = out
	return collapsed
}
