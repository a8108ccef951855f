package fileset

import "github.com/jamestiotio/depcheck/elfdep/elfmeta"

// TopologicalSort returns the set's files reordered so that every file
// appears after all of its transitive dependencies present in the set,
// preserving add order among files with no dependency relationship.
// Edges that would close a cycle are dropped; each dropped edge is
// recorded and retrievable via Cycles, and both endpoints remain present
// in the returned slice.
func (s *Set) TopologicalSort() []*elfmeta.File {
	s.cycles = nil
	n := len(s.files)
	state := make([]int, n) // 0 = unvisited, 1 = on stack, 2 = done
	out := make([]*elfmeta.File, 0, n)

	var visit func(idx int)
	visit = func(idx int) {
		switch state[idx] {
		case 2:
			return
		case 1:
			// caller already detected this as a back edge; nothing to do
			return
		}
		state[idx] = 1
		f := s.files[idx]
		for _, name := range f.Needed() {
			depIdx, ok := s.bySoname[name]
			if !ok {
				continue
			}
			if state[depIdx] == 1 {
				from := f.Soname()
				if from == "" {
					from = f.Path()
				}
				to := s.files[depIdx].Soname()
				if to == "" {
					to = s.files[depIdx].Path()
				}
				s.cycles = append(s.cycles, Cycle{From: from, To: to})
				s.stats.CyclesBroken++
				continue
			}
			visit(depIdx)
		}
		state[idx] = 2
		out = append(out, f)
	}

	for i := 0; i < n; i++ {
		visit(i)
	}
	return out
}
