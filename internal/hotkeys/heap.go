package hotkeys

// Entry is a tracked key and its estimated access count.
type Entry struct {
	Key   string
	Count uint64
	fp    uint64
}

// entries is a min-heap ordered by count. The heap operations are written
// out by hand instead of going through container/heap and its interface
// conversions.
type entries []Entry

// find scans backwards for key. The conversion in the comparison does not
// allocate.
func (l entries) find(key []byte) (int, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i].Key == string(key) {
			return i, true
		}
	}
	return -1, false
}

func (l entries) swap(i, j int) { l[i], l[j] = l[j], l[i] }

// less orders by count with the fingerprint as a deterministic tiebreaker.
func (l entries) less(i, j int) bool {
	if l[i].Count != l[j].Count {
		return l[i].Count < l[j].Count
	}
	return l[i].fp < l[j].fp
}

func (l *entries) push(e Entry) {
	*l = append(*l, e)
	l.up(len(*l) - 1)
}

func (l entries) up(j int) {
	for {
		i := (j - 1) / 2
		if i == j || !l.less(j, i) {
			break
		}
		l.swap(i, j)
		j = i
	}
}

// down sinks element i0 and reports whether it moved.
func (l entries) down(i0, n int) bool {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && l.less(j2, j1) {
			j = j2
		}
		if !l.less(j, i) {
			break
		}
		l.swap(i, j)
		i = j
	}
	return i > i0
}

// fix restores the heap after element i changed.
func (l entries) fix(i int) {
	if !l.down(i, len(l)) {
		l.up(i)
	}
}
