package attractor

// Trajectory is a fixed-capacity ring of states. Once full, each push evicts
// the oldest point.
type Trajectory struct {
	dims  int
	cap   int
	buf   []float64
	start int
	n     int
}

func NewTrajectory(dims, capacity int) *Trajectory {
	if capacity < 1 {
		capacity = 1
	}
	return &Trajectory{
		dims: dims,
		cap:  capacity,
		buf:  make([]float64, dims*capacity),
	}
}

func (t *Trajectory) Len() int { return t.n }

func (t *Trajectory) Cap() int { return t.cap }

func (t *Trajectory) Push(s State) {
	var slot int
	if t.n < t.cap {
		slot = (t.start + t.n) % t.cap
		t.n++
	} else {
		slot = t.start
		t.start = (t.start + 1) % t.cap
	}
	copy(t.buf[slot*t.dims:(slot+1)*t.dims], s)
}

// Reset drops every point and restarts the ring at s.
func (t *Trajectory) Reset(s State) {
	t.start = 0
	t.n = 0
	t.Push(s)
}

// at returns a read-only view of the i-th oldest point.
func (t *Trajectory) at(i int) []float64 {
	slot := (t.start + i) % t.cap
	return t.buf[slot*t.dims : (slot+1)*t.dims]
}

// At returns a copy of the i-th oldest point.
func (t *Trajectory) At(i int) State {
	if i < 0 || i >= t.n {
		return nil
	}
	return State(t.at(i)).Clone()
}

// Last returns a copy of the newest point.
func (t *Trajectory) Last() State {
	if t.n == 0 {
		return nil
	}
	return t.At(t.n - 1)
}

// Points copies the trajectory, oldest first.
func (t *Trajectory) Points() []State {
	out := make([]State, 0, t.n)
	for i := 0; i < t.n; i++ {
		out = append(out, State(t.at(i)).Clone())
	}
	return out
}
