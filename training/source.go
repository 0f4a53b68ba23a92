package training

// Example is one training row. A nil Indices means Values is dense and
// indexed by feature position; otherwise Values[i] belongs to Indices[i].
type Example struct {
	Label   float32
	Weight  float32
	Group   uint64
	Values  []float32
	Indices []int32
}

// Sparse reports whether the row is given in sparse form.
func (e Example) Sparse() bool { return e.Indices != nil }

// Cursor iterates once over a RowSource.
type Cursor interface {
	Next() bool
	Example() Example
	Err() error
	Close() error
}

// RowSource is the training data boundary. Train opens at most three
// cursors: one for the density probe, one to count rows when the source does
// not implement RowCounter, and one for the fill.
type RowSource interface {
	NumFeatures() int
	HasWeights() bool
	HasGroups() bool
	Cursor() (Cursor, error)
}

// RowCounter is implemented by sources that know their row count up front.
type RowCounter interface {
	NumRows() int
}

// SliceSource serves examples held in memory.
type SliceSource struct {
	Features int
	Rows     []Example
	Weighted bool
	Grouped  bool
}

func (s *SliceSource) NumFeatures() int { return s.Features }
func (s *SliceSource) HasWeights() bool { return s.Weighted }
func (s *SliceSource) HasGroups() bool  { return s.Grouped }
func (s *SliceSource) NumRows() int     { return len(s.Rows) }

func (s *SliceSource) Cursor() (Cursor, error) {
	return &sliceCursor{rows: s.Rows, pos: -1}, nil
}

type sliceCursor struct {
	rows []Example
	pos  int
}

func (c *sliceCursor) Next() bool {
	if c.pos+1 >= len(c.rows) {
		c.pos = len(c.rows)
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Example() Example { return c.rows[c.pos] }
func (c *sliceCursor) Err() error       { return nil }
func (c *sliceCursor) Close() error     { return nil }

// countRows returns the number of rows src yields.
func countRows(src RowSource) (int, error) {
	if rc, ok := src.(RowCounter); ok {
		return rc.NumRows(), nil
	}
	cur, err := src.Cursor()
	if err != nil {
		return 0, err
	}
	defer cur.Close()
	n := 0
	for cur.Next() {
		n++
	}
	return n, cur.Err()
}
