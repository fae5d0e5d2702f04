package buffer

// Point is a position in a text expressed as a zero-based row and a
// column measured in UTF-16 code units.
type Point struct {
	Row    uint32 `json:"row"`
	Column uint32 `json:"column"`
}

func NewPoint(row, column uint32) Point {
	return Point{Row: row, Column: column}
}

func (p Point) IsZero() bool {
	return p.Row == 0 && p.Column == 0
}

// Add treats other as an extent. Crossing a row boundary resets the
// column to the extent's own column.
func (p Point) Add(other Point) Point {
	if other.Row == 0 {
		return Point{Row: p.Row, Column: p.Column + other.Column}
	}
	return Point{Row: p.Row + other.Row, Column: other.Column}
}

// Sub returns the extent from other to p. other must not exceed p.
func (p Point) Sub(other Point) Point {
	if p.Row == other.Row {
		return Point{Row: 0, Column: p.Column - other.Column}
	}
	return Point{Row: p.Row - other.Row, Column: p.Column}
}

func (p Point) Compare(other Point) int {
	if p.Row != other.Row {
		if p.Row < other.Row {
			return -1
		}
		return 1
	}
	if p.Column != other.Column {
		if p.Column < other.Column {
			return -1
		}
		return 1
	}
	return 0
}

func (p Point) AddSummary(s fragmentSummary) Point {
	return p.Add(s.extent2d)
}
