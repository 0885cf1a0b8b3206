package grid

// Layout describes the current grid geometry. It is a value type:
// recompute it whenever the cell size, column count, or total entry
// count changes.
type Layout struct {
	Columns int
	CellW   int
	CellH   int
	Total   int
}

// Valid reports whether the layout can map identities to cells.
func (l Layout) Valid() bool {
	return l.Columns > 0 && l.CellW > 0 && l.CellH > 0 && l.Total >= 0
}

// Rows returns the number of rows needed to place Total entries.
func (l Layout) Rows() int {
	if l.Columns <= 0 || l.Total <= 0 {
		return 0
	}
	return (l.Total + l.Columns - 1) / l.Columns
}

// ContentHeight returns the pixel height of the fully laid-out grid.
func (l Layout) ContentHeight() int {
	return l.Rows() * l.CellH
}

// CellFor maps an identity to its (row, column) cell. Identities
// outside [0, Total) map to (-1, -1).
func (l Layout) CellFor(id int) (row, col int) {
	if l.Columns <= 0 || id < 0 || id >= l.Total {
		return -1, -1
	}
	return id / l.Columns, id % l.Columns
}

// IDAt maps a cell back to an identity. The second return is false for
// cells outside the populated area, including trailing cells of the
// last row past the final entry.
func (l Layout) IDAt(row, col int) (int, bool) {
	if l.Columns <= 0 || row < 0 || col < 0 || col >= l.Columns {
		return 0, false
	}
	id := row*l.Columns + col
	if id >= l.Total {
		return 0, false
	}
	return id, true
}

// RowRangeForScroll converts a pixel scroll offset and viewport height
// into the inclusive row range [first, last] that intersects the
// viewport. Returns (0, -1) when the grid is empty.
func (l Layout) RowRangeForScroll(offsetPx, viewportPx int) (first, last int) {
	rows := l.Rows()
	if rows == 0 || l.CellH <= 0 {
		return 0, -1
	}
	if offsetPx < 0 {
		offsetPx = 0
	}
	if viewportPx < 0 {
		viewportPx = 0
	}
	first = offsetPx / l.CellH
	last = (offsetPx + viewportPx) / l.CellH
	if (offsetPx+viewportPx)%l.CellH == 0 && last > first {
		// The viewport bottom edge sits exactly on a row boundary.
		last--
	}
	if first >= rows {
		first = rows - 1
	}
	if last >= rows {
		last = rows - 1
	}
	return first, last
}

// IDsForRows returns the identities of every populated cell in the
// inclusive row range [first, last], in ascending identity order.
func (l Layout) IDsForRows(first, last int) []int {
	if !l.Valid() || last < first {
		return nil
	}
	if first < 0 {
		first = 0
	}
	rows := l.Rows()
	if rows == 0 || first >= rows {
		return nil
	}
	if last >= rows {
		last = rows - 1
	}
	ids := make([]int, 0, (last-first+1)*l.Columns)
	for row := first; row <= last; row++ {
		for col := 0; col < l.Columns; col++ {
			if id, ok := l.IDAt(row, col); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// ColumnsForWidth returns how many cells of width cellW fit into
// widthPx, never fewer than one.
func ColumnsForWidth(widthPx, cellW int) int {
	if cellW <= 0 {
		return 1
	}
	cols := widthPx / cellW
	if cols < 1 {
		cols = 1
	}
	return cols
}
