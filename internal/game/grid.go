package game

// Positioned is anything the grid can bucket
type Positioned interface {
	Pos() (x, y float64)
}

// SpatialGrid is a uniform grid for broad-phase proximity queries.
// It holds only geometry; the buckets live in the Grid values it builds,
// so one SpatialGrid can be shared by every room.
type SpatialGrid struct {
	cellSize float64
	cols     int
	rows     int
}

// Grid maps a cell index to the items bucketed there
type Grid[T Positioned] map[int][]T

// NewSpatialGrid creates a grid covering [0,width) x [0,height)
func NewSpatialGrid(cellSize, width, height float64) *SpatialGrid {
	if cellSize <= 0 {
		cellSize = GridCellSize
	}
	return &SpatialGrid{
		cellSize: cellSize,
		cols:     int(width/cellSize) + 1,
		rows:     int(height/cellSize) + 1,
	}
}

// CellSize returns the edge length of one cell
func (g *SpatialGrid) CellSize() float64 { return g.cellSize }

func (g *SpatialGrid) colRow(x, y float64) (int, int) {
	col := int(x / g.cellSize)
	row := int(y / g.cellSize)
	if x < 0 {
		col = 0
	} else if col >= g.cols {
		col = g.cols - 1
	}
	if y < 0 {
		row = 0
	} else if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}

// CellIndex returns the clamped cell index for a position
func (g *SpatialGrid) CellIndex(x, y float64) int {
	col, row := g.colRow(x, y)
	return row*g.cols + col
}

// BuildGrid buckets items by cell. Out-of-world items land in the nearest edge cell.
func BuildGrid[T Positioned](g *SpatialGrid, items []T) Grid[T] {
	grid := make(Grid[T], len(items))
	for _, it := range items {
		x, y := it.Pos()
		idx := g.CellIndex(x, y)
		grid[idx] = append(grid[idx], it)
	}
	return grid
}

// Nearby returns the items of the 3x3 block of cells centred on the cell containing (x,y).
// The caller must still perform exact distance checks.
func Nearby[T Positioned](g *SpatialGrid, x, y float64, grid Grid[T]) []T {
	return NearbyBuf(g, x, y, grid, nil)
}

// NearbyBuf appends results to buf and returns the extended slice, avoiding per-call allocation
func NearbyBuf[T Positioned](g *SpatialGrid, x, y float64, grid Grid[T], buf []T) []T {
	col, row := g.colRow(x, y)
	for r := row - 1; r <= row+1; r++ {
		if r < 0 || r >= g.rows {
			continue
		}
		for c := col - 1; c <= col+1; c++ {
			if c < 0 || c >= g.cols {
				continue
			}
			buf = append(buf, grid[r*g.cols+c]...)
		}
	}
	return buf
}
