package game

// Hit pairs a player with the single bullet that struck it
type Hit struct {
	PlayerID string
	BulletID string
}

// HitResult is the outcome of one round of hit resolution
type HitResult struct {
	HitPlayerIDs map[string]struct{}
	HitBulletIDs map[string]struct{}
	Hits         []Hit
}

// BulletFor returns the bullet that hit playerID, if any
func (r HitResult) BulletFor(playerID string) (string, bool) {
	for _, h := range r.Hits {
		if h.PlayerID == playerID {
			return h.BulletID, true
		}
	}
	return "", false
}

// GameEngine is the pure simulation step for one room's population
type GameEngine struct {
	width, height float64
	grid          *SpatialGrid
}

// NewGameEngine creates an engine for a world of the given size
func NewGameEngine(width, height float64) *GameEngine {
	return &GameEngine{
		width:  width,
		height: height,
		grid:   NewSpatialGrid(GridCellSize, width, height),
	}
}

// NewDefaultGameEngine creates an engine for the standard world
func NewDefaultGameEngine() *GameEngine {
	return NewGameEngine(WorldWidth, WorldHeight)
}

// AdvanceBullets steps every bullet and culls the ones that left the world or hit the ground
func (e *GameEngine) AdvanceBullets(bullets []Bullet) []Bullet {
	out := make([]Bullet, 0, len(bullets))
	for _, b := range bullets {
		b = b.Step()
		if !e.inBounds(b) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// inBounds is written positively so non-finite coordinates are culled too
func (e *GameEngine) inBounds(b Bullet) bool {
	return b.X > 0 && b.X < e.width &&
		b.Y > 0 && b.Y < e.height &&
		b.Y < GroundY
}

// ResolveHits finds bullet-vs-player hits. A bullet never hits its owner,
// each bullet hits at most once and each player is hit at most once per call.
func (e *GameEngine) ResolveHits(players []Player, bullets []Bullet) HitResult {
	res := HitResult{
		HitPlayerIDs: make(map[string]struct{}),
		HitBulletIDs: make(map[string]struct{}),
	}
	if len(players) == 0 || len(bullets) == 0 {
		return res
	}

	grid := BuildGrid(e.grid, bullets)
	const r2 = HitRadius * HitRadius
	var buf []Bullet
	for _, p := range players {
		if !p.Alive() {
			continue
		}
		buf = NearbyBuf(e.grid, p.X, p.Y, grid, buf[:0])
		for _, b := range buf {
			if b.OwnerID == p.ID {
				continue
			}
			if _, used := res.HitBulletIDs[b.ID]; used {
				continue
			}
			if Dist2(p.X, p.Y, b.X, b.Y) <= r2 {
				res.HitPlayerIDs[p.ID] = struct{}{}
				res.HitBulletIDs[b.ID] = struct{}{}
				res.Hits = append(res.Hits, Hit{PlayerID: p.ID, BulletID: b.ID})
				break
			}
		}
	}
	return res
}
