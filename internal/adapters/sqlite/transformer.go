package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"

	"github.com/jobrunner/flotsam/internal/domain"
)

const spatialiteDriver = "sqlite3_with_spatialite"

func init() {
	sql.Register(spatialiteDriver, &sqlite3.SQLiteDriver{
		Extensions: spatiaLiteLibraryPaths(),
	})
}

// spatiaLiteLibraryPaths lists the mod_spatialite locations to try. An
// explicit SPATIALITE_LIBRARY_PATH wins over the platform defaults.
func spatiaLiteLibraryPaths() []string {
	if p := os.Getenv("SPATIALITE_LIBRARY_PATH"); p != "" {
		return []string{p}
	}
	return []string{
		"/usr/lib/mod_spatialite.so",
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",
		"/usr/local/lib/mod_spatialite.dylib",
		"/opt/homebrew/lib/mod_spatialite.dylib",
		"mod_spatialite",
	}
}

// Transformer implements output.CoordinateTransformer with SpatiaLite's
// ST_Transform on an in-memory database, so any EPSG code known to PROJ
// can be used.
type Transformer struct {
	db *sql.DB

	mu    sync.Mutex
	known map[int]bool
}

// NewTransformer opens the in-memory SpatiaLite database and loads the
// EPSG definitions.
func NewTransformer(ctx context.Context) (*Transformer, error) {
	db, err := sql.Open(spatialiteDriver, ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	var version string
	if err := db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SpatiaLite extension not available: %w", err)
	}
	if _, err := db.ExecContext(ctx, "SELECT InitSpatialMetaDataFull(1)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialising spatial metadata: %w", err)
	}
	return &Transformer{db: db, known: map[int]bool{}}, nil
}

// Close closes the database.
func (t *Transformer) Close() error {
	return t.db.Close()
}

// IsSupported implements output.CoordinateTransformer. Both codes must be in
// spatial_ref_sys.
func (t *Transformer) IsSupported(sourceSRID, targetSRID int) bool {
	return t.knownSRID(sourceSRID) && t.knownSRID(targetSRID)
}

func (t *Transformer) knownSRID(srid int) bool {
	if srid <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok, cached := t.known[srid]; cached {
		return ok
	}
	var count int
	err := t.db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM spatial_ref_sys WHERE srid = ?`, srid).Scan(&count)
	if err != nil {
		return false
	}
	t.known[srid] = count > 0
	return count > 0
}

// Transform implements output.CoordinateTransformer.
func (t *Transformer) Transform(ctx context.Context, pts []orb.Point, sourceSRID, targetSRID int) ([]orb.Point, error) {
	out := make([]orb.Point, len(pts))
	if sourceSRID == targetSRID {
		copy(out, pts)
		return out, nil
	}
	if !t.IsSupported(sourceSRID, targetSRID) {
		return nil, fmt.Errorf("EPSG:%d -> EPSG:%d: %w", sourceSRID, targetSRID, domain.ErrUnsupportedCRS)
	}

	stmt, err := t.db.PrepareContext(ctx,
		`SELECT X(p), Y(p) FROM (SELECT ST_Transform(MakePoint(?, ?, ?), ?) AS p)`)
	if err != nil {
		return nil, fmt.Errorf("preparing transform: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, p := range pts {
		var x, y sql.NullFloat64
		if err := stmt.QueryRowContext(ctx, p[0], p[1], sourceSRID, targetSRID).Scan(&x, &y); err != nil {
			return nil, fmt.Errorf("transforming point %d: %w", i, err)
		}
		if !x.Valid || !y.Valid {
			return nil, fmt.Errorf("point %d (%v) has no image in EPSG:%d: %w", i, p, targetSRID, domain.ErrInvalidInput)
		}
		out[i] = orb.Point{x.Float64, y.Float64}
	}
	return out, nil
}
