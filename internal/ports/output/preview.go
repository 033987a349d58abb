package output

import "github.com/jobrunner/flotsam/internal/raster"

// PreviewRenderer draws a quicklook image of a raster.
type PreviewRenderer interface {
	Render(r *raster.Raster) ([]byte, error)
}
