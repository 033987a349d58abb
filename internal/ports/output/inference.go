package output

import "context"

// Predictor runs a model on an encoded raster. The response is a raw,
// little-endian float32 array of height*width values in row-major order.
type Predictor interface {
	Predict(ctx context.Context, payload []byte) ([]byte, error)
}
