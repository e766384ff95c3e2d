package classifier

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// ImageNet channel statistics. The backbone was pretrained under this
// normalization, so the same affine transform must be applied at inference.
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocess decodes raw image bytes and produces the CHW float32 tensor the
// model was trained on: direct (non-aspect-preserving) resize to size×size,
// channels scaled to [0,1], then per-channel ImageNet normalization. Alpha
// channels and non-RGB color modes are flattened by the RGBA conversion.
func Preprocess(data []byte, size int) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return toTensor(img, size), nil
}

func toTensor(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)

	plane := size * size
	tensor := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(resized.Bounds().Min.X+x, resized.Bounds().Min.Y+y).RGBA()
			idx := y*size + x
			tensor[idx] = (float32(r)/65535.0 - channelMean[0]) / channelStd[0]
			tensor[plane+idx] = (float32(g)/65535.0 - channelMean[1]) / channelStd[1]
			tensor[2*plane+idx] = (float32(b)/65535.0 - channelMean[2]) / channelStd[2]
		}
	}
	return tensor
}
