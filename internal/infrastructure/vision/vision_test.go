package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"pet-skin/internal/domain/entity"
)

func uniformImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func withSquare(img *image.RGBA, r image.Rectangle, c color.Color) *image.RGBA {
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func requireBoxNear(t *testing.T, want, got entity.BoundingBox, tolerance int) {
	t.Helper()
	require.InDelta(t, want.X1, got.X1, float64(tolerance), "x1")
	require.InDelta(t, want.Y1, got.Y1, float64(tolerance), "y1")
	require.InDelta(t, want.X2, got.X2, float64(tolerance), "x2")
	require.InDelta(t, want.Y2, got.Y2, float64(tolerance), "y2")
}

func TestOtsuExtractor_BlankImageYieldsFullFrame(t *testing.T) {
	ext := NewOtsuExtractor(DefaultMinROISize)

	box, err := ext.Locate(uniformImage(100, 100, color.White))
	require.NoError(t, err)
	require.Equal(t, entity.BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}, box)

	box, err = ext.Locate(uniformImage(320, 320, color.Black))
	require.NoError(t, err)
	require.Equal(t, entity.BoundingBox{X1: 0, Y1: 0, X2: 320, Y2: 320}, box)
}

func TestOtsuExtractor_FindsDarkLesion(t *testing.T) {
	img := withSquare(uniformImage(300, 240, color.White), image.Rect(60, 40, 180, 200), color.Black)

	box, err := NewOtsuExtractor(DefaultMinROISize).Locate(img)
	require.NoError(t, err)
	requireBoxNear(t, entity.BoundingBox{X1: 60, Y1: 40, X2: 180, Y2: 200}, box, 3)
}

func TestOtsuExtractor_SmallRegionsFallBackToFullFrame(t *testing.T) {
	img := withSquare(uniformImage(200, 200, color.White), image.Rect(20, 20, 60, 60), color.Black)
	withSquare(img, image.Rect(100, 100, 200, 130), color.Black)

	box, err := NewOtsuExtractor(DefaultMinROISize).Locate(img)
	require.NoError(t, err)
	require.Equal(t, entity.BoundingBox{X1: 0, Y1: 0, X2: 200, Y2: 200}, box)
}

func TestOtsuExtractor_EqualAreasPickLeftmost(t *testing.T) {
	img := uniformImage(400, 300, color.White)
	withSquare(img, image.Rect(230, 20, 330, 120), color.Black)
	withSquare(img, image.Rect(40, 160, 140, 260), color.Black)

	box, err := NewOtsuExtractor(DefaultMinROISize).Locate(img)
	require.NoError(t, err)
	requireBoxNear(t, entity.BoundingBox{X1: 40, Y1: 160, X2: 140, Y2: 260}, box, 3)
}

func TestOtsuExtractor_OffsetBoundsStayInImageSpace(t *testing.T) {
	base := withSquare(uniformImage(300, 300, color.White), image.Rect(100, 100, 220, 220), color.Black)
	sub := base.SubImage(image.Rect(50, 50, 300, 300))

	box, err := NewOtsuExtractor(DefaultMinROISize).Locate(sub)
	require.NoError(t, err)
	requireBoxNear(t, entity.BoundingBox{X1: 100, Y1: 100, X2: 220, Y2: 220}, box, 3)

	roi := Crop(sub, box)
	require.InDelta(t, 120, roi.Bounds().Dx(), 6)
}

func TestOtsuThreshold_SplitsBimodalHistogram(t *testing.T) {
	pixels := append(bytes.Repeat([]byte{20}, 500), bytes.Repeat([]byte{200}, 500)...)
	th := otsuThreshold(pixels)
	require.GreaterOrEqual(t, th, uint8(20))
	require.Less(t, th, uint8(200))

	require.Equal(t, uint8(0), otsuThreshold(bytes.Repeat([]byte{90}, 10)))
}

func TestComponentBoxes_DiagonalPixelsAreConnected(t *testing.T) {
	mask := []bool{
		true, false, false,
		false, true, false,
		false, false, false,
	}
	boxes := componentBoxes(mask, 3, 3)
	require.Equal(t, []image.Rectangle{image.Rect(0, 0, 2, 2)}, boxes)
}

func TestPreprocessor_NormalizesUniformImage(t *testing.T) {
	p := NewPreprocessor(32)
	img := uniformImage(50, 70, color.RGBA{R: 128, G: 64, B: 255, A: 255})
	tensor, err := p.Preprocess(img, entity.FullBox(img.Bounds()))
	require.NoError(t, err)
	require.NoError(t, tensor.Validate())
	require.Equal(t, []int64{1, 3, 32, 32}, tensor.Shape())

	plane := 32 * 32
	wantR := (float32(128*257)/65535.0 - ImageNetMean[0]) / ImageNetStd[0]
	wantG := (float32(64*257)/65535.0 - ImageNetMean[1]) / ImageNetStd[1]
	wantB := (float32(255*257)/65535.0 - ImageNetMean[2]) / ImageNetStd[2]
	for _, idx := range []int{0, 17, plane - 1} {
		require.InDelta(t, wantR, tensor.Data[idx], 1e-4)
		require.InDelta(t, wantG, tensor.Data[plane+idx], 1e-4)
		require.InDelta(t, wantB, tensor.Data[2*plane+idx], 1e-4)
	}
}

func TestPreprocessor_IsDeterministic(t *testing.T) {
	img := withSquare(uniformImage(90, 60, color.White), image.Rect(10, 10, 50, 40), color.RGBA{R: 90, G: 30, B: 10, A: 255})
	p := NewPreprocessor(DefaultInputSize)

	a, err := p.Preprocess(img, entity.FullBox(img.Bounds()))
	require.NoError(t, err)
	b, err := p.Preprocess(img, entity.FullBox(img.Bounds()))
	require.NoError(t, err)
	require.Equal(t, a.Data, b.Data)
}

func TestPreprocessor_Region(t *testing.T) {
	fill := color.RGBA{R: 90, G: 30, B: 10, A: 255}
	img := withSquare(uniformImage(90, 60, color.White), image.Rect(10, 10, 50, 40), fill)
	p := NewPreprocessor(16)

	got, err := p.Preprocess(img, entity.BoundingBox{X1: 10, Y1: 10, X2: 50, Y2: 40})
	require.NoError(t, err)
	want, err := p.Preprocess(uniformImage(40, 30, fill), entity.BoundingBox{X1: 0, Y1: 0, X2: 40, Y2: 30})
	require.NoError(t, err)
	require.InDeltaSlice(t, want.Data, got.Data, 1e-4)

	_, err = p.Preprocess(img, entity.BoundingBox{X1: 200, Y1: 200, X2: 300, Y2: 300})
	require.Error(t, err)
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, uniformImage(8, 6, color.Black)))

	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 8, img.Bounds().Dx())

	_, err = Decode([]byte("definitely not an image"))
	var decodeErr *entity.DecodeError
	require.ErrorAs(t, err, &decodeErr)

	_, err = Decode(nil)
	require.ErrorAs(t, err, &decodeErr)
}
