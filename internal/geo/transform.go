// Package geo provides the rotation/translation/extent arithmetic shared
// by the scan planner and the drift corrector. It is grounded on the
// teacher's geo.go (GeoCoefficients, BeamsLonLat): an explicit-trig,
// per-sample loop style, repurposed here from WGS84 beam geolocation to
// scan-raster rotation about an ROI center.
package geo

import "math"

// Point is a 2-D coordinate, in meters unless documented otherwise.
type Point struct {
	X, Y float64
}

// RotateAbout rotates p by theta radians about center and returns the
// result.
func RotateAbout(p, center Point, theta float64) Point {
	dx := p.X - center.X
	dy := p.Y - center.Y
	sinT, cosT := math.Sincos(theta)
	return Point{
		X: center.X + dx*cosT - dy*sinT,
		Y: center.Y + dx*sinT + dy*cosT,
	}
}

// PixelCenters returns the physical center of every pixel in a W x H grid
// whose top-left pixel's top-left corner sits at origin, with each pixel
// sized pixelW x pixelH, then rotated by theta about the grid's own center
// and shifted so that the grid's center lands on (tx,ty). Rows are
// returned fast-W, slow-H to match the
// emitter waveform's row-major layout (spec.md §4.2).
func PixelCenters(w, h int, pixelW, pixelH, tx, ty, theta float64) []Point {
	out := make([]Point, 0, w*h)
	halfW := float64(w) * pixelW / 2
	halfH := float64(h) * pixelH / 2
	center := Point{X: halfW, Y: halfH}
	for row := 0; row < h; row++ {
		y := (float64(row)+0.5)*pixelH
		for col := 0; col < w; col++ {
			x := (float64(col) + 0.5) * pixelW
			p := Point{X: x, Y: y}
			p = RotateAbout(p, center, theta)
			p.X += tx - halfW
			p.Y += ty - halfH
			out = append(out, p)
		}
	}
	return out
}

// RowEndpoints returns the first and last pixel-center of row within a W x H
// grid transformed exactly as PixelCenters would, without materializing the
// whole grid; used by the emitter driver to linearly interpolate within a
// row (spec.md §4.2: "Row endpoints are computed so that ... the center of
// each pixel coincides with the geometric center of its physical area").
func RowEndpoints(w, h, row int, pixelW, pixelH, tx, ty, theta float64) (first, last Point) {
	halfW := float64(w) * pixelW / 2
	halfH := float64(h) * pixelH / 2
	center := Point{X: halfW, Y: halfH}
	y := (float64(row) + 0.5) * pixelH

	firstP := Point{X: 0.5 * pixelW, Y: y}
	lastP := Point{X: (float64(w) - 0.5) * pixelW, Y: y}

	firstP = RotateAbout(firstP, center, theta)
	lastP = RotateAbout(lastP, center, theta)

	firstP.X += tx - halfW
	firstP.Y += ty - halfH
	lastP.X += tx - halfW
	lastP.Y += ty - halfH

	return firstP, lastP
}

// Lerp linearly interpolates between a and b at fraction t in [0,1].
func Lerp(a, b Point, t float64) Point {
	return Point{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
	}
}

// FitsWithin reports whether a repetition x pixelSize raster fits inside an
// roi (normalized [0,1] 4-tuple: x0,y0,x1,y1) of an emitter field of the
// given physical size, per spec.md §3's Stream invariant.
func FitsWithin(repW, repH int, pixelW, pixelH, fieldW, fieldH float64, roi [4]float64) bool {
	roiW := (roi[2] - roi[0]) * fieldW
	roiH := (roi[3] - roi[1]) * fieldH
	return float64(repW)*pixelW <= roiW+1e-12 && float64(repH)*pixelH <= roiH+1e-12
}
