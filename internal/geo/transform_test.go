package geo

import "testing"

func TestRotateAboutZero(t *testing.T) {
	center := Point{X: 1, Y: 1}
	p := Point{X: 2, Y: 1}
	got := RotateAbout(p, center, 0)
	if got != p {
		t.Fatalf("rotation by 0 should be identity, got %+v want %+v", got, p)
	}
}

func TestRotateAboutQuarterTurn(t *testing.T) {
	center := Point{X: 0, Y: 0}
	p := Point{X: 1, Y: 0}
	got := RotateAbout(p, center, 3.14159265358979/2)
	if diff := got.X; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected x ~ 0 after quarter turn, got %v", got.X)
	}
	if diff := got.Y - 1; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected y ~ 1 after quarter turn, got %v", got.Y)
	}
}

func TestPixelCentersCount(t *testing.T) {
	pts := PixelCenters(4, 3, 1, 1, 0, 0, 0)
	if len(pts) != 12 {
		t.Fatalf("expected 12 pixel centers, got %d", len(pts))
	}
}

func TestFitsWithin(t *testing.T) {
	if !FitsWithin(10, 10, 0.01, 0.01, 1.0, 1.0, [4]float64{0, 0, 0.2, 0.2}) {
		t.Fatalf("expected raster to fit within roi")
	}
	if FitsWithin(100, 100, 0.01, 0.01, 1.0, 1.0, [4]float64{0, 0, 0.2, 0.2}) {
		t.Fatalf("expected raster to exceed roi")
	}
}
