package stream

import (
	"github.com/sixy6e/scanacq/internal/capability"
	"github.com/sixy6e/scanacq/internal/leech"
)

// NewSEMStream builds a plain SEM stream: scanner + one analog detector,
// 2-D YX output (spec.md §3 SEMStream).
func NewSEMStream(emitter capability.Emitter, analog capability.Detector, roi [4]float64, repetition [2]int, dwell float64) *Stream {
	return &Stream{
		Kind:       KindSEM,
		Emitter:    emitter,
		Detectors:  []ChildDetector{{Detector: analog, Role: "sem"}},
		ROI:        roi,
		Repetition: repetition,
		DwellTime:  dwell,
	}
}

// NewSEMMDStream builds a multi-detector "point" stream: scanner + one or
// more CL/EBIC/counting detectors, each producing one 2-D DataArray, plus
// an optional anchor-region leech output (spec.md §3 SEMMDStream).
func NewSEMMDStream(emitter capability.Emitter, detectors []ChildDetector, leeches []leech.Leech, roi [4]float64, repetition [2]int, dwell float64) *Stream {
	return &Stream{
		Kind:       KindSEMMD,
		Emitter:    emitter,
		Detectors:  detectors,
		Leeches:    leeches,
		ROI:        roi,
		Repetition: repetition,
		DwellTime:  dwell,
	}
}

// NewSEMSpectrumMDStream builds a spectrometer stream: scanner + a 1-D-
// binned camera; output is 5-D CTZYX with T=Z=1, C>1 (spec.md §3
// SEMSpectrumMDStream).
func NewSEMSpectrumMDStream(emitter capability.Emitter, camera capability.Detector, roi [4]float64, repetition [2]int, integrationTime float64, fuzzing bool) *Stream {
	return &Stream{
		Kind:            KindSEMSpectrumMD,
		Emitter:         emitter,
		Detectors:       []ChildDetector{{Detector: camera, Role: "spectrum"}},
		ROI:             roi,
		Repetition:      repetition,
		IntegrationTime: integrationTime,
		Fuzzing:         fuzzing,
	}
}

// NewSEMARMDStream builds an angle-resolved stream: scanner + a 2-D camera
// with an optional polarization analyzer (spec.md §3 SEMARMDStream).
func NewSEMARMDStream(emitter capability.Emitter, camera capability.Detector, roi [4]float64, repetition [2]int, integrationTime float64, acquireAllPol bool) *Stream {
	return &Stream{
		Kind:            KindSEMARMD,
		Emitter:         emitter,
		Detectors:       []ChildDetector{{Detector: camera, Role: "ar"}},
		ROI:             roi,
		Repetition:      repetition,
		IntegrationTime: integrationTime,
		AcquireAllPol:   acquireAllPol,
	}
}

// NewSEMTemporalSpectrumMDStream builds a streak-camera stream: per pixel
// produces a 2-D temporal-spectral image, output 5-D CTZYX with Z=1
// (spec.md §3 SEMTemporalSpectrumMDStream).
func NewSEMTemporalSpectrumMDStream(emitter capability.Emitter, streak capability.Detector, roi [4]float64, repetition [2]int, integrationTime float64) *Stream {
	return &Stream{
		Kind:            KindSEMTemporalSpectrumMD,
		Emitter:         emitter,
		Detectors:       []ChildDetector{{Detector: streak, Role: "streak"}},
		ROI:             roi,
		Repetition:      repetition,
		IntegrationTime: integrationTime,
	}
}

// NewSEMTemporalMDStream builds a time-correlator stream: per pixel
// produces a 1-D time histogram (spec.md §3 SEMTemporalMDStream).
func NewSEMTemporalMDStream(emitter capability.Emitter, correlator capability.Detector, roi [4]float64, repetition [2]int, integrationTime float64) *Stream {
	return &Stream{
		Kind:            KindSEMTemporalMD,
		Emitter:         emitter,
		Detectors:       []ChildDetector{{Detector: correlator, Role: "temporal"}},
		ROI:             roi,
		Repetition:      repetition,
		IntegrationTime: integrationTime,
	}
}
