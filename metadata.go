package scanacq

import (
	"fmt"
	"sync"

	stgpsr "github.com/yuin/stagparser"
)

// Metadata key names, as produced on published DataArrays (§3, §6).
const (
	MDPos             = "MD_POS"
	MDPixelSize       = "MD_PIXEL_SIZE"
	MDRotation        = "MD_ROTATION"
	MDAcqDate         = "MD_ACQ_DATE"
	MDDwellTime       = "MD_DWELL_TIME"
	MDIntegrationCnt  = "MD_INTEGRATION_COUNT"
	MDExpTime         = "MD_EXP_TIME"
	MDBaseline        = "MD_BASELINE"
	MDWlList          = "MD_WL_LIST"
	MDTimeList        = "MD_TIME_LIST"
	MDDetectorType    = "MD_DET_TYPE"
	MDDims            = "MD_DIMS"
	MDUserTint        = "MD_USER_TINT"
	MDPolMode         = "MD_POL_MODE"
	MDInWavelength    = "MD_IN_WL"
	MDProbeCurrentTS  = "MD_EBEAM_CURRENT_TIME"
)

// metadataKeyDefs declares, purely via struct tags, the canonical unit for
// every metadata key the core produces. It holds no runtime values itself;
// stagparser.ParseStruct reads the tags once at init to build keyUnits,
// the same role the teacher's schema.go gives the identical library when
// it reads "tiledb:"/"filters:" tags off PingHeaders/BeamArray to drive
// TileDB schema generation.
type metadataKeyDefs struct {
	Pos            string `scan:"key=MD_POS,unit=m"`
	PixelSize      string `scan:"key=MD_PIXEL_SIZE,unit=m"`
	Rotation       string `scan:"key=MD_ROTATION,unit=rad"`
	AcqDate        string `scan:"key=MD_ACQ_DATE,unit=s"`
	DwellTime      string `scan:"key=MD_DWELL_TIME,unit=s"`
	IntegrationCnt string `scan:"key=MD_INTEGRATION_COUNT,unit=count"`
	ExpTime        string `scan:"key=MD_EXP_TIME,unit=s"`
	Baseline       string `scan:"key=MD_BASELINE,unit=sample"`
	WlList         string `scan:"key=MD_WL_LIST,unit=m"`
	TimeList       string `scan:"key=MD_TIME_LIST,unit=s"`
	DetectorType   string `scan:"key=MD_DET_TYPE,unit=tag"`
	Dims           string `scan:"key=MD_DIMS,unit=label"`
	UserTint       string `scan:"key=MD_USER_TINT,unit=rgb"`
	PolMode        string `scan:"key=MD_POL_MODE,unit=tag"`
	InWavelength   string `scan:"key=MD_IN_WL,unit=m"`
	ProbeCurrentTS string `scan:"key=MD_EBEAM_CURRENT_TIME,unit=(s,A)"`
}

var (
	keyUnits     map[string]string
	keyUnitsOnce sync.Once
)

func loadKeyUnits() {
	defs, err := stgpsr.ParseStruct(&metadataKeyDefs{}, "scan")
	if err != nil {
		// Tags are a repo-local literal; a parse failure here is a
		// programming error, not a runtime condition.
		panic(fmt.Sprintf("scanacq: malformed metadata key tags: %v", err))
	}
	keyUnits = make(map[string]string, len(defs))
	for _, fieldDefs := range defs {
		for _, d := range fieldDefs {
			key, _ := d.Attribute("key")
			unit, _ := d.Attribute("unit")
			keyUnits[key] = unit
		}
	}
}

// KeyUnit returns the canonical unit recorded for a metadata key, and
// whether the key is a recognized member of the core's metadata vocabulary.
func KeyUnit(key string) (string, bool) {
	keyUnitsOnce.Do(loadKeyUnits)
	u, ok := keyUnits[key]
	return u, ok
}

// Metadata is a string-keyed bag of acquisition metadata values, carried as
// an overlay stack (component default -> child override -> per-scan ->
// per-pixel, per spec.md §9's redesign flag) rather than the teacher source's
// global-mutable merging maps.
type Metadata map[string]any

// NewMetadata returns an empty metadata table.
func NewMetadata() Metadata { return make(Metadata) }

// Overlay returns a new Metadata with child's entries applied on top of a
// copy of base, implementing one level of the overlay stack.
func Overlay(base, child Metadata) Metadata {
	out := make(Metadata, len(base)+len(child))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

func (m Metadata) SetFloat(key string, v float64) { m[key] = v }
func (m Metadata) SetInt(key string, v int)        { m[key] = v }
func (m Metadata) SetString(key string, v string)   { m[key] = v }
func (m Metadata) SetFloatPair(key string, x, y float64) { m[key] = [2]float64{x, y} }
func (m Metadata) SetFloatSlice(key string, v []float64) { m[key] = append([]float64(nil), v...) }

func (m Metadata) Float(key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func (m Metadata) FloatPair(key string) ([2]float64, bool) {
	v, ok := m[key]
	if !ok {
		return [2]float64{}, false
	}
	f, ok := v.([2]float64)
	return f, ok
}

func (m Metadata) Int(key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	i, ok := v.(int)
	return i, ok
}

func (m Metadata) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
