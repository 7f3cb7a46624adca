// Package notice defines the sentinel's polymorphic alert notice model:
// a base Notice plus per-source extension data, selected by an explicit
// Kind discriminant rather than subclassing.
package notice

import (
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the notice variant, selecting which Extension field
// (if any) is populated and which strategy decision rule applies.
type Kind string

const (
	KindGeneric       Kind = "generic"
	KindGWDetection   Kind = "gw_detection"
	KindGWRetraction  Kind = "gw_retraction"
	KindFermiGRB      Kind = "fermi_grb"
	KindSwiftGRB      Kind = "swift_grb"
	KindGECAMGRB      Kind = "gecam_grb"
	KindEinsteinProbe Kind = "einstein_probe_grb"
	KindIceCubeNu     Kind = "icecube_nu"
)

// Role mirrors the VOEvent/GCN notice role attribute.
type Role string

const (
	RoleObservation Role = "observation"
	RoleTest        Role = "test"
	RoleUtility     Role = "utility"
	RoleUnknown     Role = "unknown"
)

// EventType classifies the physical phenomenon the notice reports on.
type EventType string

const (
	EventGW      EventType = "GW"
	EventGRB     EventType = "GRB"
	EventNu      EventType = "NU"
	EventUnknown EventType = "unknown"
)

// Position is an equatorial sky position in degrees.
type Position struct {
	RA, Dec float64
}

// ParamValue is a single VOEvent Param's attributes, keyed loosely since the
// VOEvent schema allows an open attribute set per Param.
type ParamValue struct {
	Value string
	Unit  string
	UCD   string
	Extra map[string]string
}

// Group is a VOEvent What/Group block: its own attributes plus its Params.
type Group struct {
	Attrs  map[string]string
	Params map[string]ParamValue
}

// Notice is the common envelope for every alert, regardless of source.
type Notice struct {
	Kind Kind

	IVORN       string
	Source      string // normalized short name: LVC, Fermi, Swift, GECAM, EinsteinProbe, IceCube
	Role        Role
	NoticeTime  time.Time
	Type        string // sub-type, variant-specific (e.g. INITIAL, PRELIMINARY, RETRACTION)
	EventType   EventType
	EventID     string
	EventTime   time.Time
	CreatedAt   time.Time

	Position      *Position
	PositionError float64 // degrees, 0 if unset

	SkymapURL string
	Skymap    any // populated lazily by internal/skymap; opaque here

	TopParams   map[string]ParamValue
	GroupParams map[string]Group

	RawPayload []byte

	GW      *GWExtension
	Fermi   *FermiExtension
	Swift   *SwiftExtension
	GECAM   *GECAMExtension
	EP      *EinsteinProbeExtension
	IceCube *IceCubeExtension
}

// GWExtension carries gravitational-wave-specific fields, populated for
// both KindGWDetection and KindGWRetraction (the latter leaves most fields
// unset).
type GWExtension struct {
	Group          string // CBC or Burst
	FAR            float64
	Significant    *bool // nil if absent from payload; derived by classification
	Classification map[string]float64
	Properties     map[string]float64 // HasNS, HasRemnant, ...
	GraceDBURL     string
	External       *ExternalCoincidence
}

// ExternalCoincidence records a multi-messenger coincidence claim attached
// to a GW notice. When present its CombinedSkymapURL, if non-empty,
// overrides the primary skymap.
type ExternalCoincidence struct {
	Observatory           string
	IVORN                 string
	TimeCoincidenceFAR    float64
	SkyPositionCoincFAR   float64
	CombinedSkymapURL     string
}

// FermiExtension carries Fermi-GBM GRB fields.
type FermiExtension struct {
	LightCurveURL string
}

// SwiftExtension carries Swift-BAT GRB fields (currently position-only;
// kept distinct from FermiExtension for decision-rule clarity and future
// fields).
type SwiftExtension struct{}

// GECAMExtension carries GECAM GRB fields.
type GECAMExtension struct{}

// EinsteinProbeExtension carries Einstein Probe GRB fields.
type EinsteinProbeExtension struct{}

// IceCubeExtension carries IceCube neutrino alert fields.
type IceCubeExtension struct {
	SubType    string // Gold, Bronze, Cascade
	Signalness float64
	FAR        float64
}

// CombinedSystematicError returns the fixed systematic position error
// this notice's source contributes on top of any reported statistical
// error.
func (n *Notice) CombinedSystematicError() float64 {
	switch n.Kind {
	case KindFermiGRB:
		return 5.6
	case KindIceCubeNu:
		if n.IceCube != nil && n.IceCube.SubType == "Cascade" {
			return 0
		}
		return 0.2
	default:
		return 0
	}
}

// EventName derives the stable alert-DB Event key for this notice.
func (n *Notice) EventName() string {
	source := n.Source
	if source == "" {
		source = "unknown"
	}
	switch {
	case n.EventID != "":
		return fmt.Sprintf("%s_%s", source, n.EventID)
	case !n.EventTime.IsZero():
		return fmt.Sprintf("%s_%s", source, isot(n.EventTime))
	default:
		return fmt.Sprintf("%s_<unknown>", source)
	}
}

func isot(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000")
}

// SynthesizeIVORN builds a stable fallback identity when a payload has no
// IVORN of its own, combining source, sub-type and event time so repeated
// replays of the same payload collide (intentionally) on uniqueness checks.
func SynthesizeIVORN(source, subType string, eventTime time.Time) string {
	source = strings.ToLower(source)
	if source == "" {
		source = "unknown"
	}
	stamp := "unknown-time"
	if !eventTime.IsZero() {
		stamp = isot(eventTime)
	}
	return fmt.Sprintf("ivo://gtecs.goto-observatory/synthetic#%s_%s_%s", source, subType, stamp)
}
