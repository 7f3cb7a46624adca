package classify

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
)

func buildGWRetraction(n *notice.Notice) (*notice.Notice, error) {
	if !strings.EqualFold(n.Source, "LVC") {
		return nil, fmt.Errorf("%w: invalid source %q for GW retraction", notice.ErrInvalidNotice, n.Source)
	}
	n.Kind = notice.KindGWRetraction
	n.EventType = notice.EventGW
	n.Type = "RETRACTION"
	n.GW = &notice.GWExtension{}

	if eventID, ok := paramString(n.TopParams, "GraceID"); ok {
		n.EventID = eventID
		n.GW.GraceDBURL, _ = paramString(n.TopParams, "EventPage")
	}
	return n, nil
}

func buildGWDetection(n *notice.Notice) (*notice.Notice, error) {
	if !strings.EqualFold(n.Source, "LVC") {
		return nil, fmt.Errorf("%w: invalid source %q for GW notice", notice.ErrInvalidNotice, n.Source)
	}
	n.Kind = notice.KindGWDetection
	n.EventType = notice.EventGW
	ext := &notice.GWExtension{}

	eventID, hasVOEvent := paramString(n.TopParams, "GraceID")
	if hasVOEvent {
		n.EventID = eventID
		ext.GraceDBURL, _ = paramString(n.TopParams, "EventPage")
		ext.Group, _ = paramString(n.TopParams, "Group")
		ext.FAR, _ = paramFloat(n.TopParams, "FAR")
		if sig, ok := paramString(n.TopParams, "Significant"); ok {
			b := sig == "1"
			ext.Significant = &b
		}
		if ext.Group == "CBC" {
			if grp, ok := n.GroupParams["Classification"]; ok {
				ext.Classification = floatMap(grp.Params)
			}
			if grp, ok := n.GroupParams["Properties"]; ok {
				ext.Properties = floatMap(grp.Params)
			}
		}
		if v, ok := paramString(n.TopParams, "EventTime"); ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				n.EventTime = t
			}
		}
		skymapGroup := findSkymapGroup(n.GroupParams)
		if skymapGroup != nil {
			if v, ok := paramString(skymapGroup.Params, "skymap_fits"); ok {
				n.SkymapURL = v
			}
		}
		if extGroup, ok := n.GroupParams["External Coincidence"]; ok {
			ec := &notice.ExternalCoincidence{}
			ec.Observatory, _ = paramString(extGroup.Params, "observatory")
			ec.IVORN, _ = paramString(extGroup.Params, "ivorn")
			ec.TimeCoincidenceFAR, _ = paramFloat(extGroup.Params, "time_coincidence_far")
			ec.SkyPositionCoincFAR, _ = paramFloat(extGroup.Params, "time_sky_position_coincidence_far")
			if v, ok := paramString(extGroup.Params, "combined_skymap_url"); ok {
				ec.CombinedSkymapURL = v
				n.SkymapURL = v
			}
			ext.External = ec
		}
	}

	if ext.Group == "" {
		return nil, fmt.Errorf("%w: GW notice missing Group classification", notice.ErrInvalidNotice)
	}
	if ext.Significant == nil {
		farYears := ext.FAR * 365 * 86400
		var sig bool
		switch ext.Group {
		case "CBC":
			sig = farYears < 12
		case "Burst":
			sig = farYears < 1
		}
		ext.Significant = &sig
	}
	n.GW = ext
	return n, nil
}

func findSkymapGroup(groups map[string]notice.Group) *notice.Group {
	if g, ok := groups["GW_SKYMAP"]; ok {
		return &g
	}
	for name, g := range groups {
		if strings.EqualFold(g.Attrs["type"], "GW_SKYMAP") || strings.EqualFold(name, "GW_SKYMAP") {
			gg := g
			return &gg
		}
	}
	return nil
}

func floatMap(params map[string]notice.ParamValue) map[string]float64 {
	out := make(map[string]float64, len(params))
	for k, v := range params {
		if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
			out[k] = f
		}
	}
	return out
}

func buildFermi(n *notice.Notice) (*notice.Notice, error) {
	if !strings.EqualFold(n.Source, "Fermi") {
		return nil, fmt.Errorf("%w: invalid source %q for Fermi notice", notice.ErrInvalidNotice, n.Source)
	}
	n.Kind = notice.KindFermiGRB
	n.EventType = notice.EventGRB
	ext := &notice.FermiExtension{}

	n.EventID, _ = paramString(n.TopParams, "TrigID")
	if ra, raOK := paramFloat(n.TopParams, "C1"); raOK {
		if dec, decOK := paramFloat(n.TopParams, "C2"); decOK {
			n.Position = &notice.Position{RA: ra, Dec: dec}
		}
	}
	if statErr, ok := paramFloat(n.TopParams, "Error2Radius"); ok {
		sys := n.CombinedSystematicError()
		n.PositionError = hypot(statErr, sys)
	}
	if v, ok := paramString(n.TopParams, "LightCurve_URL"); ok {
		ext.LightCurveURL = v
		guessed := strings.Replace(v, "lc_medres34", "healpix_all", 1)
		guessed = strings.Replace(guessed, ".gif", ".fit", 1)
		if guessed != v {
			n.SkymapURL = guessed
		}
	}
	n.Fermi = ext
	return n, nil
}

func buildSwift(n *notice.Notice) (*notice.Notice, error) {
	if !strings.EqualFold(n.Source, "Swift") {
		return nil, fmt.Errorf("%w: invalid source %q for Swift notice", notice.ErrInvalidNotice, n.Source)
	}
	n.Kind = notice.KindSwiftGRB
	n.EventType = notice.EventGRB
	n.EventID, _ = paramString(n.TopParams, "TrigID")
	if ra, raOK := paramFloat(n.TopParams, "C1"); raOK {
		if dec, decOK := paramFloat(n.TopParams, "C2"); decOK {
			n.Position = &notice.Position{RA: ra, Dec: dec}
		}
	}
	if statErr, ok := paramFloat(n.TopParams, "Error2Radius"); ok {
		n.PositionError = statErr
	}
	n.Swift = &notice.SwiftExtension{}
	return n, nil
}

func buildGECAM(n *notice.Notice) (*notice.Notice, error) {
	if !strings.EqualFold(n.Source, "GECAM") {
		return nil, fmt.Errorf("%w: invalid source %q for GECAM notice", notice.ErrInvalidNotice, n.Source)
	}
	n.Kind = notice.KindGECAMGRB
	n.EventType = notice.EventGRB
	n.EventID, _ = paramString(n.TopParams, "TrigID")
	if ra, raOK := paramFloat(n.TopParams, "C1"); raOK {
		if dec, decOK := paramFloat(n.TopParams, "C2"); decOK {
			n.Position = &notice.Position{RA: ra, Dec: dec}
		}
	}
	if statErr, ok := paramFloat(n.TopParams, "Error2Radius"); ok {
		n.PositionError = statErr
	}
	n.GECAM = &notice.GECAMExtension{}
	return n, nil
}

func buildEinsteinProbe(n *notice.Notice) (*notice.Notice, error) {
	if !strings.Contains(strings.ToUpper(n.Source), "EINSTEINPROBE") && !strings.EqualFold(n.Source, "EP") {
		return nil, fmt.Errorf("%w: invalid source %q for Einstein Probe notice", notice.ErrInvalidNotice, n.Source)
	}
	n.Kind = notice.KindEinsteinProbe
	n.EventType = notice.EventGRB
	n.EventID, _ = paramString(n.TopParams, "TrigID")
	if ra, raOK := paramFloat(n.TopParams, "C1"); raOK {
		if dec, decOK := paramFloat(n.TopParams, "C2"); decOK {
			n.Position = &notice.Position{RA: ra, Dec: dec}
		}
	}
	if statErr, ok := paramFloat(n.TopParams, "Error2Radius"); ok {
		n.PositionError = statErr
	}
	n.EP = &notice.EinsteinProbeExtension{}
	return n, nil
}

func buildIceCube(n *notice.Notice) (*notice.Notice, error) {
	n.Kind = notice.KindIceCubeNu
	n.EventType = notice.EventNu
	ext := &notice.IceCubeExtension{}

	n.EventID, _ = paramString(n.TopParams, "AMON_ID")
	if ra, raOK := paramFloat(n.TopParams, "C1"); raOK {
		if dec, decOK := paramFloat(n.TopParams, "C2"); decOK {
			n.Position = &notice.Position{RA: ra, Dec: dec}
		}
	}

	ivornUpper := strings.ToUpper(n.IVORN)
	switch {
	case strings.Contains(ivornUpper, "CASCADE"):
		ext.SubType = "Cascade"
	case strings.Contains(ivornUpper, "BRONZE"):
		ext.SubType = "Bronze"
	case strings.Contains(ivornUpper, "GOLD"):
		ext.SubType = "Gold"
	default:
		return nil, fmt.Errorf("%w: unrecognized IceCube sub-type in IVORN %q", notice.ErrInvalidNotice, n.IVORN)
	}

	ext.Signalness, _ = paramFloat(n.TopParams, "signalness")
	ext.FAR, _ = paramFloat(n.TopParams, "FAR")
	n.IceCube = ext

	if statErr, ok := paramFloat(n.TopParams, "Error2Radius"); ok {
		n.PositionError = hypot(statErr, n.CombinedSystematicError())
	}
	return n, nil
}

// hypot combines a statistical position error with the source's fixed
// systematic error in quadrature.
func hypot(statistical, systematic float64) float64 {
	return math.Hypot(statistical, systematic)
}
