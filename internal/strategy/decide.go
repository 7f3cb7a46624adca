package strategy

import (
	"fmt"
	"math"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/skymap"
)

// Decide chooses a strategy key for n. sm may be nil only for variants
// that do not require a skymap (Decide returns ErrDecisionFailed if a
// skymap-dependent variant receives nil).
func Decide(n *notice.Notice, sm skymap.SkyMap) (string, error) {
	switch n.Kind {
	case notice.KindGWRetraction:
		return KeyRetraction, nil
	case notice.KindGWDetection:
		return decideGW(n, sm)
	case notice.KindFermiGRB:
		return decideFermi(sm)
	case notice.KindSwiftGRB:
		return "GRB_SWIFT", nil
	case notice.KindGECAMGRB, notice.KindEinsteinProbe:
		return "GRB_OTHER", nil
	case notice.KindIceCubeNu:
		return decideIceCube(n)
	case notice.KindGeneric:
		return "DEFAULT", nil
	default:
		return "", fmt.Errorf("%w: unmatched notice kind %q", ErrDecisionFailed, n.Kind)
	}
}

func decideGW(n *notice.Notice, sm skymap.SkyMap) (string, error) {
	if n.GW == nil {
		return "", fmt.Errorf("%w: GW notice missing extension", ErrDecisionFailed)
	}
	if sm == nil {
		return "", fmt.Errorf("%w: GW detection requires a skymap", ErrDecisionFailed)
	}
	ext := n.GW
	significant := ext.Significant != nil && *ext.Significant
	farYears := ext.FAR * 365 * 86400
	area90 := sm.ContourArea(0.9)

	var rank int
	switch ext.Group {
	case "CBC":
		if farYears > 12 && !significant {
			return KeyIgnore, nil
		}
		dist := math.Inf(1)
		if mean, ok := sm.Header("distmean"); ok {
			std, _ := sm.Header("diststd")
			dist = mean - std
		}
		obs := 0.0
		if ext.Properties != nil && ext.Classification != nil {
			obs = ext.Properties["HasRemnant"] * (ext.Classification["BNS"] + ext.Classification["NSBH"])
		}
		switch {
		case obs > 0.5:
			if area90 < 5000 && dist < 250 {
				rank = 2
			} else {
				rank = 3
			}
		default:
			if area90 < 5000 && dist < 250 {
				rank = 5
			} else {
				return KeyIgnore, nil
			}
		}
	case "Burst":
		if farYears > 1 && !significant {
			return KeyIgnore, nil
		}
		if area90 < 5000 {
			rank = 4
		} else {
			return KeyIgnore, nil
		}
	default:
		return "", fmt.Errorf("%w: unknown GW group %q", ErrDecisionFailed, ext.Group)
	}

	if ext.External != nil {
		rank = 1
	}

	suffix := "_WIDE"
	if area90 < 1000 {
		suffix = "_NARROW"
	}
	return fmt.Sprintf("GW_RANK_%d%s", rank, suffix), nil
}

func decideFermi(sm skymap.SkyMap) (string, error) {
	if sm == nil {
		return "", fmt.Errorf("%w: Fermi GRB requires a skymap", ErrDecisionFailed)
	}
	if sm.ContourArea(0.68) < 100 {
		return "GRB_FERMI_NARROW", nil
	}
	return "GRB_FERMI_WIDE", nil
}

func decideIceCube(n *notice.Notice) (string, error) {
	if n.IceCube == nil {
		return "", fmt.Errorf("%w: IceCube notice missing extension", ErrDecisionFailed)
	}
	switch n.IceCube.SubType {
	case "Gold":
		return "NU_ICECUBE_GOLD", nil
	case "Bronze":
		return "NU_ICECUBE_BRONZE", nil
	case "Cascade":
		return "NU_ICECUBE_CASCADE", nil
	default:
		return "", fmt.Errorf("%w: unknown IceCube sub-type %q", ErrDecisionFailed, n.IceCube.SubType)
	}
}
