// Package classify builds a notice.Notice from a deserialize.Message,
// selecting the right Kind and populating its extension fields. It is a
// separate package from notice so that notice stays free of a dependency
// on the wire-format layer.
package classify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/deserialize"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
)

// Build constructs the appropriate Notice subtype from msg. If a
// source-specific constructor rejects the message, Build falls back to a
// bare generic Notice and the error is returned alongside it so callers
// can log/report it.
func Build(msg *deserialize.Message) (*notice.Notice, error) {
	base, err := buildBase(msg)
	if err != nil {
		return nil, err
	}

	source := strings.ToUpper(base.Source)
	switch {
	case source == "LVC":
		if isRetraction(msg, base) {
			return buildGWRetraction(base)
		}
		return tryOrFallback(base, buildGWDetection)
	case source == "FERMI":
		return tryOrFallback(base, buildFermi)
	case source == "SWIFT":
		return tryOrFallback(base, buildSwift)
	case source == "GECAM":
		return tryOrFallback(base, buildGECAM)
	case source == "EINSTEINPROBE" || source == "EP":
		return tryOrFallback(base, buildEinsteinProbe)
	case strings.Contains(strings.ToUpper(base.IVORN), "ICECUBE"):
		return tryOrFallback(base, buildIceCube)
	default:
		base.Kind = notice.KindGeneric
		return base, nil
	}
}

// tryOrFallback runs build against a copy of base; on InvalidNotice it
// returns the original generic base instead, so a malformed variant
// payload still flows through the pipeline.
func tryOrFallback(base *notice.Notice, build func(*notice.Notice) (*notice.Notice, error)) (*notice.Notice, error) {
	cp := *base
	n, err := build(&cp)
	if err != nil {
		base.Kind = notice.KindGeneric
		return base, err
	}
	return n, nil
}

func isRetraction(msg *deserialize.Message, base *notice.Notice) bool {
	if base.TopParams != nil {
		if at, ok := base.TopParams["AlertType"]; ok && strings.EqualFold(at.Value, "RETRACTION") {
			return true
		}
	}
	if at, ok := msg.Content["alert_type"].(string); ok && strings.EqualFold(at, "RETRACTION") {
		return true
	}
	return false
}

func buildBase(msg *deserialize.Message) (*notice.Notice, error) {
	n := &notice.Notice{
		CreatedAt: time.Now(),
		RawPayload: msg.Raw,
		EventType:  notice.EventUnknown,
		Role:       notice.RoleUnknown,
	}

	switch {
	case msg.VOEvent != nil:
		n.IVORN = msg.VOEvent.IVORN
		n.Role = role(msg.VOEvent.Role)
		n.Source = voEventSource(msg.VOEvent.IVORN)
		n.TopParams = msg.VOEvent.TopParams
		n.GroupParams = msg.VOEvent.GroupParams
		if t, err := time.Parse(time.RFC3339, msg.VOEvent.Who.Date); err == nil {
			n.NoticeTime = t
		}
	case hasKey(msg.Content, "$schema"):
		schema, _ := msg.Content["$schema"].(string)
		n.Source = schemaSource(schema)
		n.Role = notice.RoleObservation
		n.IVORN = synthesizeUnifiedIVORN(msg.Content, schema)
		if tt, ok := msg.Content["trigger_time"].(string); ok {
			if t, err := time.Parse(time.RFC3339, tt); err == nil {
				n.NoticeTime = t
			}
		}
	case hasKey(msg.Content, "superevent_id"):
		n.Source = "LVC"
		n.Role = notice.RoleObservation
		n.IVORN = synthesizeIGWNIVORN(msg.Content)
		if tc, ok := msg.Content["time_created"].(string); ok {
			if t, err := time.Parse(time.RFC3339, tc); err == nil {
				n.NoticeTime = t
			}
		}
	default:
		n.Source = "unknown"
		n.Role = notice.RoleUnknown
	}

	// Normalize the publisher name to the canonical short source name.
	switch up := strings.ToUpper(n.Source); {
	case up == "LVC" || up == "GECAM":
		n.Source = up
	case up == "FERMI":
		n.Source = "Fermi"
	case up == "SWIFT":
		n.Source = "Swift"
	case up == "EINSTEINPROBE" || up == "EP":
		n.Source = "EinsteinProbe"
	case up == "ICECUBE" || (up == "AMON" && strings.Contains(strings.ToUpper(n.IVORN), "ICECUBE")):
		n.Source = "IceCube"
	}

	if n.IVORN == "" {
		n.IVORN = notice.SynthesizeIVORN(n.Source, "unknown", n.NoticeTime)
	}
	return n, nil
}

func role(r string) notice.Role {
	switch strings.ToLower(r) {
	case "observation":
		return notice.RoleObservation
	case "test":
		return notice.RoleTest
	case "utility":
		return notice.RoleUtility
	default:
		return notice.RoleUnknown
	}
}

// voEventSource extracts the publisher segment from an IVORN of the form
// ivo://<authority>/<publisher>#<local>.
func voEventSource(ivorn string) string {
	parts := strings.SplitN(ivorn, "/", 4)
	if len(parts) < 4 {
		return "unknown"
	}
	pub := strings.SplitN(parts[3], "#", 2)[0]
	return pub
}

func schemaSource(schema string) string {
	idx := strings.Index(schema, "/notices/")
	if idx < 0 {
		return "unknown"
	}
	rest := strings.Split(schema[idx+len("/notices/"):], "/")
	if len(rest) == 0 {
		return "unknown"
	}
	return rest[0]
}

func synthesizeUnifiedIVORN(content map[string]any, schema string) string {
	idx := strings.Index(schema, "/notices/")
	rest := "unknown"
	if idx >= 0 {
		parts := strings.Split(schema[idx+len("/notices/"):], "/")
		if len(parts) > 1 {
			rest = strings.Join(parts[1:], "_")
			rest = strings.TrimSuffix(rest, ".schema.json")
		}
	}
	trigger, _ := content["trigger_time"].(string)
	publisher := schemaSource(schema)
	return fmt.Sprintf("ivo://nasa.gsfc.gcn/%s#%s_%s", publisher, rest, trigger)
}

func synthesizeIGWNIVORN(content map[string]any) string {
	eventID, _ := content["superevent_id"].(string)
	alertType, _ := content["alert_type"].(string)
	created, _ := content["time_created"].(string)
	return fmt.Sprintf("ivo://gwnet/LVC#%s_%s_%s", eventID, alertType, created)
}

func hasKey(m map[string]any, k string) bool {
	_, ok := m[k]
	return ok
}

func paramFloat(params map[string]notice.ParamValue, key string) (float64, bool) {
	p, ok := params[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(p.Value, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func paramString(params map[string]notice.ParamValue, key string) (string, bool) {
	p, ok := params[key]
	if !ok {
		return "", false
	}
	return p.Value, true
}
