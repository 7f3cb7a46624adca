// Package deserialize turns a raw alert payload into a normalized Message,
// trying each known wire format in turn: Avro, VOEvent-JSON, generic JSON,
// VOEvent-XML. The brokers publish all four formats on different topics
// with no out-of-band content-type signal, so detection is by trial
// against goavro and encoding/xml|json.
package deserialize

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"

	"github.com/linkedin/goavro/v2"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
)

// Format identifies which wire encoding a Message was parsed from.
type Format string

const (
	FormatAvro       Format = "avro"
	FormatVOEventXML Format = "voevent_xml"
	FormatVOEventJSON Format = "voevent_json"
	FormatJSON       Format = "json"
)

// Message is the deserializer's output: the detected format plus the
// payload decoded as a nested map, ready for notice construction.
type Message struct {
	Format  Format
	Content map[string]any
	VOEvent *VOEvent // non-nil when Format is one of the VOEvent variants
	Raw     []byte
}

// VOEvent is the minimal structural projection of a VOEvent document we
// need: identity, role, timestamp and the flattened What block.
type VOEvent struct {
	IVORN string
	Role  string
	Who   struct {
		Date string
	}
	TopParams   map[string]notice.ParamValue
	GroupParams map[string]notice.Group
}

// voEventXML mirrors the on-wire VOEvent XML element shape for decoding via
// encoding/xml; field names are exported so the package stays free of
// struct tags noise beyond what xml requires.
type voEventXML struct {
	XMLName xml.Name `xml:"VOEvent"`
	IVORN   string   `xml:"ivorn,attr"`
	Role    string   `xml:"role,attr"`
	Who     struct {
		Date string `xml:"Date"`
	} `xml:"Who"`
	What struct {
		Param []xmlParam `xml:"Param"`
		Group []xmlGroup `xml:"Group"`
	} `xml:"What"`
}

type xmlParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
	Unit  string `xml:"unit,attr"`
	UCD   string `xml:"ucd,attr"`
}

type xmlGroup struct {
	Name  string     `xml:"name,attr"`
	Type  string     `xml:"type,attr"`
	Param []xmlParam `xml:"Param"`
}

// voEventJSON is the SCIMMA/GCN JSON rendering of the same structure.
type voEventJSON struct {
	Ivorn string `json:"ivorn"`
	Role  string `json:"role"`
	Who   struct {
		Date string `json:"Date"`
	} `json:"Who"`
	What struct {
		Param json.RawMessage `json:"Param"`
		Group json.RawMessage `json:"Group"`
	} `json:"What"`
}

// Deserialize tries each known format in order and returns the first
// successful parse. A format-specific structural error (e.g. duplicate
// VOEvent Param names once a VOEvent has been matched) is returned
// immediately rather than falling through to the next trial.
func Deserialize(raw []byte) (*Message, error) {
	if msg, matched, err := tryAvro(raw); matched {
		return msg, err
	}
	if msg, matched, err := tryVOEventJSON(raw); matched {
		return msg, err
	}
	if msg, matched, err := tryGenericJSON(raw); matched {
		return msg, err
	}
	if msg, matched, err := tryVOEventXML(raw); matched {
		return msg, err
	}
	return nil, fmt.Errorf("%w: no known format matched payload", notice.ErrInvalidPayload)
}

func tryAvro(raw []byte) (*Message, bool, error) {
	ocf, err := goavro.NewOCFReader(bytes.NewReader(raw))
	if err != nil {
		return nil, false, nil
	}
	if !ocf.Scan() {
		return nil, false, nil
	}
	rec, err := ocf.Read()
	if err != nil {
		return nil, true, fmt.Errorf("%w: malformed avro record: %v", notice.ErrInvalidPayload, err)
	}
	content, ok := rec.(map[string]any)
	if !ok {
		return nil, true, fmt.Errorf("%w: avro record is not a map", notice.ErrInvalidPayload)
	}
	return &Message{Format: FormatAvro, Content: content, Raw: raw}, true, nil
}

func tryVOEventJSON(raw []byte) (*Message, bool, error) {
	var v voEventJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, nil
	}
	if v.Ivorn == "" {
		// Valid JSON but not shaped like a VOEvent; let generic JSON try it.
		return nil, false, nil
	}
	ve, err := buildVOEvent(v)
	if err != nil {
		return nil, true, err
	}
	content := map[string]any{"ivorn": v.Ivorn, "role": v.Role}
	return &Message{Format: FormatVOEventJSON, Content: content, VOEvent: ve, Raw: raw}, true, nil
}

func tryGenericJSON(raw []byte) (*Message, bool, error) {
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, false, nil
	}
	return &Message{Format: FormatJSON, Content: content, Raw: raw}, true, nil
}

func tryVOEventXML(raw []byte) (*Message, bool, error) {
	var v voEventXML
	if err := xml.Unmarshal(raw, &v); err != nil {
		return nil, false, nil
	}
	if v.IVORN == "" {
		return nil, false, nil
	}
	top, err := flattenParams(v.What.Param)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", notice.ErrInvalidPayload, err)
	}
	groups, err := flattenGroups(v.What.Group)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", notice.ErrInvalidPayload, err)
	}
	ve := &VOEvent{IVORN: v.IVORN, Role: v.Role, TopParams: top, GroupParams: groups}
	ve.Who.Date = v.Who.Date
	content := map[string]any{"ivorn": v.IVORN, "role": v.Role}
	return &Message{Format: FormatVOEventXML, Content: content, VOEvent: ve, Raw: raw}, true, nil
}

func buildVOEvent(v voEventJSON) (*VOEvent, error) {
	var params []xmlParam
	if len(v.What.Param) > 0 {
		if err := json.Unmarshal(v.What.Param, &params); err != nil {
			var single xmlParam
			if err2 := json.Unmarshal(v.What.Param, &single); err2 != nil {
				return nil, fmt.Errorf("%w: unparseable What/Param: %v", notice.ErrInvalidPayload, err)
			}
			params = []xmlParam{single}
		}
	}
	top, err := flattenParams(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", notice.ErrInvalidPayload, err)
	}

	var groups []xmlGroup
	if len(v.What.Group) > 0 {
		if err := json.Unmarshal(v.What.Group, &groups); err != nil {
			var single xmlGroup
			if err2 := json.Unmarshal(v.What.Group, &single); err2 != nil {
				return nil, fmt.Errorf("%w: unparseable What/Group: %v", notice.ErrInvalidPayload, err)
			}
			groups = []xmlGroup{single}
		}
	}
	grp, err := flattenGroups(groups)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", notice.ErrInvalidPayload, err)
	}

	ve := &VOEvent{IVORN: v.Ivorn, Role: v.Role, TopParams: top, GroupParams: grp}
	ve.Who.Date = v.Who.Date
	return ve, nil
}

// flattenParams converts a What/Param list into a name-keyed mapping,
// rejecting duplicate names within the same scope.
func flattenParams(params []xmlParam) (map[string]notice.ParamValue, error) {
	out := make(map[string]notice.ParamValue, len(params))
	for _, p := range params {
		if _, exists := out[p.Name]; exists {
			return nil, fmt.Errorf("duplicate Param %q", p.Name)
		}
		out[p.Name] = notice.ParamValue{Value: p.Value, Unit: p.Unit, UCD: p.UCD}
	}
	return out, nil
}

func flattenGroups(groups []xmlGroup) (map[string]notice.Group, error) {
	out := make(map[string]notice.Group, len(groups))
	for _, g := range groups {
		name := g.Name
		if name == "" {
			name = g.Type
		}
		params, err := flattenParams(g.Param)
		if err != nil {
			return nil, fmt.Errorf("group %q: %v", name, err)
		}
		if _, exists := out[name]; exists {
			return nil, fmt.Errorf("duplicate Group %q", name)
		}
		out[name] = notice.Group{Attrs: map[string]string{"type": g.Type}, Params: params}
	}
	return out, nil
}
