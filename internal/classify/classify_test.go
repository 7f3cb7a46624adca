package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/deserialize"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
)

func voeventMsg(ivorn string, top map[string]notice.ParamValue, groups map[string]notice.Group) *deserialize.Message {
	return &deserialize.Message{
		Format: deserialize.FormatVOEventXML,
		VOEvent: &deserialize.VOEvent{
			IVORN:       ivorn,
			Role:        "observation",
			TopParams:   top,
			GroupParams: groups,
		},
	}
}

func pv(v string) notice.ParamValue { return notice.ParamValue{Value: v} }

func TestBuild_GWDetection(t *testing.T) {
	msg := voeventMsg("ivo://gwnet/lvc#S190510g-1", map[string]notice.ParamValue{
		"GraceID":     pv("S190510g"),
		"Group":       pv("CBC"),
		"FAR":         pv("1e-9"),
		"Significant": pv("1"),
	}, map[string]notice.Group{
		"Classification": {Params: map[string]notice.ParamValue{"BNS": pv("0.8")}},
		"Properties":      {Params: map[string]notice.ParamValue{"HasRemnant": pv("0.9")}},
	})

	n, err := Build(msg)
	require.NoError(t, err)
	assert.Equal(t, notice.KindGWDetection, n.Kind)
	assert.Equal(t, "S190510g", n.EventID)
	require.NotNil(t, n.GW)
	assert.Equal(t, "CBC", n.GW.Group)
	assert.Equal(t, 0.8, n.GW.Classification["BNS"])
	assert.True(t, *n.GW.Significant)
}

func TestBuild_GWRetraction(t *testing.T) {
	msg := voeventMsg("ivo://gwnet/lvc#S190510g-2", map[string]notice.ParamValue{
		"GraceID":   pv("S190510g"),
		"AlertType": pv("Retraction"),
	}, nil)

	n, err := Build(msg)
	require.NoError(t, err)
	assert.Equal(t, notice.KindGWRetraction, n.Kind)
	assert.Equal(t, "S190510g", n.EventID)
}

func TestBuild_GWDetectionMissingGroupFallsBackToGeneric(t *testing.T) {
	msg := voeventMsg("ivo://gwnet/lvc#S190510g-3", map[string]notice.ParamValue{
		"GraceID": pv("S190510g"),
	}, nil)

	n, err := Build(msg)
	assert.ErrorIs(t, err, notice.ErrInvalidNotice)
	require.NotNil(t, n)
	assert.Equal(t, notice.KindGeneric, n.Kind)
}

func TestBuild_Fermi(t *testing.T) {
	msg := voeventMsg("ivo://nasa.gsfc.gcn/Fermi#GBM_Flt_Pos_1", map[string]notice.ParamValue{
		"TrigID": pv("1"),
		"C1":     pv("10.0"),
		"C2":     pv("20.0"),
	}, nil)
	n, err := Build(msg)
	require.NoError(t, err)
	assert.Equal(t, notice.KindFermiGRB, n.Kind)
	require.NotNil(t, n.Position)
	assert.Equal(t, 10.0, n.Position.RA)
}

func TestBuild_IceCubeRoutingBySubstring(t *testing.T) {
	msg := voeventMsg("ivo://nasa.gsfc.gcn/AMON#ICECUBE_Gold_12345", map[string]notice.ParamValue{
		"AMON_ID": pv("12345"),
	}, nil)
	n, err := Build(msg)
	require.NoError(t, err)
	assert.Equal(t, notice.KindIceCubeNu, n.Kind)
	require.NotNil(t, n.IceCube)
	assert.Equal(t, "Gold", n.IceCube.SubType)
}

func TestBuild_IceCubeUnrecognizedSubTypeFallsBackToGeneric(t *testing.T) {
	msg := voeventMsg("ivo://nasa.gsfc.gcn/AMON#ICECUBE_Unknown_1", nil, nil)
	n, err := Build(msg)
	assert.ErrorIs(t, err, notice.ErrInvalidNotice)
	assert.Equal(t, notice.KindGeneric, n.Kind)
}

func TestBuild_UnknownSourceIsGeneric(t *testing.T) {
	msg := voeventMsg("ivo://some.other/authority#X", nil, nil)
	n, err := Build(msg)
	require.NoError(t, err)
	assert.Equal(t, notice.KindGeneric, n.Kind)
}

func TestBuild_UnifiedSchemaJSON(t *testing.T) {
	msg := &deserialize.Message{
		Format: deserialize.FormatJSON,
		Content: map[string]any{
			"$schema":      "https://gcn.nasa.gov/schema/main/gcn/notices/swift/bat/SWIFT.schema.json",
			"trigger_time": "2022-01-01T00:00:00Z",
		},
	}
	n, err := Build(msg)
	require.NoError(t, err)
	assert.Equal(t, "Swift", n.Source)
}

// TestBuild_IGWNSchemaJSON exercises the superevent_id-routed path to LVC,
// where Build falls back to a generic Notice because the IGWN JSON
// payload carries no VOEvent Param block for buildGWDetection to read.
func TestBuild_IGWNSchemaJSON(t *testing.T) {
	msg := &deserialize.Message{
		Format: deserialize.FormatJSON,
		Content: map[string]any{
			"superevent_id": "S190510g",
			"alert_type":    "INITIAL",
			"time_created":  "2022-01-01T00:00:00Z",
		},
	}
	n, err := Build(msg)
	assert.ErrorIs(t, err, notice.ErrInvalidNotice)
	require.NotNil(t, n)
	assert.Equal(t, "LVC", n.Source)
	assert.Equal(t, notice.KindGeneric, n.Kind)
}
