package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/skymap"
)

// Composer builds the sentinel's two report types: a pre-handler notice
// report and a post-handler observing report.
type Composer struct {
	// DefaultChannel, EventChannels and WakeupChannel mirror the
	// slack_default_channel / slack_event_channels / slack_wakeup_channel
	// configuration options.
	DefaultChannel string
	EventChannels  map[notice.EventType]string
	WakeupChannel  string
}

// ChannelFor resolves the channel a notice's report should go to.
func (c *Composer) ChannelFor(n *notice.Notice) string {
	if ch, ok := c.EventChannels[n.EventType]; ok && ch != "" {
		return ch
	}
	return c.DefaultChannel
}

// NoticeReport composes the pre-handler message: provenance, event
// parameters, and a human-readable rendering of the chosen strategy.
func (c *Composer) NoticeReport(n *notice.Notice, sm skymap.SkyMap, strategyKey string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s\n", n.EventName())
	fmt.Fprintf(&b, "IVORN: %s\n", n.IVORN)
	fmt.Fprintf(&b, "Source: %s, role: %s\n", n.Source, n.Role)
	if !n.EventTime.IsZero() {
		fmt.Fprintf(&b, "Detection time: %s\n", n.EventTime.UTC().Format("2006-01-02 15:04:05"))
	}

	if n.GW != nil && n.Kind == notice.KindGWDetection {
		writeGWDetails(&b, n)
	}
	if n.IceCube != nil {
		fmt.Fprintf(&b, "IceCube sub-type: %s, signalness: %.2f\n", n.IceCube.SubType, n.IceCube.Signalness)
	}

	attachments := []Attachment{}
	if sm != nil {
		area := sm.ContourArea(0.9)
		fmt.Fprintf(&b, "90%% probability area: %.0f sq deg\n", area)
		if mean, ok := sm.Header("distmean"); ok {
			std, _ := sm.Header("diststd")
			fmt.Fprintf(&b, "Distance: %.0f +/- %.0f Mpc\n", mean, std)
		}
		attachments = append(attachments, Attachment{
			Title: "Skymap", ImagePlaceholder: fmt.Sprintf("skymap-plot:%s", n.IVORN),
		})
	} else {
		b.WriteString("*NO SKYMAP FOUND*\n")
	}

	fmt.Fprintf(&b, "Strategy: `%s`\n", strategyKey)

	return Message{Channel: c.ChannelFor(n), Text: b.String(), Attachments: attachments}
}

func writeGWDetails(b *strings.Builder, n *notice.Notice) {
	ext := n.GW
	farYears := ext.FAR * 365 * 86400
	if farYears > 1 {
		fmt.Fprintf(b, "FAR: ~%.0f per year", farYears)
	} else if farYears > 0 {
		fmt.Fprintf(b, "FAR: ~1 per %.1f years", 1/farYears)
	}
	if ext.Significant != nil {
		fmt.Fprintf(b, " (significant=%v)\n", *ext.Significant)
	} else {
		b.WriteString("\n")
	}
	fmt.Fprintf(b, "Group: %s\n", ext.Group)
	if ext.Classification != nil {
		keys := make([]string, 0, len(ext.Classification))
		for k := range ext.Classification {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return ext.Classification[keys[i]] > ext.Classification[keys[j]] })
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if ext.Classification[k] > 0.0005 {
				parts = append(parts, fmt.Sprintf("%s:%.1f%%", k, ext.Classification[k]*100))
			}
		}
		fmt.Fprintf(b, "Classification: %s\n", strings.Join(parts, ", "))
	}
	if ext.External != nil {
		b.WriteString("*External event coincidence detected!*\n")
		fmt.Fprintf(b, "Source: %s\n", ext.External.Observatory)
	}
}

// TileVisibility is one target's computed visibility summary for the
// observing report.
type TileVisibility struct {
	TargetName       string
	TotalProbability float64
	VisibleFraction  float64 // fraction of [start,stop] the tile clears alt/night constraints
}

// ObservingReport composes the post-handler message summarizing a
// Survey's per-tile visibility.
func (c *Composer) ObservingReport(n *notice.Notice, surveyName string, tiles []TileVisibility) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Survey: %s\n", surveyName)
	fmt.Fprintf(&b, "Targets: %d\n", len(tiles))

	var totalProb float64
	for _, t := range tiles {
		totalProb += t.TotalProbability
	}
	fmt.Fprintf(&b, "Total probability covered: %.1f%%\n", totalProb*100)

	sort.Slice(tiles, func(i, j int) bool { return tiles[i].TotalProbability > tiles[j].TotalProbability })
	for i, t := range tiles {
		if i >= 10 {
			fmt.Fprintf(&b, "... and %d more\n", len(tiles)-10)
			break
		}
		fmt.Fprintf(&b, "%s: prob=%.1f%%, visible=%.0f%%\n", t.TargetName, t.TotalProbability*100, t.VisibleFraction*100)
	}

	return Message{Channel: c.ChannelFor(n), Text: b.String()}
}

// WakeupSummary composes the short forwarded summary for strategies
// flagged wakeup_alert.
func (c *Composer) WakeupSummary(n *notice.Notice, strategyKey string) Message {
	text := fmt.Sprintf("Wakeup alert: %s (strategy `%s`)", n.EventName(), strategyKey)
	return Message{Channel: c.WakeupChannel, Text: text}
}
