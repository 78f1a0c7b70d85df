package mirrorserver

import (
	"github.com/lanternops/devicemirror/internal/capture"
	"github.com/lanternops/devicemirror/internal/fanout"
)

// NewHubPipeline builds a capture.Pipeline whose output callbacks feed
// directly into hub: encoded video-data broadcasts to every active client,
// codec-config units are cached for the join protocol, and skip/drop counts
// roll into the hub's Stats (§4.4, §4.5, §4.11).
func NewHubPipeline(enc capture.Encoder, hub *fanout.Hub) *capture.Pipeline {
	return capture.NewPipeline(
		enc,
		func(unit capture.EncodedUnit) {
			hub.BroadcastVideoData(fanout.EncodedUnitView{Bytes: unit.Bytes, PTS: unit.PTS, DTS: unit.DTS, IsKeyframe: unit.IsKeyframe})
		},
		func(configBytes []byte) {
			// The pipeline already caches configBytes internally; the hub
			// consults it lazily via cachedConfig() at join time, so this
			// callback does nothing.
		},
		func() {
			hub.Stats.SkippedFrames.Add(1)
			hub.Mx.RecordSkip()
		},
		func() {
			hub.Stats.DroppedFrames.Add(1)
			hub.Mx.RecordDrop()
		},
	)
}
