package blend

import "time"

type lipSync struct {
	active  bool
	frames  []Frame
	cursor  int
	started time.Duration // engine clock at activation
	viseme  string        // last applied rig channel
}

// PlayLipSync replaces the active track and starts playback from its first
// frame. Frames are consumed strictly in order. An empty track stops lip sync.
func (e *Engine) PlayLipSync(frames []Frame) {
	if len(frames) == 0 {
		e.StopLipSync()
		return
	}

	track := make([]Frame, len(frames))
	copy(track, frames)

	e.lip.active = true
	e.lip.frames = track
	e.lip.cursor = 0
	e.lip.started = e.clock

	e.log.Debug().Int("frames", len(track)).Msg("lip sync started")
}

// StopLipSync clears the active track and applies the rest viseme at full
// weight in the next frame.
func (e *Engine) StopLipSync() {
	e.stopLipSync(e.pending)
}

// stopLipSync clears the track and writes the rest viseme into dst.
func (e *Engine) stopLipSync(dst Weights) {
	rest := e.mapper.Map(e.cfg.RestViseme)
	if e.lip.viseme != "" && e.lip.viseme != rest {
		dst[e.lip.viseme] = 0
	}
	dst[rest] = 1

	e.lip.active = false
	e.lip.frames = nil
	e.lip.cursor = 0
	e.lip.viseme = rest
}

// LipSyncActive reports whether a track is playing.
func (e *Engine) LipSyncActive() bool {
	return e.lip.active
}

// advanceLipSync applies every frame whose timestamp has been reached.
// Several frames may land in one tick when frames are dense. The tick that
// consumes the last frame also returns the mouth to rest.
func (e *Engine) advanceLipSync(frame Weights) {
	if !e.lip.active {
		return
	}

	now := e.clock - e.lip.started
	for e.lip.cursor < len(e.lip.frames) && e.lip.frames[e.lip.cursor].Time <= now {
		f := e.lip.frames[e.lip.cursor]
		ch := e.mapper.Map(f.Viseme)
		if e.lip.viseme != "" && e.lip.viseme != ch {
			frame[e.lip.viseme] = 0
		}
		frame[ch] = f.Intensity
		e.lip.viseme = ch
		e.lip.cursor++
	}

	if e.lip.cursor >= len(e.lip.frames) {
		e.stopLipSync(frame)
		e.log.Debug().Msg("lip sync finished")
	}
}
