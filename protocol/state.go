package protocol

import "github.com/Smail9/watchparty/domain"

// apply mutates st according to one client action, stamping UpdatedAt with
// now (unix millis). Unknown action types leave st untouched.
//
// Note the asymmetric time fallback: seek defaults a missing time to 0,
// while play/pause leave the position unchanged when time is absent.
func apply(st *domain.PlaybackState, msg domain.Message, now int64) {
	switch msg.Type {
	case "setSource":
		// Full reset: whatever was playing is discarded with the old source.
		if msg.Src != nil && *msg.Src != "" {
			src := *msg.Src
			st.Src = &src
		} else {
			st.Src = nil
		}
		st.Time = 0
		st.Playing = false
		st.UpdatedAt = now
	case "seek":
		st.Time = 0
		if msg.Time != nil {
			st.Time = *msg.Time
		}
		st.UpdatedAt = now
	case "play":
		st.Playing = true
		if msg.Time != nil {
			st.Time = *msg.Time
		}
		st.UpdatedAt = now
	case "pause":
		st.Playing = false
		if msg.Time != nil {
			st.Time = *msg.Time
		}
		st.UpdatedAt = now
	}
}
