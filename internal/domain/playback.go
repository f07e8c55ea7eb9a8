package domain

import "time"

// MergePlayback resolves consumption state between the local cache and a remote
// report. Local wins unless the remote LastWatched is strictly newer than the
// local one by more than skew. A remote report without a timestamp never wins.
func MergePlayback(local, remote PlaybackState, skew time.Duration) (PlaybackState, bool) {
	if remote.LastWatched.IsZero() {
		return local, false
	}
	if !remote.LastWatched.After(local.LastWatched.Add(skew)) {
		return local, false
	}
	if remote.Position == local.Position && remote.Watched == local.Watched &&
		remote.LastWatched.Equal(local.LastWatched) {
		return local, false
	}
	return remote, true
}
