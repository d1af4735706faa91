// Package ui implements the interactive sync view using bubbletea's Elm architecture.
//
// The TUI has three views:
//  1. [PlaylistListView] : pick one of the user's Spotify playlists (skipped when a playlist is given)
//  2. [SyncView] : current song, progress bar, success and failure counts, elapsed time and ETA
//  3. [ResultView] : final counts and the songs that failed
//
// The engine runs on a worker goroutine and reports through a [tasks.SinkFunc] feeding a channel;
// the model reads one event per command so the UI never blocks the pipeline longer than a render.
// Pressing q sends EXIT on the run's [tasks.StopToken], which ends the run after the current song.
// ctrl+c cancels the run's context and quits immediately.
package ui
