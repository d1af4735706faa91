package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgPlaylistsFetched MsgKind = iota
	MsgSyncEvent
	MsgSyncDone
)

type playlistsFetched struct {
	playlists []services.Playlist
	err       error
}

type syncDone struct {
	result *tasks.SyncResult
	err    error
}

// playlistsFetchedMsg is the constructor for [MsgPlaylistsFetched]
func playlistsFetchedMsg(playlists []services.Playlist, err error) Msg {
	return Msg{kind: MsgPlaylistsFetched, data: playlistsFetched{playlists, err}}
}

// syncEventMsg is the constructor for [MsgSyncEvent]
func syncEventMsg(e tasks.Event) Msg {
	return Msg{kind: MsgSyncEvent, data: e}
}

// syncDoneMsg is the constructor for [MsgSyncDone]
func syncDoneMsg(result *tasks.SyncResult, err error) Msg {
	return Msg{kind: MsgSyncDone, data: syncDone{result, err}}
}
