package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	PlaylistListView ViewState = iota
	SyncView
	ResultView
)

const maxBarWidth = 60

// Syncer runs one synchronization. [*tasks.SyncEngine] satisfies it.
type Syncer interface {
	Run(ctx context.Context, req tasks.SyncRequest, sink tasks.EventSink, stop *tasks.StopToken) (*tasks.SyncResult, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx       context.Context
	cancel    context.CancelFunc
	view      ViewState
	engine    Syncer
	browser   services.PlaylistBrowser
	request   tasks.SyncRequest
	stop      *tasks.StopToken
	events    chan tasks.Event
	done      chan syncDone
	width     int
	height    int
	playlists list.Model
	loaded    bool
	bar       progress.Model
	spinner   spinner.Model
	help      help.Model
	keys      keyMap
	title     string
	progress  tasks.Progress
	eta       tasks.ETA
	stopping  bool
	complete  bool
	result    *tasks.SyncResult
	err       error
}

// NewModel creates the TUI model.
//
// When req has no playlist ID and browser is non-nil, the user picks a playlist first.
func NewModel(ctx context.Context, engine Syncer, browser services.PlaylistBrowser, req tasks.SyncRequest) *Model {
	ctx, cancel := context.WithCancel(ctx)

	from, to := progressColors()
	m := &Model{
		ctx:     ctx,
		cancel:  cancel,
		view:    SyncView,
		engine:  engine,
		browser: browser,
		request: req,
		stop:    tasks.NewStopToken(),
		bar:     progress.New(progress.WithGradient(from, to), progress.WithWidth(maxBarWidth)),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.song)),
		help:    help.New(),
		keys:    newKeyMap(),
	}
	if req.PlaylistID == "" && browser != nil {
		m.view = PlaylistListView
	}
	return m
}

// Init fetches playlists for the picker, or starts the sync immediately.
func (m *Model) Init() tea.Cmd {
	if m.view == PlaylistListView {
		return tea.Batch(m.spinner.Tick, m.fetchPlaylists())
	}
	return tea.Batch(m.spinner.Tick, m.startSync())
}

// Result returns the sync summary once the run has ended.
func (m *Model) Result() (*tasks.SyncResult, error) {
	return m.result, m.err
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = min(max(msg.Width-4, 10), maxBarWidth)
		if m.loaded {
			m.playlists.SetSize(msg.Width-4, msg.Height-6)
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.abort) {
			m.cancel()
			return m, tea.Quit
		}
		switch m.view {
		case PlaylistListView:
			return m.handlePlaylistListKeys(msg)
		case SyncView:
			return m.handleSyncKeys(msg)
		case ResultView:
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	if m.view == PlaylistListView && m.loaded {
		var cmd tea.Cmd
		m.playlists, cmd = m.playlists.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgPlaylistsFetched:
		data := msg.data.(playlistsFetched)
		if data.err != nil {
			m.err = data.err
			m.view = ResultView
			return m, nil
		}
		items := make([]list.Item, len(data.playlists))
		for i, pl := range data.playlists {
			items[i] = playlistItem{playlist: pl}
		}
		m.playlists = list.New(items, list.NewDefaultDelegate(), max(m.width-4, 0), max(m.height-6, 0))
		m.playlists.Title = "Spotify Playlists"
		m.loaded = true
		return m, nil

	case MsgSyncEvent:
		m.applyEvent(msg.data.(tasks.Event))
		return m, m.waitForEvent()

	case MsgSyncDone:
		data := msg.data.(syncDone)
		m.result = data.result
		m.err = data.err
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

func (m *Model) applyEvent(e tasks.Event) {
	switch e.Type {
	case tasks.EventSongTitle:
		m.title = e.Title
	case tasks.EventProgress:
		m.progress = e.Progress
	case tasks.EventETA:
		m.eta = e.ETA
	case tasks.EventComplete:
		m.complete = true
	}
}

func (m *Model) handlePlaylistListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if !m.loaded {
		if key.Matches(msg, m.keys.quit) {
			return m, tea.Quit
		}
		return m, nil
	}

	if m.playlists.FilterState() != list.Filtering {
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.enter):
			if pl, ok := m.playlists.SelectedItem().(playlistItem); ok {
				m.request.PlaylistID = pl.playlist.ID
				m.view = SyncView
				return m, m.startSync()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.playlists, cmd = m.playlists.Update(msg)
	return m, cmd
}

func (m *Model) handleSyncKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.stop) && !m.stopping {
		m.stop.Exit()
		m.stopping = true
	}
	return m, nil
}

func (m *Model) fetchPlaylists() tea.Cmd {
	return func() tea.Msg {
		playlists, err := m.browser.GetPlaylists(m.ctx)
		return playlistsFetchedMsg(playlists, err)
	}
}

// startSync runs the engine on a worker goroutine. Events are forwarded to the
// UI through m.events, which is closed when the run returns.
func (m *Model) startSync() tea.Cmd {
	events := make(chan tasks.Event, 16)
	done := make(chan syncDone, 1)
	m.events, m.done = events, done

	ctx, req, stop := m.ctx, m.request, m.stop
	sink := tasks.SinkFunc(func(e tasks.Event) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	})

	go func() {
		result, err := m.engine.Run(ctx, req, sink, stop)
		close(events)
		done <- syncDone{result: result, err: err}
	}()

	return m.waitForEvent()
}

func (m *Model) waitForEvent() tea.Cmd {
	events, done := m.events, m.done
	return func() tea.Msg {
		if e, ok := <-events; ok {
			return syncEventMsg(e)
		}
		d := <-done
		return syncDoneMsg(d.result, d.err)
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case PlaylistListView:
		return m.renderPlaylistList()
	case SyncView:
		return m.renderSync()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) renderPlaylistList() string {
	if !m.loaded {
		return fmt.Sprintf("%s Loading playlists...", m.spinner.View())
	}
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.quit, m.keys.abort})
	return fmt.Sprintf("%s\n\n%s", m.playlists.View(), helpView)
}

func (m *Model) renderSync() string {
	var b strings.Builder

	b.WriteString(styles.title.Render("Syncing " + m.request.PlaylistID))
	b.WriteString("\n")

	switch {
	case m.complete:
		fmt.Fprintf(&b, "%s\n\n", styles.ok.Render("✓ download complete"))
	case m.title == "":
		fmt.Fprintf(&b, "%s Fetching playlist...\n\n", m.spinner.View())
	default:
		fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), styles.song.Render(m.title))
	}

	b.WriteString(m.bar.ViewAs(fraction(m.progress.Completed, m.progress.Total)))
	fmt.Fprintf(&b, "\n\n%d/%d  %s  %s\n",
		m.progress.Completed, m.progress.Total,
		styles.ok.Render(fmt.Sprintf("%d succeeded", m.progress.Success)),
		styles.err.Render(fmt.Sprintf("%d failed", m.progress.Failure)))
	fmt.Fprintf(&b, "elapsed %s  eta %s\n", seconds(m.eta.Elapsed), seconds(m.eta.Remaining))

	if m.stopping {
		b.WriteString("\n" + styles.warn.Render("stopping after current song") + "\n")
	}

	b.WriteString("\n" + m.help.ShortHelpView([]key.Binding{m.keys.stop, m.keys.abort}))
	return b.String()
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.quit})

	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Sync failed: %v", m.err)) + "\n\n" + helpView
	}
	if m.result == nil {
		return styles.err.Render("No result available") + "\n\n" + helpView
	}

	r := m.result
	var b strings.Builder
	switch {
	case r.Cancelled:
		b.WriteString(styles.warn.Render("Sync stopped"))
	case r.Total == 0:
		b.WriteString(styles.ok.Render("✓ Already up to date"))
	default:
		b.WriteString(styles.ok.Render("✓ Sync complete"))
	}

	fmt.Fprintf(&b, "\n\nPlaylist: %s\nFetched: %d  Skipped: %d  Processed: %d\n",
		r.PlaylistID, r.Fetched, r.Skipped, r.Total)
	fmt.Fprintf(&b, "%s  %s  in %s\n",
		styles.ok.Render(fmt.Sprintf("%d succeeded", r.Success)),
		styles.err.Render(fmt.Sprintf("%d failed", r.Failed)),
		r.Elapsed.Round(time.Second))

	if len(r.Failures) > 0 {
		b.WriteString("\n" + styles.warn.Render(fmt.Sprintf("Failed songs (%d):", len(r.Failures))))
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "\n  • %s: %v", f.Name, f.Err)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n" + helpView)
	return b.String()
}

func fraction(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Second)
}
