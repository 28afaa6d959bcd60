// internal/tui/model.go
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/AlverezYari/finecam/internal/api"
	"github.com/AlverezYari/finecam/internal/capture"
	"github.com/AlverezYari/finecam/internal/logging"
	"github.com/AlverezYari/finecam/internal/messages"
	"github.com/AlverezYari/finecam/internal/server"
	"github.com/AlverezYari/finecam/internal/session"
)

type tabType int

const (
	cameraTab tabType = iota
	finesTab
	usersTab
	logsTab
	serverTab
)

type tab struct {
	title string
	id    tabType
}

// Logging Setup

type Verbosity int

const (
	VerbosityError Verbosity = iota
	VerbosityInfo
	VerbosityDebug
)

func (v Verbosity) String() string {
	switch v {
	case VerbosityError:
		return "error"
	case VerbosityInfo:
		return "info"
	}
	return "debug"
}

func (m *Model) shouldShowLog(level string) bool {
	switch m.verbosity {
	case VerbosityDebug:
		return true
	case VerbosityInfo:
		return level != "debug" && level != "trace"
	case VerbosityError:
		return level == "error" || level == "fatal" || level == "panic"
	default:
		return false
	}
}

const (
	maxLogLines     = 1000
	focusStep       = 5
	brightnessStep  = 5
	cropStep        = 10
	cameraTimeout   = 10 * time.Second
	requestTimeout  = 30 * time.Second
	maxCameraEvents = 10
)

type cameraMessage struct {
	text      string
	timestamp time.Time
	isError   bool
}

// Msg types
type tickMsg time.Time

type logUpdateMsg logging.Entry

type cameraStatusMsg capture.Status

type cameraResultMsg struct {
	text string
	err  error
}

type photoSavedMsg struct {
	photo capture.Photo
	err   error
}

type fineCreatedMsg struct{ err error }

type fineLookupMsg struct {
	fine *api.Fine
	err  error
}

type usersLoadedMsg struct {
	page *api.UserPage
	err  error
}

type userToggledMsg struct {
	enabled bool
	err     error
}

// Pipeline is what the camera tab drives.
type Pipeline interface {
	Start(ctx context.Context)
	Stop()
	Capture(ctx context.Context) (*capture.CapturedFrame, error)
	Save(ctx context.Context) (capture.Photo, error)
	Cancel()
	MoveCrop(dx, dy int) (capture.CropRegion, error)
	SetManualFocus(ctx context.Context, on bool) bool
	AdjustFocus(ctx context.Context, percent float64) bool
	SetManualBrightness(ctx context.Context, on bool) bool
	AdjustBrightness(ctx context.Context, value float64) bool
	Snapshot() capture.Status
}

// Deps are the services the TUI talks to. Server and Client may be nil.
type Deps struct {
	Pipeline Pipeline
	Client   *api.Client
	Session  *session.Session
	Server   *server.Server
	History  *logging.History
	Locale   messages.Locale
	Logger   zerolog.Logger

	// ImageBaseURL resolves stored fine image paths.
	ImageBaseURL string
}

// Model holds our application state
type Model struct {
	deps   Deps
	logger zerolog.Logger

	width       int
	height      int
	status      string
	startTime   time.Time
	currentTime time.Time
	activeTab   tabType
	tabs        []tab

	camera         capture.Status
	cameraMessages []cameraMessage
	photo          *capture.Photo

	rulingInput textinput.Model
	fine        *api.Fine
	formErrors  []string

	usersTable  table.Model
	usersPage   *api.UserPage
	usersFilter api.UserFilter

	logViewport viewport.Model
	logs        []logging.Entry
	logCh       chan logging.Entry
	verbosity   Verbosity
}

// New returns a Model with initial state
func New(deps Deps) Model {
	now := time.Now()

	ruling := textinput.New()
	ruling.Placeholder = "Ruling decision number"
	ruling.CharLimit = 64
	ruling.Width = 32

	users := table.New(
		table.WithColumns([]table.Column{
			{Title: "Name", Width: 24},
			{Title: "Username", Width: 20},
			{Title: "Status", Width: 10},
		}),
		table.WithHeight(10),
		table.WithFocused(true),
	)

	m := Model{
		deps:        deps,
		logger:      deps.Logger.With().Str("component", "tui").Logger(),
		status:      "Starting up...",
		startTime:   now,
		currentTime: now,
		activeTab:   cameraTab,
		rulingInput: ruling,
		usersTable:  users,
		usersFilter: api.UserFilter{Page: 1, PageSize: api.DefaultPageSize},
		logViewport: func() viewport.Model {
			vp := viewport.New(0, 10)
			vp.MouseWheelEnabled = true
			vp.YPosition = 0
			return vp
		}(),
		logs:      make([]logging.Entry, 0),
		logCh:     make(chan logging.Entry, 256),
		verbosity: VerbosityInfo,
	}

	m.tabs = []tab{
		{title: "Camera", id: cameraTab},
		{title: "Fines", id: finesTab},
	}
	if deps.Session.IsAdmin() {
		m.tabs = append(m.tabs, tab{title: "Users", id: usersTab})
	}
	m.tabs = append(m.tabs, tab{title: "Logs", id: logsTab})
	if deps.Server != nil {
		m.tabs = append(m.tabs, tab{title: "Server", id: serverTab})
	}

	if deps.History != nil {
		for _, e := range deps.History.Recent(maxLogLines) {
			m.appendLog(e)
		}
		ch := m.logCh
		deps.History.Subscribe(func(e logging.Entry) {
			select {
			case ch <- e:
			default:
			}
		})
	}
	return m
}

// Init runs any initial IO
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{timeTickCmd(), m.waitForLog(), m.startCameraCmd()}
	if m.deps.Session.IsAdmin() {
		cmds = append(cmds, m.loadUsersCmd())
	}
	return tea.Batch(cmds...)
}

func (m Model) t(id messages.ID) string {
	return messages.Get(m.deps.Locale, id)
}

func (m Model) localize(err error) string {
	return messages.Localize(m.deps.Locale, err)
}

func (m *Model) appendLog(e logging.Entry) {
	m.logs = append(m.logs, e)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.refreshLogViewport()
}

func (m *Model) refreshLogViewport() {
	lines := make([]string, 0, len(m.logs))
	for _, e := range m.logs {
		if m.shouldShowLog(e.Level) {
			lines = append(lines, e.String())
		}
	}
	m.logViewport.SetContent(strings.Join(lines, "\n"))
	m.logViewport.GotoBottom()
}

func (m *Model) addCameraMessage(msg string, isError bool) {
	if isError {
		m.status = "Error: " + msg
	} else {
		m.status = msg
	}

	message := cameraMessage{
		text:      msg,
		timestamp: time.Now(),
		isError:   isError,
	}

	m.cameraMessages = append(m.cameraMessages, message)
	if len(m.cameraMessages) > maxCameraEvents {
		m.cameraMessages = m.cameraMessages[1:]
	}
}

func (m Model) hasTab(id tabType) bool {
	for _, t := range m.tabs {
		if t.id == id {
			return true
		}
	}
	return false
}

func (m Model) tabIndex() int {
	for i, t := range m.tabs {
		if t.id == m.activeTab {
			return i
		}
	}
	return 0
}

// Helper command for time updates
func timeTickCmd() tea.Cmd {
	return tea.Every(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) waitForLog() tea.Cmd {
	if m.deps.History == nil {
		return nil
	}
	ch := m.logCh
	return func() tea.Msg {
		return logUpdateMsg(<-ch)
	}
}

func (m Model) snapshotCmd() tea.Cmd {
	p := m.deps.Pipeline
	return func() tea.Msg {
		return cameraStatusMsg(p.Snapshot())
	}
}

func (m Model) startCameraCmd() tea.Cmd {
	p := m.deps.Pipeline
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cameraTimeout)
		defer cancel()
		p.Start(ctx)
		return cameraStatusMsg(p.Snapshot())
	}
}

// cameraCmd runs fn against the pipeline off the UI goroutine and reports
// the result followed by a fresh snapshot.
func (m Model) cameraCmd(fn func(ctx context.Context, p Pipeline) (string, error)) tea.Cmd {
	p := m.deps.Pipeline
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cameraTimeout)
		defer cancel()
		text, err := fn(ctx, p)
		return cameraResultMsg{text: text, err: err}
	}
}

func (m Model) saveCmd() tea.Cmd {
	p := m.deps.Pipeline
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cameraTimeout)
		defer cancel()
		photo, err := p.Save(ctx)
		return photoSavedMsg{photo: photo, err: err}
	}
}

func (m Model) createFineCmd(form api.FineForm) tea.Cmd {
	c, s := m.deps.Client, m.deps.Session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return fineCreatedMsg{err: c.CreateFine(ctx, s, form)}
	}
}

func (m Model) lookupFineCmd(ruling string) tea.Cmd {
	c, s := m.deps.Client, m.deps.Session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		fine, err := c.GetFine(ctx, s, ruling)
		return fineLookupMsg{fine: fine, err: err}
	}
}

func (m Model) loadUsersCmd() tea.Cmd {
	c, s, f := m.deps.Client, m.deps.Session, m.usersFilter
	if c == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		page, err := c.FindUsers(ctx, s, f)
		return usersLoadedMsg{page: page, err: err}
	}
}

func (m Model) toggleUserCmd(u api.User) tea.Cmd {
	c, s := m.deps.Client, m.deps.Session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if u.Disabled {
			return userToggledMsg{enabled: true, err: c.EnableUser(ctx, s, u.ID)}
		}
		return userToggledMsg{enabled: false, err: c.DisableUser(ctx, s, u.ID)}
	}
}

func userRows(page *api.UserPage) []table.Row {
	rows := make([]table.Row, 0, len(page.Users))
	for _, u := range page.Users {
		state := "enabled"
		if u.Disabled {
			state = "disabled"
		}
		rows = append(rows, table.Row{u.Name, u.UserName, state})
	}
	return rows
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.0f%%", v)
}
