// internal/tui/update.go
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AlverezYari/finecam/internal/api"
	"github.com/AlverezYari/finecam/internal/capture"
	"github.com/AlverezYari/finecam/internal/logging"
	"github.com/AlverezYari/finecam/internal/messages"
	"github.com/AlverezYari/finecam/internal/session"
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logViewport.Width = msg.Width
		m.logViewport.Height = max(msg.Height-8, 5)

	case tickMsg:
		m.currentTime = time.Time(msg)
		return m, tea.Batch(timeTickCmd(), m.snapshotCmd())

	case logUpdateMsg:
		m.appendLog(logging.Entry(msg))
		return m, m.waitForLog()

	case cameraStatusMsg:
		m.camera = capture.Status(msg)
		if !m.camera.CameraAvailable && m.camera.LastError != "" {
			m.status = "Error: " + m.t(messages.CameraUnavailable)
		}

	case cameraResultMsg:
		switch {
		case msg.err != nil:
			m.addCameraMessage(m.localize(msg.err), true)
		case msg.text != "":
			m.addCameraMessage(msg.text, false)
		}
		return m, m.snapshotCmd()

	case photoSavedMsg:
		if msg.err != nil {
			m.addCameraMessage(messages.SaveFailed(m.deps.Locale, msg.err), true)
			return m, m.snapshotCmd()
		}
		photo := msg.photo
		m.photo = &photo
		m.formErrors = nil
		m.addCameraMessage(m.t(messages.SaveSuccess), false)
		return m, m.snapshotCmd()

	case fineCreatedMsg:
		if msg.err != nil {
			m.formErrors = formErrorLines(m.deps.Locale, msg.err)
			m.status = "Error: " + strings.Join(m.formErrors, "; ")
			return m, nil
		}
		m.formErrors = nil
		m.photo = nil
		m.rulingInput.Reset()
		m.status = m.t(messages.FineCreated)

	case fineLookupMsg:
		if msg.err != nil {
			m.fine = nil
			m.status = "Error: " + m.localize(msg.err)
			return m, nil
		}
		m.fine = msg.fine
		m.status = fmt.Sprintf("Fine %s loaded", msg.fine.RulingDecisionNum)

	case usersLoadedMsg:
		if msg.err != nil {
			m.status = "Error: " + m.localize(msg.err)
			return m, nil
		}
		m.usersPage = msg.page
		m.usersTable.SetRows(userRows(msg.page))
		if m.usersTable.Cursor() >= len(msg.page.Users) {
			m.usersTable.SetCursor(max(len(msg.page.Users)-1, 0))
		}

	case userToggledMsg:
		if msg.err != nil {
			m.status = "Error: " + m.localize(msg.err)
			return m, nil
		}
		if msg.enabled {
			m.status = m.t(messages.UserEnabled)
		} else {
			m.status = m.t(messages.UserDisabled)
		}
		return m, m.loadUsersCmd()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// While typing a ruling number every key goes to the input.
	if m.activeTab == finesTab && m.rulingInput.Focused() {
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			m.rulingInput.Blur()
			return m, nil
		case "enter":
			m.rulingInput.Blur()
			return m.submitFine()
		case "ctrl+l":
			m.rulingInput.Blur()
			return m.lookupFine()
		}
		var cmd tea.Cmd
		m.rulingInput, cmd = m.rulingInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "tab":
		// Cycle through tabs
		m.activeTab = m.tabs[(m.tabIndex()+1)%len(m.tabs)].id
		return m, nil
	case "1", "2", "3", "4", "5":
		i := int(msg.String()[0] - '1')
		if i < len(m.tabs) {
			m.activeTab = m.tabs[i].id
		}
		return m, nil
	}

	switch m.activeTab {
	case cameraTab:
		return m.handleCameraKey(msg)
	case finesTab:
		return m.handleFinesKey(msg)
	case usersTab:
		return m.handleUsersKey(msg)
	case logsTab:
		return m.handleLogsKey(msg)
	case serverTab:
		return m.handleServerKey(msg)
	}
	return m, nil
}

func (m Model) handleCameraKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	editing := m.camera.State == capture.StateEditing
	controls := m.camera.Controls

	switch msg.String() {
	case "r":
		m.addCameraMessage("Restarting camera...", false)
		return m, m.startCameraCmd()
	case "x":
		return m, m.cameraCmd(func(ctx context.Context, p Pipeline) (string, error) {
			p.Stop()
			return "Camera stopped", nil
		})
	case " ", "space":
		return m, m.cameraCmd(func(ctx context.Context, p Pipeline) (string, error) {
			frame, err := p.Capture(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Captured %dx%d frame", frame.Width(), frame.Height()), nil
		})
	case "enter":
		if editing {
			return m, m.saveCmd()
		}
	case "esc":
		if editing {
			return m, m.cameraCmd(func(ctx context.Context, p Pipeline) (string, error) {
				p.Cancel()
				return "Crop cancelled", nil
			})
		}
	case "up", "down", "left", "right":
		if !editing {
			return m, nil
		}
		dx, dy := 0, 0
		switch msg.String() {
		case "up":
			dy = -cropStep
		case "down":
			dy = cropStep
		case "left":
			dx = -cropStep
		case "right":
			dx = cropStep
		}
		return m, m.cameraCmd(func(ctx context.Context, p Pipeline) (string, error) {
			_, err := p.MoveCrop(dx, dy)
			return "", err
		})
	case "f":
		on := !controls.ManualFocus
		return m, m.adjustCmd("manual focus", func(ctx context.Context, p Pipeline) bool {
			return p.SetManualFocus(ctx, on)
		})
	case "[", "]":
		percent := controls.FocusPercent - focusStep
		if msg.String() == "]" {
			percent = controls.FocusPercent + focusStep
		}
		percent = clamp(percent, capture.PercentMin, capture.PercentMax)
		return m, m.adjustCmd("focus", func(ctx context.Context, p Pipeline) bool {
			return p.AdjustFocus(ctx, percent)
		})
	case "b":
		on := !controls.ManualBrightness
		return m, m.adjustCmd("manual brightness", func(ctx context.Context, p Pipeline) bool {
			return p.SetManualBrightness(ctx, on)
		})
	case "{", "}":
		if !m.camera.Profile.BrightnessSupported() {
			return m, nil
		}
		r := m.camera.Profile.Brightness
		value := controls.Brightness - brightnessStep
		if msg.String() == "}" {
			value = controls.Brightness + brightnessStep
		}
		value = clamp(value, r.Min, r.Max)
		return m, m.adjustCmd("brightness", func(ctx context.Context, p Pipeline) bool {
			return p.AdjustBrightness(ctx, value)
		})
	}
	return m, nil
}

// adjustCmd reports ignored adjustments quietly; they are expected while the
// stream restarts or when a control is unsupported.
func (m Model) adjustCmd(name string, fn func(ctx context.Context, p Pipeline) bool) tea.Cmd {
	return m.cameraCmd(func(ctx context.Context, p Pipeline) (string, error) {
		if fn(ctx, p) {
			return "", nil
		}
		return fmt.Sprintf("%s unchanged", name), nil
	})
}

func (m Model) handleFinesKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "i", "/":
		m.rulingInput.Focus()
		return m, textinput.Blink
	case "s":
		return m.submitFine()
	case "l":
		return m.lookupFine()
	}
	return m, nil
}

func (m Model) submitFine() (tea.Model, tea.Cmd) {
	if !m.deps.Session.Allows(session.RoleUser) {
		m.status = "Error: " + m.localize(api.ErrForbidden)
		return m, nil
	}
	form := api.FineForm{RulingDecisionNum: m.rulingInput.Value()}
	if m.photo != nil {
		form.VehicleImage = m.photo.CroppedImage
	}
	if err := form.Validate(); err != nil {
		m.formErrors = formErrorLines(m.deps.Locale, err)
		m.status = "Error: " + strings.Join(m.formErrors, "; ")
		return m, nil
	}
	if m.deps.Client == nil {
		m.status = "Error: " + m.t(messages.NotLoggedIn)
		return m, nil
	}
	m.formErrors = nil
	m.status = "Submitting fine..."
	return m, m.createFineCmd(form)
}

func (m Model) lookupFine() (tea.Model, tea.Cmd) {
	ruling := strings.TrimSpace(m.rulingInput.Value())
	if ruling == "" {
		m.status = "Error: " + m.localize(api.ErrRulingRequired)
		return m, nil
	}
	if m.deps.Client == nil {
		m.status = "Error: " + m.t(messages.NotLoggedIn)
		return m, nil
	}
	m.status = "Searching..."
	return m, m.lookupFineCmd(ruling)
}

func (m Model) handleUsersKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "n":
		if m.usersPage != nil && m.usersFilter.Page < m.usersPage.TotalPages {
			m.usersFilter.Page++
			return m, m.loadUsersCmd()
		}
		return m, nil
	case "p":
		if m.usersFilter.Page > 1 {
			m.usersFilter.Page--
			return m, m.loadUsersCmd()
		}
		return m, nil
	case "a":
		m.usersFilter.Status = api.StatusAll
		m.usersFilter.Page = 1
		return m, m.loadUsersCmd()
	case "D":
		m.usersFilter.Status = api.StatusDisabled
		m.usersFilter.Page = 1
		return m, m.loadUsersCmd()
	case "E":
		m.usersFilter.Status = api.StatusEnabled
		m.usersFilter.Page = 1
		return m, m.loadUsersCmd()
	case "e", "d":
		u, ok := m.selectedUser()
		if !ok {
			return m, nil
		}
		wantEnabled := msg.String() == "e"
		if wantEnabled != u.Disabled {
			// already in the requested state
			return m, nil
		}
		return m, m.toggleUserCmd(u)
	}

	var cmd tea.Cmd
	m.usersTable, cmd = m.usersTable.Update(msg)
	return m, cmd
}

func (m Model) selectedUser() (api.User, bool) {
	if m.usersPage == nil {
		return api.User{}, false
	}
	i := m.usersTable.Cursor()
	if i < 0 || i >= len(m.usersPage.Users) {
		return api.User{}, false
	}
	return m.usersPage.Users[i], true
}

func (m Model) handleLogsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "v":
		m.verbosity = (m.verbosity + 1) % 3
		m.refreshLogViewport()
		m.status = "Log verbosity: " + m.verbosity.String()
		return m, nil
	}
	var cmd tea.Cmd
	m.logViewport, cmd = m.logViewport.Update(msg)
	return m, cmd
}

func (m Model) handleServerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() != "s" || m.deps.Server == nil {
		return m, nil
	}
	if m.deps.Server.IsRunning() {
		if err := m.deps.Server.Stop(); err != nil {
			m.status = fmt.Sprintf("Error stopping server: %v", err)
		} else {
			m.status = "Server stopped"
		}
		return m, nil
	}
	if err := m.deps.Server.Start(); err != nil {
		m.status = fmt.Sprintf("Error starting server: %v", err)
	} else {
		m.status = fmt.Sprintf("Server started on %s", m.deps.Server.Addr())
	}
	return m, nil
}

// formErrorLines splits joined validation errors into one message each.
func formErrorLines(locale messages.Locale, err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var lines []string
		for _, e := range joined.Unwrap() {
			lines = append(lines, messages.Localize(locale, e))
		}
		return lines
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && len(apiErr.Messages) > 0 {
		return apiErr.Messages
	}
	return []string{messages.Localize(locale, err)}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
