// internal/tui/view.go
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AlverezYari/finecam/internal/api"
	"github.com/AlverezYari/finecam/internal/capture"
	"github.com/AlverezYari/finecam/internal/messages"
)

// Style definitions
var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("250")).
			Padding(0, 1)

	mainContentStyle = lipgloss.NewStyle().
				Padding(1, 0)

	tabStyle = lipgloss.NewStyle().
			Padding(0, 1)

	activeTabStyle = tabStyle.
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// View renders the UI
func (m Model) View() string {
	timeStr := m.currentTime.Format("Mon Jan 2 15:04:05 2006")

	user := "not logged in"
	if m.deps.Session.Valid() {
		user = fmt.Sprintf("%s (%s)", m.deps.Session.UserName, m.deps.Session.Role)
	}

	// Header with tabs
	headerContent := lipgloss.JoinHorizontal(
		lipgloss.Center,
		"📷 finecam · "+user,
		lipgloss.NewStyle().
			Width(max(m.width-lipgloss.Width(user)-14, 0)).
			Align(lipgloss.Right).
			Render(timeStr),
	)

	header := headerStyle.Width(m.width).Render(headerContent)
	tabs := m.renderTabs()
	mainContent := mainContentStyle.Render(m.renderActiveTabContent())

	statusBar := statusBarStyle.Width(m.width).Render(
		fmt.Sprintf("Status: %s | Tab or 1-%d: Switch Views | q: quit", m.status, len(m.tabs)),
	)

	return fmt.Sprintf("%s\n%s\n%s\n%s", header, tabs, mainContent, statusBar)
}

func (m Model) renderTabs() string {
	var renderedTabs []string

	for _, t := range m.tabs {
		style := tabStyle
		if t.id == m.activeTab {
			style = activeTabStyle
		}
		renderedTabs = append(renderedTabs, style.Render(t.title))
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		renderedTabs...,
	)
}

func (m Model) renderActiveTabContent() string {
	switch m.activeTab {
	case cameraTab:
		return m.renderCamera()
	case finesTab:
		return m.renderFines()
	case usersTab:
		return m.renderUsers()
	case logsTab:
		return fmt.Sprintf("Logs (verbosity %s, v to change)\n\n%s", m.verbosity, m.logViewport.View())
	case serverTab:
		return m.renderServer()
	}
	return ""
}

func (m Model) renderCamera() string {
	var b strings.Builder
	st := m.camera

	fmt.Fprintf(&b, "Camera Status:\n• State: %s\n", st.State)
	if st.Device.ID != "" {
		fmt.Fprintf(&b, "• Device: %s (%s)\n", st.Device.Name, st.Device.ID)
	}
	if !st.CameraAvailable {
		fmt.Fprintf(&b, "%s\n", errorStyle.Render("• "+m.t(messages.CameraUnavailable)+": "+st.LastError))
	}

	b.WriteString("\nControls:\n")
	switch {
	case st.Profile == nil:
		b.WriteString(dimStyle.Render("• waiting for camera") + "\n")
	default:
		if st.Profile.FocusSupported() {
			mode := "auto"
			if st.Controls.ManualFocus {
				mode = "manual"
			}
			fmt.Fprintf(&b, "• Focus: %s %s  (f: toggle, [ ]: -/+)\n", mode, formatPercent(st.Controls.FocusPercent))
		}
		if st.Profile.BrightnessSupported() {
			mode := "auto"
			if st.Controls.ManualBrightness {
				mode = "manual"
			}
			fmt.Fprintf(&b, "• Brightness: %s %.0f [%.0f-%.0f]  (b: toggle, { }: -/+)\n",
				mode, st.Controls.Brightness, st.Profile.Brightness.Min, st.Profile.Brightness.Max)
		}
	}

	if st.State == capture.StateEditing {
		fmt.Fprintf(&b, "\nCrop (%dx%d frame):\n", st.FrameWidth, st.FrameHeight)
		fmt.Fprintf(&b, "• Box: %dx%d at (%d,%d)\n", st.Crop.Width, st.Crop.Height, st.Crop.X, st.Crop.Y)
		b.WriteString(m.renderCropMap(40, 15) + "\n")
		b.WriteString(dimStyle.Render("arrows: move • enter: save • esc: cancel") + "\n")
	} else {
		b.WriteString("\n" + dimStyle.Render("space: capture • r: restart • x: stop") + "\n")
	}

	if m.photo != nil {
		fmt.Fprintf(&b, "\n%s %s (%d bytes)\n", okStyle.Render("✔"), m.photo.CroppedImage.Name, len(m.photo.CroppedImage.Data))
	}

	if len(m.cameraMessages) > 0 {
		b.WriteString("\nEvents:\n")
		for _, msg := range m.cameraMessages {
			line := fmt.Sprintf("%s %s", msg.timestamp.Format("15:04:05"), msg.text)
			if msg.isError {
				line = errorStyle.Render(line)
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

// renderCropMap draws the frame as a w x h grid with the crop box filled.
func (m Model) renderCropMap(w, h int) string {
	st := m.camera
	if st.FrameWidth == 0 || st.FrameHeight == 0 {
		return ""
	}
	var b strings.Builder
	for row := 0; row < h; row++ {
		y := row * st.FrameHeight / h
		for col := 0; col < w; col++ {
			x := col * st.FrameWidth / w
			if x >= st.Crop.X && x < st.Crop.X+st.Crop.Width && y >= st.Crop.Y && y < st.Crop.Y+st.Crop.Height {
				b.WriteString("█")
			} else {
				b.WriteString("·")
			}
		}
		if row < h-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderFines() string {
	var b strings.Builder

	b.WriteString("Create / look up a fine:\n\n")
	fmt.Fprintf(&b, "Ruling decision number: %s\n", m.rulingInput.View())

	if m.photo != nil {
		fmt.Fprintf(&b, "Vehicle image: %s\n", okStyle.Render(m.photo.CroppedImage.Name))
	} else {
		fmt.Fprintf(&b, "Vehicle image: %s\n", dimStyle.Render("capture and save a crop on the Camera tab"))
	}

	for _, e := range m.formErrors {
		b.WriteString(errorStyle.Render("• "+e) + "\n")
	}

	if m.fine != nil {
		b.WriteString("\nFine details:\n")
		fmt.Fprintf(&b, "• Ruling decision number: %s\n", m.fine.RulingDecisionNum)
		fmt.Fprintf(&b, "• Date of offence: %s\n", m.fine.DateOfOffence)
		if m.fine.VehicleImagePath != "" {
			fmt.Fprintf(&b, "• Vehicle image: %s\n", m.fine.ImageURL(m.deps.ImageBaseURL))
		}
	}

	b.WriteString("\n" + dimStyle.Render("i: edit number • s: submit • l: look up (ctrl+l while typing)"))
	return b.String()
}

func (m Model) renderUsers() string {
	var b strings.Builder

	status := "all"
	switch m.usersFilter.Status {
	case api.StatusDisabled:
		status = "disabled"
	case api.StatusEnabled:
		status = "enabled"
	}
	if m.usersPage == nil {
		return "Loading users..."
	}
	fmt.Fprintf(&b, "System users (%s) page %d of %d, %d total\n\n",
		status, m.usersFilter.Page, max(m.usersPage.TotalPages, 1), m.usersPage.TotalCount)
	b.WriteString(m.usersTable.View())
	b.WriteString("\n\n" + dimStyle.Render("n/p: page • a/E/D: all/enabled/disabled • e/d: enable/disable selected"))
	return b.String()
}

func (m Model) renderServer() string {
	var content strings.Builder

	status := "Stopped"
	if m.deps.Server.IsRunning() {
		status = "Running on " + m.deps.Server.Addr()
	}
	fmt.Fprintf(&content, "Web Server Status:\n"+
		"• Status: %s\n"+
		"• Preview: ws://%s/ws/camera\n"+
		"• Press 's' to start/stop server\n\n", status, m.deps.Server.Addr())

	content.WriteString("Recent Logs:\n")
	content.WriteString("------------\n")
	start := max(len(m.logs)-10, 0)
	for _, entry := range m.logs[start:] {
		if entry.Component != "server" {
			continue
		}
		content.WriteString(dimStyle.Render(entry.String()) + "\n")
	}
	return content.String()
}
