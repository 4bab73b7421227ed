// Package tui provides the terminal user interface.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/lukaszraczylo/hostsmanager/internal/hosts"
	"github.com/lukaszraczylo/hostsmanager/internal/ipc"
	"github.com/lukaszraczylo/hostsmanager/internal/protocol"
	"github.com/lukaszraczylo/hostsmanager/internal/version"
)

const opTimeout = 10 * time.Second

// Editor is the file service the UI edits through.
type Editor interface {
	Load(ctx context.Context) error
	Snapshot() *hosts.File
	AddEntry(ctx context.Context, e hosts.Entry) error
	UpdateEntry(ctx context.Context, e hosts.Entry) error
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	ToggleEntry(ctx context.Context, id uuid.UUID) error
	CreateBackup(ctx context.Context) error
	RetryConnection(ctx context.Context) bool
}

// Helper is the connection to the privileged helper.
type Helper interface {
	Subscribe() (<-chan ipc.State, func())
	Version(ctx context.Context) string
	Status(ctx context.Context) (*protocol.StatusData, error)
	Backups(ctx context.Context) ([]protocol.BackupInfo, error)
	RestoreNamed(ctx context.Context, name string) error
}

// ViewMode represents the current view mode.
type ViewMode int

const (
	ViewList ViewMode = iota
	ViewForm
	ViewBackups
	ViewHelp
	ViewSearch
	ViewConfirmDelete
)

// Model is the main Bubble Tea model.
type Model struct {
	helper Helper
	svc    Editor

	states      <-chan ipc.State
	unsubscribe func()
	state       ipc.State

	mode         ViewMode
	list         *ListView
	form         *Form
	backupPicker *BackupPicker
	searchInput  textinput.Model

	width         int
	height        int
	message       string
	messageStyle  string // "error" or "success"
	messageTime   time.Time
	searchTerm    string
	pendingDelete *hosts.Entry

	version string
	skew    version.Skew
}

// Message types
type (
	stateMsg struct {
		state ipc.State
		ok    bool
	}
	loadMsg       struct{ err error }
	helperInfoMsg struct {
		version   string
		hostsPath string
	}
	opMsg struct {
		id     uuid.UUID
		action string
		err    error
	}
	refreshBackupsMsg struct {
		backups []protocol.BackupInfo
		err     error
	}
	restoreMsg struct {
		name string
		err  error
	}
	retryMsg    struct{ ok bool }
	clearMsgMsg struct{}
)

// NewModel creates a new TUI model. clientVersion is compared against the
// helper's version on every connect.
func NewModel(svc Editor, helper Helper, clientVersion string) *Model {
	searchInput := textinput.New()
	searchInput.Placeholder = "Search..."
	searchInput.CharLimit = 100
	searchInput.Width = 50

	states, unsubscribe := helper.Subscribe()

	return &Model{
		svc:          svc,
		helper:       helper,
		states:       states,
		unsubscribe:  unsubscribe,
		state:        ipc.Disconnected,
		list:         NewListView(),
		form:         NewForm(),
		backupPicker: NewBackupPicker(),
		searchInput:  searchInput,
		mode:         ViewList,
		version:      clientVersion,
	}
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		tea.SetWindowTitle("hostsmanager"),
		m.waitForState(),
	)
}

// Close stops listening for connection state changes.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func (m *Model) waitForState() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-m.states
		return stateMsg{state: s, ok: ok}
	}
}

func (m *Model) load() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return loadMsg{err: m.svc.Load(ctx)}
	}
}

func (m *Model) fetchHelperInfo() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		info := helperInfoMsg{version: m.helper.Version(ctx)}
		if status, err := m.helper.Status(ctx); err == nil {
			info.hostsPath = status.HostsPath
		}
		return info
	}
}

// op runs fn against the service and reports the outcome for id.
func (m *Model) op(id uuid.UUID, action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return opMsg{id: id, action: action, err: fn(ctx)}
	}
}

func (m *Model) refreshBackups() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		backups, err := m.helper.Backups(ctx)
		return refreshBackupsMsg{backups: backups, err: err}
	}
}

func (m *Model) restore(name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := m.helper.RestoreNamed(ctx, name); err != nil {
			return restoreMsg{name: name, err: err}
		}
		return restoreMsg{name: name, err: m.svc.Load(ctx)}
	}
}

func (m *Model) retry() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return retryMsg{ok: m.svc.RetryConnection(ctx)}
	}
}

func (m *Model) clearMsg() tea.Cmd {
	return tea.Tick(time.Second*3, func(t time.Time) tea.Msg {
		return clearMsgMsg{}
	})
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-10)
		m.form.SetSize(msg.Width, msg.Height)
		m.backupPicker.SetSize(msg.Width, msg.Height)
		m.searchInput.Width = min(msg.Width-20, 60)

	case tea.KeyMsg:
		if cmd := m.handleKey(msg); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case stateMsg:
		if !msg.ok {
			m.state = ipc.Disconnected
			break
		}
		prev := m.state
		m.state = msg.state
		if msg.state == ipc.Connected && prev != ipc.Connected {
			cmds = append(cmds, m.load(), m.fetchHelperInfo())
		}
		cmds = append(cmds, m.waitForState())

	case loadMsg:
		if msg.err != nil {
			m.setError(fmt.Sprintf("Load failed: %v", msg.err))
			cmds = append(cmds, m.clearMsg())
		}
		m.list.SetItems(m.svc.Snapshot())

	case helperInfoMsg:
		m.skew = version.Compare(m.version, msg.version)
		m.backupPicker.SetHostsPath(msg.hostsPath)

	case opMsg:
		m.list.SetItems(m.svc.Snapshot())
		m.list.SetPending(msg.id, false)
		if msg.err != nil {
			m.list.SetError(msg.id, true)
			m.setError(fmt.Sprintf("%s failed: %v", msg.action, msg.err))
		} else {
			m.list.SetError(msg.id, false)
			m.setSuccess(msg.action + " done")
		}
		cmds = append(cmds, m.clearMsg())

	case refreshBackupsMsg:
		if msg.err != nil {
			m.setError(fmt.Sprintf("Listing backups failed: %v", msg.err))
			cmds = append(cmds, m.clearMsg())
		} else {
			m.backupPicker.SetBackups(msg.backups)
		}

	case restoreMsg:
		if msg.err != nil {
			m.setError(fmt.Sprintf("Restore failed: %v", msg.err))
		} else {
			m.setSuccess("Restored from backup")
		}
		m.list.SetItems(m.svc.Snapshot())
		m.backupPicker.Cancel()
		m.mode = ViewList
		cmds = append(cmds, m.clearMsg())

	case retryMsg:
		if msg.ok {
			m.list.SetItems(m.svc.Snapshot())
			m.setSuccess("Helper reachable")
		} else {
			m.setError("Helper still unreachable")
		}
		cmds = append(cmds, m.clearMsg())

	case clearMsgMsg:
		if time.Since(m.messageTime) >= time.Second*3 {
			m.message = ""
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+c" {
		return tea.Quit
	}

	switch m.mode {
	case ViewList:
		return m.handleListKey(msg)
	case ViewForm:
		return m.handleFormKey(msg)
	case ViewBackups:
		return m.handleBackupKey(msg)
	case ViewHelp:
		if s := msg.String(); s == "?" || s == "esc" || s == "q" {
			m.mode = ViewList
		}
	case ViewSearch:
		return m.handleSearchKey(msg)
	case ViewConfirmDelete:
		return m.handleConfirmDeleteKey(msg)
	}
	return nil
}

func (m *Model) handleListKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q":
		return tea.Quit
	case "esc":
		if m.searchTerm != "" {
			m.searchTerm = ""
			m.searchInput.Reset()
		}
	case "up", "k":
		m.list.MoveUp()
	case "down", "j":
		m.list.MoveDown()
	case " ", "enter":
		return m.toggleSelected()
	case "n":
		m.mode = ViewForm
		m.form.Init()
	case "e":
		if item := m.list.Selected(); item != nil {
			m.mode = ViewForm
			m.form.InitEdit(item.Entry)
		}
	case "d":
		if item := m.list.Selected(); item != nil {
			entry := item.Entry
			m.pendingDelete = &entry
			m.mode = ViewConfirmDelete
		}
	case "b":
		m.mode = ViewBackups
		return m.refreshBackups()
	case "B":
		return m.op(uuid.Nil, "Backup", m.svc.CreateBackup)
	case "/":
		m.mode = ViewSearch
		m.searchInput.Focus()
	case "?":
		m.mode = ViewHelp
	case "r":
		return m.load()
	case "R":
		return m.retry()
	}
	return nil
}

func (m *Model) handleFormKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		m.mode = ViewList
		return nil
	case "enter":
		if !m.form.Validate(m.svc.Snapshot()) {
			return nil
		}
		entry := m.form.Entry()
		m.mode = ViewList
		if m.form.IsEdit() {
			m.list.SetPending(entry.ID, true)
			return m.op(entry.ID, "Update", func(ctx context.Context) error {
				return m.svc.UpdateEntry(ctx, entry)
			})
		}
		return m.op(entry.ID, "Add", func(ctx context.Context) error {
			return m.svc.AddEntry(ctx, entry)
		})
	}
	return m.form.Update(msg)
}

func (m *Model) handleBackupKey(msg tea.KeyMsg) tea.Cmd {
	if m.backupPicker.Mode() == BackupModeConfirmRestore {
		switch msg.String() {
		case "y", "Y":
			if name := m.backupPicker.Selected(); name != "" {
				return m.restore(name)
			}
			m.backupPicker.Cancel()
		case "n", "N", "esc":
			m.backupPicker.Cancel()
		}
		return nil
	}

	switch msg.String() {
	case "esc", "q":
		m.mode = ViewList
	case "up", "k":
		m.backupPicker.MoveUp()
	case "down", "j":
		m.backupPicker.MoveDown()
	case "enter":
		m.backupPicker.InitRestore()
	}
	return nil
}

func (m *Model) handleSearchKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		m.searchInput.Blur()
		m.searchInput.Reset()
		m.searchTerm = ""
		m.mode = ViewList
		return nil
	case "enter":
		m.searchTerm = strings.TrimSpace(m.searchInput.Value())
		m.searchInput.Blur()
		m.mode = ViewList
		return nil
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return cmd
}

func (m *Model) handleConfirmDeleteKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "y", "Y":
		entry := m.pendingDelete
		m.pendingDelete = nil
		m.mode = ViewList
		if entry == nil {
			return nil
		}
		m.list.SetPending(entry.ID, true)
		return m.op(entry.ID, "Delete", func(ctx context.Context) error {
			return m.svc.DeleteEntry(ctx, entry.ID)
		})
	case "n", "N", "esc":
		m.pendingDelete = nil
		m.mode = ViewList
	}
	return nil
}

func (m *Model) toggleSelected() tea.Cmd {
	item := m.list.Selected()
	if item == nil || item.Pending {
		return nil
	}
	id := item.Entry.ID
	m.list.SetPending(id, true)
	return m.op(id, "Toggle", func(ctx context.Context) error {
		return m.svc.ToggleEntry(ctx, id)
	})
}

func (m *Model) setError(msg string) {
	m.message = msg
	m.messageStyle = "error"
	m.messageTime = time.Now()
}

func (m *Model) setSuccess(msg string) {
	m.message = msg
	m.messageStyle = "success"
	m.messageTime = time.Now()
}

// View renders the current screen.
func (m *Model) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("hostsmanager"))
	if note := m.skew.Message(); note != "" {
		sb.WriteString("  ")
		sb.WriteString(skewStyle.Render(note))
	}
	sb.WriteString("\n\n")

	switch m.mode {
	case ViewList:
		sb.WriteString(m.list.ViewFiltered(m.searchTerm))
	case ViewForm:
		sb.WriteString(m.form.View())
	case ViewBackups:
		sb.WriteString(m.backupPicker.View())
	case ViewHelp:
		sb.WriteString(m.helpView())
	case ViewSearch:
		sb.WriteString(m.searchView())
	case ViewConfirmDelete:
		sb.WriteString(m.confirmDeleteView())
	}

	if m.message != "" {
		sb.WriteString("\n")
		if m.messageStyle == "error" {
			sb.WriteString(errorMsgStyle.Render(m.message))
		} else {
			sb.WriteString(successMsgStyle.Render(m.message))
		}
	}

	// Pin the footer to the bottom of the screen.
	currentLines := strings.Count(sb.String(), "\n") + 1
	footerHeight := 2
	var helpBarContent string
	if m.mode == ViewList {
		helpBarContent = m.helpBar()
		footerHeight += strings.Count(helpBarContent, "\n") + 2
	}
	if remaining := m.height - currentLines - footerHeight; remaining > 0 {
		sb.WriteString(strings.Repeat("\n", remaining))
	}

	if m.mode == ViewList {
		sb.WriteString("\n")
		sb.WriteString(helpBarContent)
	}
	sb.WriteString("\n")
	sb.WriteString(m.statusBar())

	return sb.String()
}

func (m *Model) helpBar() string {
	text := "↑↓ navigate • space toggle • n new • e edit • d delete • b backups • B backup now • / search • r reload • R retry • ? help • q quit"
	return WrapHelpText(text, m.width)
}

func (m *Model) statusBar() string {
	active := fmt.Sprintf("%d active", m.list.ActiveCount())
	total := fmt.Sprintf("%d total", m.list.Len())
	return statusBarStyle.Render(fmt.Sprintf("%s  |  %s  |  %s", StateIndicator(m.state), active, total))
}

func (m *Model) helpView() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Help"))
	sb.WriteString("\n\n")

	help := []struct{ key, desc string }{
		{"↑/↓ or j/k", "Navigate up/down"},
		{"Space/Enter", "Enable or disable entry"},
		{"n", "Add new entry"},
		{"e", "Edit selected entry"},
		{"d", "Delete selected entry"},
		{"b", "Browse and restore backups"},
		{"B", "Back up the hosts file now"},
		{"/", "Search"},
		{"r", "Reload from disk"},
		{"R", "Retry helper connection"},
		{"?", "Toggle this help"},
		{"q", "Quit"},
	}
	for _, h := range help {
		sb.WriteString(fmt.Sprintf("  %s  %s\n",
			helpKeyStyle.Width(15).Render(h.key),
			helpDescStyle.Render(h.desc)))
	}

	sb.WriteString("\n")
	sb.WriteString(inputLabelStyle.Render("Protected hostnames:"))
	sb.WriteString("\n")
	sb.WriteString(helpDescStyle.Render("  " + strings.Join(hosts.ReservedHostnames(), ", ")))
	sb.WriteString("\n\n")
	sb.WriteString(helpDescStyle.Render("Press ? or Esc to close"))

	return dialogStyle.Render(sb.String())
}

func (m *Model) searchView() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Search"))
	sb.WriteString("\n\n")
	sb.WriteString(inputFocusStyle.Render(m.searchInput.View()))
	sb.WriteString("\n\n")
	sb.WriteString(helpDescStyle.Render("Enter to search • Esc to cancel"))

	return dialogStyle.Render(sb.String())
}

func (m *Model) confirmDeleteView() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Confirm Delete"))
	sb.WriteString("\n\n")

	warningStyle := lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	sb.WriteString(warningStyle.Render("Are you sure you want to delete this entry?"))
	sb.WriteString("\n\n")

	if e := m.pendingDelete; e != nil {
		sb.WriteString(fmt.Sprintf("  %s %s\n", Indicator(e.Enabled, false, false), helpKeyStyle.Render(e.PrimaryHostname())))
		sb.WriteString(fmt.Sprintf("  Address: %s\n", helpDescStyle.Render(e.Address)))
		if aliases := e.AdditionalHostnames(); len(aliases) > 0 {
			sb.WriteString(fmt.Sprintf("  Aliases: %s\n", helpDescStyle.Render(strings.Join(aliases, " "))))
		}
	}

	sb.WriteString("\n")
	sb.WriteString(helpDescStyle.Render("y confirm • n/Esc cancel"))

	return dialogStyle.Render(sb.String())
}

// Run starts the interactive UI and blocks until the user quits.
func Run(svc Editor, helper Helper, clientVersion string) error {
	m := NewModel(svc, helper, clientVersion)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
