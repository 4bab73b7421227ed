package tui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lukaszraczylo/hostsmanager/internal/hosts"
	"github.com/lukaszraczylo/hostsmanager/internal/validation"
)

// FormMode represents the form mode.
type FormMode int

const (
	FormModeAdd FormMode = iota
	FormModeEdit
)

// FormField represents a form field index.
type FormField int

const (
	FieldAddress FormField = iota
	FieldHostnames
	FieldComment
	FieldCount
)

// Problem is one validation failure with its remediation hint.
type Problem struct {
	Message string
	Hint    string
}

// Form handles the add/edit entry form.
type Form struct {
	mode     FormMode
	fields   []textinput.Model
	focus    FormField
	width    int
	height   int
	editing  hosts.Entry
	problems []Problem
}

// NewForm creates a new form.
func NewForm() *Form {
	fields := make([]textinput.Model, FieldCount)

	fields[FieldAddress] = textinput.New()
	fields[FieldAddress].Placeholder = "127.0.0.1"
	fields[FieldAddress].CharLimit = 45 // IPv6 max

	fields[FieldHostnames] = textinput.New()
	fields[FieldHostnames].Placeholder = "app.local www.app.local"
	fields[FieldHostnames].CharLimit = 1024

	fields[FieldComment] = textinput.New()
	fields[FieldComment].Placeholder = "optional"
	fields[FieldComment].CharLimit = 200

	return &Form{
		fields: fields,
		focus:  FieldAddress,
	}
}

// Init initializes the form for adding a new entry.
func (f *Form) Init() {
	f.mode = FormModeAdd
	f.editing = hosts.Entry{}
	f.problems = nil

	for i := range f.fields {
		f.fields[i].Reset()
	}
	f.fields[FieldAddress].SetValue("127.0.0.1")
	f.focusField(FieldHostnames)
}

// InitEdit initializes the form for editing e.
func (f *Form) InitEdit(e hosts.Entry) {
	f.mode = FormModeEdit
	f.editing = e
	f.problems = nil

	f.fields[FieldAddress].SetValue(e.Address)
	f.fields[FieldHostnames].SetValue(strings.Join(e.Hostnames, " "))
	f.fields[FieldComment].SetValue(e.Comment)
	f.focusField(FieldAddress)
}

// SetSize sets the form dimensions.
func (f *Form) SetSize(width, height int) {
	f.width = width
	f.height = height

	inputWidth := min(50, width-10)
	for i := range f.fields {
		f.fields[i].Width = inputWidth
	}
}

// Update handles input events.
func (f *Form) Update(msg tea.Msg) tea.Cmd {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "tab", "down":
			f.focusField((f.focus + 1) % FieldCount)
			return nil
		case "shift+tab", "up":
			f.focusField((f.focus - 1 + FieldCount) % FieldCount)
			return nil
		}
	}

	var cmd tea.Cmd
	f.fields[f.focus], cmd = f.fields[f.focus].Update(msg)
	return cmd
}

func (f *Form) focusField(field FormField) {
	for i := range f.fields {
		f.fields[i].Blur()
	}
	f.focus = field
	f.fields[field].Focus()
}

// Entry builds the entry described by the form. Editing keeps the original
// id and enabled state.
func (f *Form) Entry() hosts.Entry {
	address := strings.TrimSpace(f.fields[FieldAddress].Value())
	hostnames := strings.Fields(f.fields[FieldHostnames].Value())
	comment := strings.TrimSpace(f.fields[FieldComment].Value())

	if f.mode == FormModeEdit {
		return f.editing.With(hosts.Update{
			Address:   &address,
			Hostnames: nonNil(hostnames),
			Comment:   &comment,
		})
	}
	return hosts.NewEntry(address, hostnames, hosts.WithComment(comment))
}

// Hostnames in an Update are only applied when non-nil.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// IsEdit returns true if in edit mode.
func (f *Form) IsEdit() bool {
	return f.mode == FormModeEdit
}

// Validate checks the entry against f and keeps every problem found for
// display. It reports whether the entry may be saved.
func (f *Form) Validate(file *hosts.File) bool {
	f.problems = nil
	for _, err := range validation.CollectEntry(f.Entry(), file) {
		p := Problem{Message: err.Error()}
		var verr *validation.Error
		if errors.As(err, &verr) {
			p.Hint = verr.Hint()
		}
		f.problems = append(f.problems, p)
	}
	return len(f.problems) == 0
}

// Problems returns the problems found by the last Validate.
func (f *Form) Problems() []Problem {
	return f.problems
}

// View renders the form.
func (f *Form) View() string {
	var sb strings.Builder

	title := "Add New Entry"
	if f.mode == FormModeEdit {
		title = "Edit Entry"
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n\n")

	labels := []string{"IP Address:", "Hostnames (space separated):", "Comment:"}
	for i, label := range labels {
		sb.WriteString(inputLabelStyle.Render(label))
		sb.WriteString("\n")
		style := inputStyle
		if f.focus == FormField(i) {
			style = inputFocusStyle
		}
		sb.WriteString(style.Render(f.fields[i].View()))
		sb.WriteString("\n\n")
	}

	for _, p := range f.problems {
		sb.WriteString(errorIndicatorStyle.Render("✗ " + p.Message))
		sb.WriteString("\n")
		if p.Hint != "" {
			sb.WriteString(hintStyle.Render("  " + p.Hint))
			sb.WriteString("\n")
		}
	}
	if len(f.problems) > 0 {
		sb.WriteString("\n")
	}

	sb.WriteString(helpDescStyle.Render("Tab/↓ next • Shift+Tab/↑ prev • Enter save • Esc cancel"))

	return dialogStyle.Render(sb.String())
}
