package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"

	"github.com/lukaszraczylo/hostsmanager/internal/hosts"
)

const (
	sectionSystem = "system"
	sectionCustom = "custom"
)

// EntryItem represents a displayable host entry.
type EntryItem struct {
	Entry    hosts.Entry
	Pending  bool
	HasError bool
}

// Section returns the heading the item is listed under.
func (i EntryItem) Section() string {
	if i.Entry.IsSystemEntry() {
		return sectionSystem
	}
	return sectionCustom
}

// ListView handles the list of host entries.
type ListView struct {
	items  []EntryItem
	cursor int
	width  int
	height int
}

// NewListView creates a new list view.
func NewListView() *ListView {
	return &ListView{}
}

// SetItems replaces the list with f's entries, system entries first.
// Pending and error marks survive for entries that are still present.
func (l *ListView) SetItems(f *hosts.File) {
	prev := make(map[uuid.UUID]EntryItem, len(l.items))
	for _, item := range l.items {
		prev[item.Entry.ID] = item
	}

	entries := f.Sorted()
	l.items = make([]EntryItem, len(entries))
	for i, e := range entries {
		old := prev[e.ID]
		l.items[i] = EntryItem{Entry: e, Pending: old.Pending, HasError: old.HasError}
	}

	if l.cursor >= len(l.items) {
		l.cursor = max(0, len(l.items)-1)
	}
}

// SetSize sets the view dimensions.
func (l *ListView) SetSize(width, height int) {
	l.width = width
	l.height = height
}

// MoveUp moves the cursor up.
func (l *ListView) MoveUp() {
	if l.cursor > 0 {
		l.cursor--
	}
}

// MoveDown moves the cursor down.
func (l *ListView) MoveDown() {
	if l.cursor < len(l.items)-1 {
		l.cursor++
	}
}

// Selected returns the currently selected item.
func (l *ListView) Selected() *EntryItem {
	if l.cursor >= 0 && l.cursor < len(l.items) {
		return &l.items[l.cursor]
	}
	return nil
}

// SetPending marks an item as pending.
func (l *ListView) SetPending(id uuid.UUID, pending bool) {
	if item := l.Find(id); item != nil {
		item.Pending = pending
	}
}

// SetError marks an item as having an error.
func (l *ListView) SetError(id uuid.UUID, hasError bool) {
	if item := l.Find(id); item != nil {
		item.HasError = hasError
	}
}

// Find returns the item with the given entry id.
func (l *ListView) Find(id uuid.UUID) *EntryItem {
	for i := range l.items {
		if l.items[i].Entry.ID == id {
			return &l.items[i]
		}
	}
	return nil
}

// Len returns the number of items.
func (l *ListView) Len() int {
	return len(l.items)
}

// ActiveCount returns the number of enabled entries.
func (l *ListView) ActiveCount() int {
	count := 0
	for _, item := range l.items {
		if item.Entry.Enabled {
			count++
		}
	}
	return count
}

// Filter returns the items whose address, hostnames or comment contain term.
func (l *ListView) Filter(term string) []EntryItem {
	if term == "" {
		return l.items
	}

	term = strings.ToLower(term)
	var filtered []EntryItem
	for _, item := range l.items {
		haystack := strings.ToLower(item.Entry.Address + " " + strings.Join(item.Entry.Hostnames, " ") + " " + item.Entry.Comment)
		if strings.Contains(haystack, term) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// View renders the list with section headers.
func (l *ListView) View() string {
	return l.ViewFiltered("")
}

// ViewFiltered renders the list filtered by search term. The cursor is only
// highlighted when no filter is active.
func (l *ListView) ViewFiltered(searchTerm string) string {
	emptyStyle := lipgloss.NewStyle().Foreground(colorMuted)
	if len(l.items) == 0 {
		return "\n" + emptyStyle.Render("  No host entries. Press 'n' to add a new entry.") + "\n"
	}

	items := l.Filter(searchTerm)
	if len(items) == 0 {
		return "\n" + emptyStyle.Render(fmt.Sprintf("  No results for '%s'. Press Esc to clear search.", searchTerm)) + "\n"
	}

	var sb strings.Builder
	if searchTerm != "" {
		sb.WriteString(lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true).
			Render(fmt.Sprintf("  Search: %s (%d results)", searchTerm, len(items))))
		sb.WriteString("\n")
	}

	sectionHeaderStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorGroupHeader).
		Background(lipgloss.Color("238")).
		Padding(0, 1).
		MarginTop(1)

	var selected uuid.UUID
	if item := l.Selected(); item != nil && searchTerm == "" {
		selected = item.Entry.ID
	}

	for _, section := range []string{sectionSystem, sectionCustom} {
		var rows [][]string
		var sectionItems []EntryItem
		for _, item := range items {
			if item.Section() != section {
				continue
			}
			sectionItems = append(sectionItems, item)
			rows = append(rows, []string{
				truncate(item.Entry.PrimaryHostname(), 30),
				truncate(item.Entry.Address, 39),
				truncate(strings.Join(item.Entry.AdditionalHostnames(), " "), 30),
				statusString(item),
			})
		}
		if len(rows) == 0 {
			continue
		}

		sb.WriteString(sectionHeaderStyle.Render(fmt.Sprintf(" %s (%d)", strings.ToUpper(section), len(rows))))
		sb.WriteString("\n")

		t := table.New().
			Border(lipgloss.HiddenBorder()).
			Headers("HOSTNAME", "ADDRESS", "ALIASES", "STATUS").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return lipgloss.NewStyle().
						Bold(true).
						Foreground(colorHeader).
						Padding(0, 1)
				}

				baseStyle := lipgloss.NewStyle().Padding(0, 1)
				if row < 0 || row >= len(sectionItems) {
					return baseStyle
				}

				item := sectionItems[row]
				if item.Entry.ID == selected {
					return baseStyle.
						Background(colorSelectedBg).
						Foreground(colorSelectedFg)
				}
				if !item.Entry.Enabled && !item.Pending && !item.HasError {
					return baseStyle.Foreground(colorMuted)
				}
				if col == 3 {
					switch {
					case item.HasError:
						return baseStyle.Foreground(colorError)
					case item.Pending:
						return baseStyle.Foreground(colorWarning)
					case item.Entry.Enabled:
						return baseStyle.Foreground(colorSuccess)
					}
				}
				return baseStyle
			})

		sb.WriteString(t.Render())
		sb.WriteString("\n")
	}

	return sb.String()
}

func statusString(item EntryItem) string {
	if item.HasError {
		return "✗ Error"
	}
	if item.Pending {
		return "◐ Pending"
	}
	if item.Entry.Enabled {
		return "● Active"
	}
	return "○ Disabled"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
