package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/lukaszraczylo/hostsmanager/internal/protocol"
)

// BackupMode represents the backup view mode.
type BackupMode int

const (
	BackupModeSelect BackupMode = iota
	BackupModeConfirmRestore
)

// BackupPicker handles the backup selection and restore UI.
type BackupPicker struct {
	backups   []protocol.BackupInfo
	cursor    int
	width     int
	height    int
	mode      BackupMode
	hostsPath string
}

// NewBackupPicker creates a new backup picker.
func NewBackupPicker() *BackupPicker {
	return &BackupPicker{
		mode:      BackupModeSelect,
		hostsPath: "the hosts file",
	}
}

// SetBackups updates the available backups.
func (b *BackupPicker) SetBackups(backups []protocol.BackupInfo) {
	b.backups = backups
	if b.cursor >= len(backups) {
		b.cursor = max(0, len(backups)-1)
	}
}

// SetHostsPath sets the path shown in the restore confirmation.
func (b *BackupPicker) SetHostsPath(path string) {
	if path != "" {
		b.hostsPath = path
	}
}

// SetSize sets the picker dimensions.
func (b *BackupPicker) SetSize(width, height int) {
	b.width = width
	b.height = height
}

// MoveUp moves the cursor up.
func (b *BackupPicker) MoveUp() {
	if b.cursor > 0 {
		b.cursor--
	}
}

// MoveDown moves the cursor down.
func (b *BackupPicker) MoveDown() {
	if b.cursor < len(b.backups)-1 {
		b.cursor++
	}
}

// Selected returns the currently selected backup name.
func (b *BackupPicker) Selected() string {
	if info := b.SelectedInfo(); info != nil {
		return info.Name
	}
	return ""
}

// SelectedInfo returns the currently selected backup info.
func (b *BackupPicker) SelectedInfo() *protocol.BackupInfo {
	if b.cursor >= 0 && b.cursor < len(b.backups) {
		return &b.backups[b.cursor]
	}
	return nil
}

// Len returns the number of backups.
func (b *BackupPicker) Len() int {
	return len(b.backups)
}

// Mode returns the current mode.
func (b *BackupPicker) Mode() BackupMode {
	return b.mode
}

// InitRestore starts restore confirmation.
func (b *BackupPicker) InitRestore() {
	if b.SelectedInfo() == nil {
		return
	}
	b.mode = BackupModeConfirmRestore
}

// Cancel cancels the current operation.
func (b *BackupPicker) Cancel() {
	b.mode = BackupModeSelect
}

// View renders the backup picker.
func (b *BackupPicker) View() string {
	if b.mode == BackupModeConfirmRestore {
		return b.restoreView()
	}
	return b.selectView()
}

func (b *BackupPicker) selectView() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Backups"))
	sb.WriteString("\n\n")

	if len(b.backups) == 0 {
		sb.WriteString(helpDescStyle.Render("No backups available."))
		sb.WriteString("\n\n")
		sb.WriteString(helpDescStyle.Render("A backup is taken before every change and on 'B'."))
		sb.WriteString("\n\n")
		sb.WriteString(helpDescStyle.Render("Esc cancel"))
		return dialogStyle.Render(sb.String())
	}

	sb.WriteString(helpDescStyle.Render(fmt.Sprintf("%d backup(s), newest first", len(b.backups))))
	sb.WriteString("\n\n")

	for i, backup := range b.backups {
		line := fmt.Sprintf("%s  (%s)", formatTimestamp(backup.Timestamp), formatSize(backup.Size))
		if i == b.cursor {
			sb.WriteString(itemSelectedStyle.Render("▸ " + line))
		} else {
			sb.WriteString(itemStyle.Render("  " + line))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(helpDescStyle.Render("↑↓ navigate • Enter restore • Esc cancel"))
	return dialogStyle.Render(sb.String())
}

func (b *BackupPicker) restoreView() string {
	var sb strings.Builder

	timestamp := ""
	if backup := b.SelectedInfo(); backup != nil {
		timestamp = formatTimestamp(backup.Timestamp)
	}

	sb.WriteString(titleStyle.Render("Restore Backup"))
	sb.WriteString("\n\n")
	sb.WriteString(errorMsgStyle.Render(fmt.Sprintf("Restore %s from backup '%s'?", b.hostsPath, timestamp)))
	sb.WriteString("\n\n")
	sb.WriteString(helpDescStyle.Render("The current file is backed up first."))
	sb.WriteString("\n\n")
	sb.WriteString(helpDescStyle.Render("y confirm • n/Esc cancel"))

	return dialogStyle.Render(sb.String())
}

func formatTimestamp(unix int64) string {
	return time.Unix(unix, 0).Format("2006-01-02 15:04:05")
}

// formatSize formats bytes to human readable format.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)

	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
