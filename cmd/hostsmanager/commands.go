package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/lukaszraczylo/hostsmanager/internal/hosts"
	"github.com/lukaszraczylo/hostsmanager/internal/protocol"
	"github.com/lukaszraczylo/hostsmanager/internal/service"
	"github.com/lukaszraczylo/hostsmanager/internal/version"
)

var errUsage = errors.New("usage")

// helperClient is the part of the IPC client the commands use directly.
type helperClient interface {
	BackupNamed(ctx context.Context) (string, error)
	Backups(ctx context.Context) ([]protocol.BackupInfo, error)
	RestoreNamed(ctx context.Context, name string) error
	Status(ctx context.Context) (*protocol.StatusData, error)
}

type cmdEnv struct {
	ctx     context.Context
	client  helperClient
	service *service.Service
	out     io.Writer
	in      io.Reader
}

type command func(env *cmdEnv, args []string) error

var commands = map[string]command{
	"list":    cmdList,
	"add":     cmdAdd,
	"rm":      cmdRemove,
	"on":      func(env *cmdEnv, args []string) error { return cmdSetEnabled(env, args, true) },
	"off":     func(env *cmdEnv, args []string) error { return cmdSetEnabled(env, args, false) },
	"import":  cmdImport,
	"export":  cmdExport,
	"backup":  cmdBackup,
	"backups": cmdBackups,
	"restore": cmdRestore,
	"status":  cmdStatus,
}

func cmdList(env *cmdEnv, args []string) error {
	if err := env.service.Load(env.ctx); err != nil {
		return err
	}

	entries := env.service.Snapshot().Sorted()
	if len(entries) == 0 {
		fmt.Fprintln(env.out, "No entries.")
		return nil
	}

	w := tabwriter.NewWriter(env.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tADDRESS\tHOSTNAMES\tCOMMENT")
	fmt.Fprintln(w, "------\t-------\t---------\t-------")
	for _, e := range entries {
		status := "○"
		if e.Enabled {
			status = "●"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", status, e.Address, strings.Join(e.Hostnames, " "), e.Comment)
	}
	return w.Flush()
}

func cmdAdd(env *cmdEnv, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	comment := fs.String("c", "", "Comment")
	disabled := fs.Bool("disabled", false, "Add the entry commented out")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("%w: add <ip> <hostname>...", errUsage)
	}

	opts := []hosts.EntryOption{hosts.WithComment(*comment)}
	if *disabled {
		opts = append(opts, hosts.Disabled())
	}
	entry := hosts.NewEntry(fs.Arg(0), fs.Args()[1:], opts...)

	if err := env.service.Load(env.ctx); err != nil {
		return err
	}
	if err := env.service.AddEntry(env.ctx, entry); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "✓ Added: %s → %s\n", strings.Join(entry.Hostnames, " "), entry.Address)
	return nil
}

// resolve finds the entries listing any of the given hostnames.
func resolve(f *hosts.File, hostnames []string) ([]hosts.Entry, error) {
	var matched []hosts.Entry
	seen := make(map[uuid.UUID]bool)
	for _, name := range hostnames {
		found := false
		for _, e := range f.Entries() {
			for _, h := range e.Hostnames {
				if h != name {
					continue
				}
				found = true
				if !seen[e.ID] {
					seen[e.ID] = true
					matched = append(matched, e)
				}
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", service.ErrEntryNotFound, name)
		}
	}
	return matched, nil
}

func cmdRemove(env *cmdEnv, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: rm <hostname>...", errUsage)
	}
	if err := env.service.Load(env.ctx); err != nil {
		return err
	}

	entries, err := resolve(env.service.Snapshot(), args)
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := env.service.DeleteEntries(env.ctx, ids...); err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(env.out, "✓ Deleted: %s\n", e.FormatLine())
	}
	return nil
}

func cmdSetEnabled(env *cmdEnv, args []string, enabled bool) error {
	verb := map[bool]string{true: "on", false: "off"}[enabled]
	if len(args) == 0 {
		return fmt.Errorf("%w: %s <hostname>...", errUsage, verb)
	}
	if err := env.service.Load(env.ctx); err != nil {
		return err
	}

	entries, err := resolve(env.service.Snapshot(), args)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Enabled != enabled {
			if err := env.service.ToggleEntry(env.ctx, e.ID); err != nil {
				return err
			}
		}
		label := "Disabled"
		if enabled {
			label = "Enabled"
		}
		fmt.Fprintf(env.out, "✓ %s: %s → %s\n", label, e.PrimaryHostname(), e.Address)
	}
	return nil
}

func cmdImport(env *cmdEnv, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: import <file|->", errUsage)
	}

	r := env.in
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	if err := env.service.ImportFrom(env.ctx, r); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "✓ Imported %d entries\n", env.service.Snapshot().Len())
	return nil
}

func cmdExport(env *cmdEnv, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("%w: export [file]", errUsage)
	}
	if err := env.service.Load(env.ctx); err != nil {
		return err
	}
	if len(args) == 0 {
		return env.service.ExportTo(env.out)
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := env.service.ExportTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func cmdBackup(env *cmdEnv, args []string) error {
	name, err := env.client.BackupNamed(env.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "✓ Backup created: %s\n", name)
	return nil
}

func cmdBackups(env *cmdEnv, args []string) error {
	backups, err := env.client.Backups(env.ctx)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Fprintln(env.out, "No backups.")
		return nil
	}

	w := tabwriter.NewWriter(env.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCREATED\tSIZE")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\t%d\n", b.Name, time.Unix(b.Timestamp, 0).Format("2006-01-02 15:04:05"), b.Size)
	}
	return w.Flush()
}

func cmdRestore(env *cmdEnv, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("%w: restore [name]", errUsage)
	}
	name := ""
	if len(args) == 1 {
		name = args[0]
	}

	if err := env.client.RestoreNamed(env.ctx, name); err != nil {
		return err
	}
	if name == "" {
		name = "latest backup"
	}
	fmt.Fprintf(env.out, "✓ Restored from %s\n", name)
	return nil
}

func cmdStatus(env *cmdEnv, args []string) error {
	status, err := env.client.Status(env.ctx)
	if err != nil {
		return err
	}

	running := "not running"
	if status.Running {
		running = "running"
	}
	fmt.Fprintf(env.out, "Status: %s\n", running)
	fmt.Fprintf(env.out, "Helper version: %s\n", status.Version)
	fmt.Fprintf(env.out, "Client version: %s\n", appVersion)
	fmt.Fprintf(env.out, "Hosts file: %s\n", status.HostsPath)
	fmt.Fprintf(env.out, "Uptime: %s\n", (time.Duration(status.Uptime) * time.Second).String())
	fmt.Fprintf(env.out, "Total requests: %d\n", status.RequestCount)
	if note := version.Compare(appVersion, status.Version).Message(); note != "" {
		fmt.Fprintf(env.out, "Warning: %s\n", note)
	}
	return nil
}
