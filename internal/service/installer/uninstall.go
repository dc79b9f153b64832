package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-ps"

	"tomex/internal/autostart"
	"tomex/internal/config"
	"tomex/internal/logger"
	"tomex/internal/service/common"
)

// stackExecutables are the process names terminated during uninstall.
func stackExecutables(layout config.Layout) []string {
	return []string{
		filepath.Base(layout.OllamaBin()),
		"open-webui.exe",
		"open-webui",
	}
}

// Uninstall removes everything a previous run put on the machine:
// autostart entries, the Start Menu shortcut, the container, running
// processes and finally the install root itself. Every removal is
// best-effort so a partially installed stack uninstalls cleanly too.
func Uninstall(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "tomex-uninstall")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	layout := config.NewLayout(cfg)
	r := newRunner(cfg, layout, opts)

	logger.InfoKV(ctx, "Uninstalling", "install_root", layout.Root)

	// Autostart entries first, so nothing respawns mid-removal.
	r.registrar.Unregister(ctx, ollamaTaskName)
	r.registrar.Unregister(ctx, webUITaskName)

	if programs, folderErr := autostart.ProgramsFolder(); folderErr == nil {
		_ = os.Remove(filepath.Join(programs, uninstallShortcutName))
	}

	// The container may or may not exist; force-remove covers both.
	if _, lookErr := r.exec.LookPath("docker"); lookErr == nil {
		_, _ = r.exec.Run(ctx, common.Command{
			Path: "docker",
			Args: []string{"rm", "-f", webUIContainerName},
		})
	}

	terminateStack(ctx, layout)

	if err = os.RemoveAll(layout.Root); err != nil {
		return fmt.Errorf("remove install root: %w", err)
	}

	logger.Info(ctx, "Uninstall complete")

	return nil
}

// terminateStack kills every running stack process by executable name.
func terminateStack(ctx context.Context, layout config.Layout) {
	processes, err := ps.Processes()
	if err != nil {
		logger.WarnKV(ctx, "Unable to list processes", "error", err)
		return
	}

	names := map[string]bool{}
	for _, name := range stackExecutables(layout) {
		names[name] = true
	}

	self := os.Getpid()

	for _, process := range processes {
		if process.Pid() == self || !names[process.Executable()] {
			continue
		}

		victim, findErr := os.FindProcess(process.Pid())
		if findErr != nil {
			continue
		}

		if killErr := victim.Kill(); killErr != nil {
			logger.WarnKV(ctx, "Unable to terminate process",
				"executable", process.Executable(), "pid", process.Pid(), "error", killErr)
			continue
		}

		logger.InfoKV(ctx, "Terminated process",
			"executable", process.Executable(), "pid", process.Pid())
	}
}
