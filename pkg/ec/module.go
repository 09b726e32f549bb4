package ec

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/omen-fan/omen-fan/pkg/log"
	"github.com/sierrasoftworks/humane-errors-go"
	"go.uber.org/zap"
)

const (
	moduleName         = "ec_sys"
	writeSupportParam  = "write_support=1"
	defaultModulesFile = "/proc/modules"
)

// CommandRunner executes an external command such as modprobe.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs commands through os/exec, attaching combined output to the error.
func ExecRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return humane.Wrap(err, name+" "+strings.Join(args, " ")+" failed: "+strings.TrimSpace(string(out)))
	}
	return nil
}

// ModuleLoader makes sure the ec_sys kernel module exposes a writable EC I/O window.
type ModuleLoader struct {
	IOFile      string
	ModulesFile string
	Run         CommandRunner
}

// NewModuleLoader returns a loader for the EC I/O window at ioFile.
func NewModuleLoader(ioFile string) *ModuleLoader {
	return &ModuleLoader{
		IOFile:      ioFile,
		ModulesFile: defaultModulesFile,
		Run:         ExecRunner,
	}
}

// EnsureWritable loads ec_sys with write support if it is missing. If the module is
// already loaded read-only it is reloaded exactly once; a window that is still not
// writable afterwards is a fatal error.
func (l *ModuleLoader) EnsureWritable(ctx context.Context) humane.Error {
	logger := log.FromContext(ctx).With(zap.String("module", moduleName))

	loaded, err := l.moduleLoaded()
	if err != nil {
		return humane.Wrap(err, "failed to list loaded kernel modules",
			"ensure "+l.ModulesFile+" is readable",
		)
	}

	if !loaded {
		logger.Info("loading kernel module with write support")
		if err := l.Run(ctx, "modprobe", moduleName, writeSupportParam); err != nil {
			return humane.Wrap(err, "failed to load the ec_sys kernel module",
				"ensure the ec_sys module is available for the running kernel",
				"run this command as root",
			)
		}
	}

	writable, err := l.writable()
	if err != nil {
		return humane.Wrap(err, "failed to inspect the EC I/O window",
			"ensure debugfs is mounted at /sys/kernel/debug",
		)
	}
	if writable {
		return nil
	}

	logger.Warn("EC I/O window is read-only, reloading kernel module with write support")
	if err := l.Run(ctx, "modprobe", "-r", moduleName); err != nil {
		return humane.Wrap(err, "failed to unload the read-only ec_sys kernel module",
			"ensure no other process is using "+l.IOFile,
		)
	}
	if err := l.Run(ctx, "modprobe", moduleName, writeSupportParam); err != nil {
		return humane.Wrap(err, "failed to reload the ec_sys kernel module with write support",
			"ensure the ec_sys module is available for the running kernel",
		)
	}

	writable, err = l.writable()
	if err != nil {
		return humane.Wrap(err, "failed to inspect the EC I/O window",
			"ensure debugfs is mounted at /sys/kernel/debug",
		)
	}
	if !writable {
		return humane.New("the EC I/O window is still read-only after reloading ec_sys",
			"ensure the kernel was built with CONFIG_ACPI_EC_DEBUGFS write support",
			"add 'options ec_sys write_support=1' to /etc/modprobe.d",
		)
	}

	return nil
}

func (l *ModuleLoader) moduleLoaded() (bool, error) {
	f, err := os.Open(l.ModulesFile)
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == moduleName {
			return true, nil
		}
	}
	return false, scanner.Err()
}

func (l *ModuleLoader) writable() (bool, error) {
	info, err := os.Stat(l.IOFile)
	if err != nil {
		return false, err
	}
	return info.Mode().Perm()&0o200 != 0, nil
}
