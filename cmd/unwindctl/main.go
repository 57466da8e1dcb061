// Command unwindctl is a demo harness for the unwinding engine: it loads a
// manifest describing a target's modules and CFI tables, attaches to either
// a live pid or a core file for memory reads, and prints a bounded
// backtrace. Real ELF/DWARF parsing is out of scope for the engine itself
// (spec.md places it out of scope as an external collaborator); this
// command fills that gap with the manifest format for demonstration only.
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/corewalk/unwind/internal/config"
	"github.com/corewalk/unwind/internal/logflags"
	"github.com/corewalk/unwind/pkg/memview"
	"github.com/corewalk/unwind/pkg/regfile"
	"github.com/corewalk/unwind/pkg/unwind"
)

var (
	manifestPath string
	corePath     string
	pid          int
	maxDepth     int
	configPath   string
)

func main() {
	root := &cobra.Command{
		Use:   "unwindctl",
		Short: "Walk a call stack using CFI-driven unwinding",
		Long:  "unwindctl attaches to a live process or a core file and prints a backtrace, given an explicit manifest of the target's modules and CFI tables.",
	}

	bt := &cobra.Command{
		Use:   "bt",
		Short: "Print a backtrace",
		RunE:  runBacktrace,
	}
	bt.Flags().StringVar(&manifestPath, "manifest", "", "path to the target manifest (required)")
	bt.Flags().StringVar(&corePath, "core", "", "path to a core file to read memory from")
	bt.Flags().IntVar(&pid, "pid", 0, "pid of a live process to read memory from")
	bt.Flags().IntVar(&maxDepth, "max-depth", 0, "override the configured max backtrace depth (0 = use config)")
	bt.Flags().StringVar(&configPath, "config", "", "path to a unwindctl config.yml (default: ~/.config/unwindctl/config.yml)")
	_ = bt.MarkFlagRequired("manifest")

	root.AddCommand(bt)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		dir, err := config.Dir()
		if err != nil {
			return config.Default(), nil
		}
		path = dir + "/config.yml"
	}
	return config.Load(path)
}

func runBacktrace(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logflags.Setup(cfg.LogrusLevel(), cfg.LogComponents...)

	m, err := loadManifest(manifestPath)
	if err != nil {
		return err
	}
	if m.WordSize == 0 {
		m.WordSize = cfg.WordSizeDefault
	}

	target, cleanup, err := buildTarget(m)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	order := binary.ByteOrder(binary.LittleEndian)
	if m.BigEndian {
		order = binary.BigEndian
	}
	arch := unwind.Arch{WordSize: m.WordSize, NumRegs: m.NumRegs, ByteOrder: order}

	cacheSize := cfg.CFICacheSize
	sess, err := unwind.NewSession(arch, target, newManifestModuleLookup(m), cacheSize)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	regs := regfile.New(m.NumRegs)
	for i, v := range m.InitialRegisters {
		regs.Set(i, v)
	}

	depth := cfg.MaxDepth
	if maxDepth > 0 {
		depth = maxDepth
	}
	printBacktrace(sess, sess.NewRootFrame(m.InitialPC, regs, false), depth)
	return nil
}

func buildTarget(m *Manifest) (memview.View, func(), error) {
	switch {
	case corePath != "":
		order := binary.ByteOrder(binary.LittleEndian)
		if m.BigEndian {
			order = binary.BigEndian
		}
		img, err := memview.OpenCoreImage(corePath, m.segments(), 0x1000, order)
		if err != nil {
			return nil, nil, fmt.Errorf("open core: %w", err)
		}
		return img, func() { img.Close() }, nil
	case pid != 0:
		return memview.NewLiveTask(pid, m.WordSize), nil, nil
	default:
		return nil, nil, fmt.Errorf("unwindctl: one of --core or --pid is required")
	}
}

func printBacktrace(sess *unwind.Session, root *unwind.FrameState, maxDepth int) {
	colorOut := colorable.NewColorableStdout()
	useColor := isatty.IsTerminal(os.Stdout.Fd())

	cur := root
	for i := 0; maxDepth == 0 || i < maxDepth; i++ {
		fmt.Fprintf(colorOut, "#%-3d pc=%#016x\n", i, cur.PC())

		res, next, err := sess.Step(cur)
		switch res {
		case unwind.Stepped:
			cur = next
		case unwind.Terminal:
			fmt.Fprintln(colorOut, "(terminal frame)")
			return
		case unwind.Failed:
			printError(colorOut, useColor, err)
			return
		}
	}
	logflags.UnwindLogger().Warnf("backtrace truncated at max depth %d", maxDepth)
}

func printError(w io.Writer, useColor bool, err error) {
	msg := fmt.Sprintf("ERROR: %v", err)
	if useColor {
		fmt.Fprintf(w, "\x1b[31m%s\x1b[0m\n", msg)
	} else {
		fmt.Fprintln(w, msg)
	}
}
