package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/epie-lang/epie/cluster"
	"github.com/epie-lang/epie/vm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cliConfig holds the flags shared across subcommands, grounded in
// spec.md §6's CLI surface.
type cliConfig struct {
	threads            int
	nodeAlias          string
	dataRootDir        string
	enableRemoteAccess bool
	listenHost         string
	listenPort         int
	serverListenHost   string
	serverListenPort   int
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:   "epie [file]",
		Short: "epie assembles and runs register-machine bytecode",
		Long: "epie is the assembler, virtual machine, and cluster node for the " +
			"epie bytecode format. Run it with a source file to assemble and " +
			"execute it, or with no arguments to start an interactive REPL.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runREPL(cfg)
			}
			return runFile(cfg, args[0])
		},
	}

	root.PersistentFlags().IntVar(&cfg.threads, "threads", 1, "number of VM instances to run the program on in parallel")
	root.PersistentFlags().StringVar(&cfg.nodeAlias, "node-alias", "", "human-readable node name (persisted to data-root-dir/.node_id if given)")
	root.PersistentFlags().StringVar(&cfg.dataRootDir, "data-root-dir", ".", "directory holding persisted node state")
	root.PersistentFlags().BoolVar(&cfg.enableRemoteAccess, "enable-remote-access", false, "record --listen-host/--listen-port as each VM's cluster bind address (no listener is started)")
	root.PersistentFlags().StringVar(&cfg.listenHost, "listen-host", "127.0.0.1", "cluster bind host, used with --enable-remote-access")
	root.PersistentFlags().IntVar(&cfg.listenPort, "listen-port", 7878, "cluster bind port, used with --enable-remote-access")
	root.PersistentFlags().StringVar(&cfg.serverListenHost, "server-listen-host", "127.0.0.1", "bootstrap host for `cluster join`")
	root.PersistentFlags().IntVar(&cfg.serverListenPort, "server-listen-port", 7878, "bootstrap port for `cluster join`")

	root.AddCommand(newRunCmd(cfg), newAsmCmd(), newReplCmd(cfg), newClusterCmd(cfg))
	return root
}

func newRunCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "assemble a source file and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(cfg, args[0])
		},
	}
}

func newAsmCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "asm <file>",
		Short: "assemble a source file and write its image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			image, errs := vm.Assemble(string(source))
			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintln(os.Stderr, e)
				}
				return fmt.Errorf("%d assembler error(s)", len(errs))
			}
			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".epie"
			}
			if err := os.WriteFile(output, image, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Printf("wrote %s (%d bytes)\n", output, len(image))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output image path (default: input with .epie extension)")
	return cmd
}

func newReplCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "start an interactive assemble-and-run session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cfg)
		},
	}
}

func newClusterCmd(cfg *cliConfig) *cobra.Command {
	clusterCmd := &cobra.Command{
		Use:   "cluster",
		Short: "run this node's cluster listener, or join an existing cluster",
	}
	clusterCmd.AddCommand(newClusterListenCmd(cfg), newClusterJoinCmd(cfg))
	return clusterCmd
}

func newClusterListenCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "listen for inbound cluster join requests and block",
		RunE: func(cmd *cobra.Command, args []string) error {
			alias, err := resolveAlias(cfg)
			if err != nil {
				return err
			}
			self := cluster.NodeInfo{Alias: alias, IP: cfg.listenHost, Port: fmt.Sprint(cfg.listenPort)}
			mgr := cluster.NewManager()
			ctx := interruptContext()
			fmt.Printf("listening as %s on %s:%d\n", alias, cfg.listenHost, cfg.listenPort)
			return cluster.Listen(ctx, fmt.Sprintf("%s:%d", cfg.listenHost, cfg.listenPort), mgr, self)
		},
	}
}

func newClusterJoinCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "join [bootstrap-addr]",
		Short: "join a cluster through a bootstrap node, then keep listening",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrap := fmt.Sprintf("%s:%d", cfg.serverListenHost, cfg.serverListenPort)
			if len(args) == 1 {
				bootstrap = args[0]
			}
			alias, err := resolveAlias(cfg)
			if err != nil {
				return err
			}
			self := cluster.NodeInfo{Alias: alias, IP: cfg.listenHost, Port: fmt.Sprint(cfg.listenPort)}
			mgr := cluster.NewManager()
			ctx := interruptContext()

			listenAddr := fmt.Sprintf("%s:%d", cfg.listenHost, cfg.listenPort)
			go func() {
				if err := cluster.Listen(ctx, listenAddr, mgr, self); err != nil {
					fmt.Fprintf(os.Stderr, "cluster listener stopped: %v\n", err)
				}
			}()

			if err := cluster.Join(ctx, bootstrap, mgr, self); err != nil {
				return err
			}
			fmt.Printf("joined %s as %s, now listening on %s\n", bootstrap, alias, listenAddr)
			<-ctx.Done()
			return nil
		},
	}
}

// runFile assembles path and runs it on cfg.threads VM instances,
// printing the terminal event of each instance that crashed. Matches spec.md §6's exit
// code contract: 0 on every instance completing cleanly, 1 otherwise.
func runFile(cfg *cliConfig, path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	image, debugSyms, errs := vm.AssembleWithDebug(string(source))
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		os.Exit(1)
	}

	threads := cfg.threads
	if threads < 1 {
		threads = 1
	}

	vms := make([]*vm.VM, threads)
	for i := range vms {
		v := vm.NewVM()
		v.EnableDebugSymbols(debugSyms)
		if err := v.AddBytes(image); err != nil {
			return fmt.Errorf("loading image: %w", err)
		}
		if cfg.enableRemoteAccess {
			v.WithClusterBind(cfg.listenHost, cfg.listenPort)
		}
		vms[i] = v
	}

	var sched vm.Scheduler
	logs := sched.RunAll(vms)

	exitCode := 0
	for i, log := range logs {
		last := log[len(log)-1]
		if last.Kind == vm.EventCrash {
			exitCode = 1
			fmt.Fprintf(os.Stderr, "instance %d crashed: %s\n", i, last.Detail)
		}
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// runREPL drives an incremental assemble-and-run session: each line the
// user types is wrapped in its own .data/.code pair, assembled, appended
// to a single long-lived VM, and executed one instruction at a time.
// Adapted from the teacher's line-oriented style and the original
// REPL's single-VM-appended-incrementally design.
func runREPL(cfg *cliConfig) error {
	fmt.Println("epie REPL - type .quit to exit, .registers to inspect state")
	v := vm.NewVM()
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(">>> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case ".quit":
			return nil
		case ".registers":
			fmt.Printf("%+v\n", v)
			continue
		}

		image, errs := vm.Assemble(".data\n.code\n" + line)
		if len(errs) > 0 {
			for _, e := range errs {
				fmt.Println(e)
			}
			continue
		}
		if err := v.AddBytes(image); err != nil {
			fmt.Println(err)
			continue
		}
		v.RunOnce()
	}
}

func resolveAlias(cfg *cliConfig) (string, error) {
	path := filepath.Join(cfg.dataRootDir, ".node_id")

	if cfg.nodeAlias != "" {
		if err := cluster.WriteNodeID(path, cfg.nodeAlias); err != nil {
			return "", err
		}
		return cfg.nodeAlias, nil
	}

	if alias, err := cluster.ReadNodeID(path); err == nil {
		return strings.TrimSpace(alias), nil
	}

	alias := uuid.NewString()
	if err := cluster.WriteNodeID(path, alias); err != nil {
		return "", err
	}
	return alias, nil
}

func interruptContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()
	return ctx
}
