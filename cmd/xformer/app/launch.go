package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/device"
	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/launcher"
	"github.com/zhenhua32/mindformers/internal/logger"
	"github.com/zhenhua32/mindformers/internal/models"
	"github.com/zhenhua32/mindformers/internal/ranktable"
)

// defaultMasterPort is the scheduler rendezvous port workers dial in
// dynamic bootstrap mode when no --master-port is given.
const defaultMasterPort = 8118

// LaunchOptions holds options for the launch command
type LaunchOptions struct {
	*GlobalOptions

	// Name is the display name the job id is derived from
	Name string

	// Model selects defaults from the model registry
	Model string

	// ConfigPath is the trainer YAML validated against the device count
	ConfigPath string

	// Dataset is the training data location
	Dataset string

	// RankTable is the rank table descriptor path
	RankTable string

	// Devices is the local device selection, e.g. "0-7" or "0,2,4,6"
	Devices string

	// DeviceNum is the total rank count across all servers
	DeviceNum int

	// ServerID names this host's entry in a multi-server rank table
	ServerID string

	// Mode is the launch mechanism: process, mpi, or docker
	Mode string

	// Bootstrap is the worker discovery mechanism: ranktable or dynamic
	Bootstrap string

	// MasterAddr and MasterPort locate the scheduler, dynamic bootstrap
	MasterAddr string
	MasterPort int

	// Scheduler runs the rendezvous scheduler on this host
	Scheduler bool

	// Hostfile is the "host slots=N" file handed to mpirun
	Hostfile string

	// Image is the container image, docker mode
	Image string

	// WorkDir is the working directory workers run in
	WorkDir string

	// Env holds extra KEY=VALUE pairs exported to workers
	Env []string

	// Detach hands the job to a background supervisor and returns
	Detach bool

	// TTY attaches a single worker to a pseudo-terminal
	TTY bool

	// DryRun prints the launch plan without starting anything
	DryRun bool

	positional []string
	entrypoint []string
}

// NewLaunchCommand creates the launch command.
//
// The launch command starts the training entrypoint across devices. It
// keeps the positional form of the classic cluster launch scripts
// (RANK_SIZE RANK_TABLE DATASET before the --) so existing invocations
// keep working, with flags covering everything beyond that.
//
// Usage:
//
//	xformer launch [RANK_SIZE [RANK_TABLE [DATASET]]] [OPTIONS] -- COMMAND [args...]
//
// Examples:
//
//	xformer launch 8 hccl_8p.json /data/wikitext -- run_mindformer.py
//	xformer launch --model llama_7b --rank-table hccl_8p.json -- run_mindformer.py
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for launching training jobs
func NewLaunchCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &LaunchOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "launch [RANK_SIZE [RANK_TABLE [DATASET]]] -- COMMAND [args...]",
		Short: "Launch a distributed training job",
		Long: `Launch the training entrypoint across devices.

The command before the -- separator runs once per rank with the
distributed environment shaped for it (RANK_TABLE_FILE, RANK_ID,
DEVICE_ID, RANK_SIZE, ...). A .py entrypoint is run through the
configured python interpreter. When --config or --dataset are given they
are forwarded to the entrypoint as --config and --train_dataset_dir
unless the entrypoint args already carry them.

Launch modes:
  process   one local worker process per rank (default)
  mpi       build and exec an mpirun invocation over a hostfile
  docker    one container per rank through the Docker engine

Worker discovery:
  ranktable distribute a rank table file to every worker (default)
  dynamic   run a rendezvous scheduler, no rank table needed

The job is tracked under ~/.xformer so 'xformer ps', 'xformer logs', and
'xformer stop' work from any shell.`,
		Example: `  # Classic positional form: 8 ranks from a rank table
  xformer launch 8 hccl_8p.json /data/wikitext -- run_mindformer.py

  # Pull model defaults from the registry, run detached
  xformer launch --model llama_7b --rank-table hccl_8p.json \
      --config run_llama_7b.yaml -d -- run_mindformer.py

  # Dynamic bootstrap on 4 devices, no rank table
  xformer launch --bootstrap dynamic --devices 0-3 -- run_mindformer.py

  # Emit the mpirun command line without running it
  xformer launch --mode mpi --hostfile hostfile --dry-run -- run_mindformer.py

  # One container per rank
  xformer launch --mode docker --image mindformers:latest \
      --rank-table hccl_8p.json -- python3 run_mindformer.py`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dash := cmd.ArgsLenAtDash()
			if dash < 0 {
				return fmt.Errorf("no entrypoint given, expected: xformer launch [flags] -- COMMAND [args...]")
			}
			opts.positional = args[:dash]
			opts.entrypoint = args[dash:]
			return runLaunch(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "job display name (default: model or entrypoint name)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model registry entry providing defaults (see 'xformer models')")
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "trainer YAML, validated against the device count")
	cmd.Flags().StringVar(&opts.Dataset, "dataset", "", "training dataset path")
	cmd.Flags().StringVar(&opts.RankTable, "rank-table", "", "rank table descriptor (hccl.json)")
	cmd.Flags().StringVar(&opts.Devices, "devices", "", "local device ids, e.g. 0-7 or 0,2,4,6")
	cmd.Flags().IntVar(&opts.DeviceNum, "device-num", 0, "total rank count (default: from the rank table)")
	cmd.Flags().StringVar(&opts.ServerID, "server-id", "", "this host's server id in a multi-server rank table")
	cmd.Flags().StringVar(&opts.Mode, "mode", "process", "launch mode: process, mpi, or docker")
	cmd.Flags().StringVar(&opts.Bootstrap, "bootstrap", "ranktable", "worker discovery: ranktable or dynamic")
	cmd.Flags().StringVar(&opts.MasterAddr, "master-addr", "", "scheduler address for dynamic bootstrap (default: 127.0.0.1)")
	cmd.Flags().IntVar(&opts.MasterPort, "master-port", defaultMasterPort, "scheduler port for dynamic bootstrap")
	cmd.Flags().BoolVar(&opts.Scheduler, "scheduler", true,
		"run the rendezvous scheduler on this host (set false on worker-only hosts)")
	cmd.Flags().StringVar(&opts.Hostfile, "hostfile", "", "mpi hostfile with 'host slots=N' lines")
	cmd.Flags().StringVar(&opts.Image, "image", "", "container image for docker mode (default: from the model card)")
	cmd.Flags().StringVar(&opts.WorkDir, "workdir", "", "working directory for the workers (default: current directory)")
	cmd.Flags().StringArrayVarP(&opts.Env, "env", "e", nil, "extra KEY=VALUE exported to workers (repeatable)")
	cmd.Flags().BoolVarP(&opts.Detach, "detach", "d", false, "run the job under a background supervisor")
	cmd.Flags().BoolVarP(&opts.TTY, "tty", "t", false, "attach the single worker to a pseudo-terminal")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the launch plan without starting anything")

	return cmd
}

// runLaunch executes the launch command logic
func runLaunch(opts *LaunchOptions) error {
	if len(opts.entrypoint) == 0 {
		return fmt.Errorf("entrypoint after -- is empty")
	}
	if err := applyPositionals(opts); err != nil {
		return err
	}

	mode := job.Mode(opts.Mode)
	switch mode {
	case job.ModeProcess, job.ModeMPI, job.ModeDocker:
	default:
		return fmt.Errorf("unknown mode %q, expected process, mpi, or docker", opts.Mode)
	}
	bootstrap := job.Bootstrap(opts.Bootstrap)
	switch bootstrap {
	case job.BootstrapRankTable, job.BootstrapDynamic:
	default:
		return fmt.Errorf("unknown bootstrap %q, expected ranktable or dynamic", opts.Bootstrap)
	}
	if mode == job.ModeMPI && bootstrap == job.BootstrapDynamic {
		return fmt.Errorf("mpi mode delegates rank placement to mpirun, dynamic bootstrap does not apply")
	}
	if opts.TTY && opts.Detach {
		return fmt.Errorf("--tty and --detach are mutually exclusive")
	}
	if opts.TTY && mode != job.ModeProcess {
		return fmt.Errorf("--tty applies to process mode only")
	}
	for _, kv := range opts.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("invalid --env entry %q, expected KEY=VALUE", kv)
		}
	}

	cfg, store, err := openStore()
	if err != nil {
		return err
	}

	var card *models.Card
	if opts.Model != "" {
		if card, err = models.Get(opts.Model); err != nil {
			return err
		}
		if mode == job.ModeDocker && opts.Image == "" {
			opts.Image = card.Image
		}
	}
	if mode == job.ModeDocker && opts.Image == "" {
		return fmt.Errorf("docker mode requires --image (or --model with a card that names one)")
	}

	j := &job.Job{
		Kind:       job.KindTrain,
		Model:      opts.Model,
		Mode:       mode,
		Bootstrap:  bootstrap,
		State:      job.StatePending,
		Image:      opts.Image,
		Entrypoint: append([]string(nil), opts.entrypoint...),
		Env:        append([]string(nil), opts.Env...),
	}

	// Absolute paths so detached supervisors and containers resolve them
	// independent of the launching shell's working directory.
	if j.RankTablePath, err = absIfSet(opts.RankTable); err != nil {
		return err
	}
	if j.ConfigPath, err = absIfSet(opts.ConfigPath); err != nil {
		return err
	}
	if j.DatasetPath, err = absIfSet(opts.Dataset); err != nil {
		return err
	}
	if j.HostfilePath, err = absIfSet(opts.Hostfile); err != nil {
		return err
	}
	if j.WorkDir, err = resolveWorkDir(opts.WorkDir); err != nil {
		return err
	}

	devices, err := parseDeviceList(opts.Devices)
	if err != nil {
		return err
	}

	busy, err := store.RunningDevices()
	if err != nil {
		return fmt.Errorf("failed to check running jobs: %w", err)
	}
	manager := device.NewManager()

	var tbl *ranktable.RankTable
	if bootstrap == job.BootstrapRankTable && (mode != job.ModeMPI || j.RankTablePath != "") {
		if j.RankTablePath == "" {
			return fmt.Errorf("rank table bootstrap requires --rank-table (or use --bootstrap dynamic)")
		}
		if tbl, err = ranktable.LoadValid(j.RankTablePath); err != nil {
			return err
		}
		if opts.DeviceNum > 0 && opts.DeviceNum != tbl.RankCount() {
			return fmt.Errorf("device num %d does not match rank table with %d rank(s)",
				opts.DeviceNum, tbl.RankCount())
		}
		j.RankSize = tbl.RankCount()
	}

	switch {
	case mode == job.ModeMPI:
		if err := resolveMPIRanks(j, opts, tbl); err != nil {
			return err
		}
		// mpirun owns placement, the table is not consulted locally.
		tbl = nil

	case bootstrap == job.BootstrapRankTable:
		if j.ServerID, err = resolveServerID(tbl, opts.ServerID); err != nil {
			return err
		}
		if len(devices) == 0 {
			for _, d := range tbl.DevicesOf(j.ServerID) {
				id, convErr := strconv.Atoi(d.DeviceID)
				if convErr != nil {
					return fmt.Errorf("rank table device id %q is not numeric", d.DeviceID)
				}
				devices = append(devices, id)
			}
		}
		j.Devices = devices

	default: // dynamic bootstrap, process or docker mode
		if len(devices) == 0 {
			n := opts.DeviceNum
			if n <= 0 {
				return fmt.Errorf("dynamic bootstrap needs --devices or --device-num")
			}
			if devices, err = manager.PickFree(n, busy); err != nil {
				return err
			}
		}
		j.Devices = devices
		j.RankSize = opts.DeviceNum
		if j.RankSize <= 0 {
			j.RankSize = len(devices)
		}
		j.MasterAddr = opts.MasterAddr
		if j.MasterAddr == "" {
			j.MasterAddr = "127.0.0.1"
		}
		j.MasterPort = opts.MasterPort
		j.StartScheduler = opts.Scheduler
		if mode == job.ModeDocker && j.StartScheduler {
			return fmt.Errorf("docker mode does not host the rendezvous scheduler, " +
				"run it on a process-mode host and pass --scheduler=false with --master-addr")
		}
	}

	if card != nil && j.RankSize != card.RecommendedDevices {
		logger.Warn("Model %s is tuned for %d device(s), launching with %d rank(s)",
			card.ID, card.RecommendedDevices, j.RankSize)
	}

	if j.ConfigPath != "" {
		tc, err := config.LoadTrainerConfig(j.ConfigPath)
		if err != nil {
			return err
		}
		if err := tc.Validate(j.RankSize); err != nil {
			return fmt.Errorf("trainer config %s: %w", j.ConfigPath, err)
		}
	}

	j.Entrypoint = shapeEntrypoint(j.Entrypoint, cfg.Jobs.PythonBin, j.ConfigPath, j.DatasetPath)
	j.Name = resolveJobName(opts.Name, opts.Model, j.Entrypoint)
	j.ID = job.NewID(j.Name)

	if err := launcher.Preflight(j, tbl, manager, busy); err != nil {
		return err
	}

	if opts.DryRun {
		printLaunchPlan(cfg, j, tbl)
		return nil
	}

	if err := store.Create(j); err != nil {
		return err
	}

	fmt.Printf("Launching %s: %d rank(s), mode %s, bootstrap %s\n", j.Name, j.RankSize, j.Mode, j.Bootstrap)
	fmt.Printf("Job ID: %s\n", j.ID)

	if opts.Detach {
		return detachJob(store, j)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt, stopping job...")
		cancel()
	}()

	grace := time.Duration(cfg.Jobs.StopGraceSeconds) * time.Second
	if err := runForeground(ctx, store, j, tbl, grace, os.Stdout, opts.TTY); err != nil {
		return err
	}

	final, err := store.Get(j.ID)
	if err != nil {
		return err
	}
	switch final.State {
	case job.StateSucceeded:
		fmt.Printf("\n✓ Job %s succeeded\n", j.ID)
	case job.StateStopped:
		fmt.Printf("\nJob %s stopped\n", j.ID)
	}
	fmt.Printf("Logs: %s\n", final.LogDir)
	return nil
}

// runForeground dispatches the job to its launcher and blocks until it
// finishes. Worker output streams to out; the launchers finalize the
// record themselves.
func runForeground(ctx context.Context, store *job.Store, j *job.Job, tbl *ranktable.RankTable, grace time.Duration, out io.Writer, tty bool) error {
	switch j.Mode {
	case job.ModeMPI:
		return launcher.NewMPILauncher(store, grace).Run(ctx, j, j.HostfilePath)

	case job.ModeDocker:
		dl, err := launcher.NewDockerLauncher(store, grace)
		if err != nil {
			return err
		}
		defer dl.Close()
		return dl.Run(ctx, j, launcher.RunOptions{Table: tbl})

	default:
		return launcher.NewProcessLauncher(store, grace).Run(ctx, j, launcher.RunOptions{
			Table:          tbl,
			TTY:            tty,
			Output:         out,
			StartScheduler: j.StartScheduler,
		})
	}
}

// detachJob hands the job to a background supervisor process and
// returns once it started.
func detachJob(store *job.Store, j *job.Job) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate own binary: %w", err)
	}

	logPath := store.SupervisorLogPath(j.ID)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open supervisor log %s: %w", logPath, err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, superviseCommandName, j.ID)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// Own session so the supervisor survives the launching terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	j.SupervisorPID = cmd.Process.Pid
	if err := store.Save(j); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("✓ Job started in the background")
	fmt.Println()
	fmt.Printf("Check state with:  xformer ps\n")
	fmt.Printf("Follow output:     xformer logs %s -f\n", j.ID)
	fmt.Printf("Stop it with:      xformer stop %s\n", j.ID)
	return nil
}

// resolveMPIRanks settles the rank count for mpi mode from, in order,
// the rank table, --device-num, or the hostfile slot sum.
func resolveMPIRanks(j *job.Job, opts *LaunchOptions, tbl *ranktable.RankTable) error {
	var hostfile *ranktable.Hostfile
	if j.HostfilePath != "" {
		var err error
		if hostfile, err = ranktable.ParseHostfile(j.HostfilePath); err != nil {
			return err
		}
	}

	switch {
	case tbl != nil:
		j.RankSize = tbl.RankCount()
	case opts.DeviceNum > 0:
		j.RankSize = opts.DeviceNum
	case hostfile != nil:
		j.RankSize = hostfile.TotalSlots()
	default:
		return fmt.Errorf("mpi mode needs a rank count: --device-num, --rank-table, or --hostfile")
	}

	if hostfile != nil && hostfile.TotalSlots() != j.RankSize {
		return fmt.Errorf("hostfile provides %d slot(s) but the rank count is %d",
			hostfile.TotalSlots(), j.RankSize)
	}
	return nil
}

// resolveServerID picks this host's entry in the rank table: the
// explicit flag, the sole server, or the server whose id matches a
// local IPv4 address.
func resolveServerID(tbl *ranktable.RankTable, flag string) (string, error) {
	ids := tbl.ServerIDs()
	if flag != "" {
		for _, id := range ids {
			if id == flag {
				return flag, nil
			}
		}
		return "", fmt.Errorf("server %s not found in rank table (servers: %s)", flag, strings.Join(ids, ", "))
	}
	if len(ids) == 1 {
		return ids[0], nil
	}

	local := localIPv4s()
	for _, id := range ids {
		if local[id] {
			return id, nil
		}
	}
	return "", fmt.Errorf("cannot tell which of %d servers is this host, use --server-id (servers: %s)",
		len(ids), strings.Join(ids, ", "))
}

// localIPv4s returns the set of non-loopback IPv4 addresses on this host.
func localIPv4s() map[string]bool {
	ips := make(map[string]bool)
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			ips[v4.String()] = true
		}
	}
	return ips
}

// applyPositionals maps the legacy positional form onto the flags:
// RANK_SIZE, then RANK_TABLE, then DATASET.
func applyPositionals(opts *LaunchOptions) error {
	pos := opts.positional
	if len(pos) == 0 {
		return nil
	}
	if len(pos) > 3 {
		return fmt.Errorf("at most 3 positional arguments (RANK_SIZE RANK_TABLE DATASET), got %d", len(pos))
	}

	n, err := strconv.Atoi(pos[0])
	if err != nil || n <= 0 {
		return fmt.Errorf("RANK_SIZE must be a positive integer, got %q", pos[0])
	}
	if opts.DeviceNum > 0 && opts.DeviceNum != n {
		return fmt.Errorf("positional RANK_SIZE %d conflicts with --device-num %d", n, opts.DeviceNum)
	}
	opts.DeviceNum = n

	if len(pos) > 1 {
		if opts.RankTable != "" && opts.RankTable != pos[1] {
			return fmt.Errorf("positional RANK_TABLE %q conflicts with --rank-table %q", pos[1], opts.RankTable)
		}
		opts.RankTable = pos[1]
	}
	if len(pos) > 2 {
		if opts.Dataset != "" && opts.Dataset != pos[2] {
			return fmt.Errorf("positional DATASET %q conflicts with --dataset %q", pos[2], opts.Dataset)
		}
		opts.Dataset = pos[2]
	}
	return nil
}

// shapeEntrypoint runs .py entrypoints through the configured
// interpreter and forwards the config and dataset paths unless the
// entrypoint args already carry them.
func shapeEntrypoint(entry []string, pythonBin, configPath, datasetPath string) []string {
	if strings.HasSuffix(entry[0], ".py") {
		entry = append([]string{pythonBin}, entry...)
	}
	if configPath != "" && !hasArg(entry, "--config") {
		entry = append(entry, "--config", configPath)
	}
	if datasetPath != "" && !hasArg(entry, "--train_dataset_dir") {
		entry = append(entry, "--train_dataset_dir", datasetPath)
	}
	return entry
}

// hasArg reports whether args carry the flag, in either "--flag value"
// or "--flag=value" form.
func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag || strings.HasPrefix(a, flag+"=") {
			return true
		}
	}
	return false
}

// resolveJobName picks the display name: explicit flag, model id, or
// the entrypoint script name.
func resolveJobName(name, model string, entry []string) string {
	if name != "" {
		return name
	}
	if model != "" {
		return model
	}
	base := filepath.Base(entry[0])
	for _, part := range entry {
		if strings.HasSuffix(part, ".py") {
			base = filepath.Base(part)
			break
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// resolveWorkDir returns the absolute working directory for workers.
func resolveWorkDir(dir string) (string, error) {
	if dir == "" {
		return os.Getwd()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if info, statErr := os.Stat(abs); statErr != nil {
		return "", fmt.Errorf("workdir %s: %w", abs, statErr)
	} else if !info.IsDir() {
		return "", fmt.Errorf("workdir %s is not a directory", abs)
	}
	return abs, nil
}

// absIfSet resolves a path to absolute, passing empty through.
func absIfSet(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return filepath.Abs(path)
}

// parseDeviceList parses device selections like "0,1,2,3", "0-7", or a
// mix ("0-3,6"). Ids are deduplicated and returned ascending.
func parseDeviceList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	seen := make(map[int]bool)
	var out []int
	add := func(id int) error {
		if id < 0 {
			return fmt.Errorf("device id %d is negative", id)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
		return nil
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.Atoi(strings.TrimSpace(lo))
			end, err2 := strconv.Atoi(strings.TrimSpace(hi))
			if err1 != nil || err2 != nil || start > end {
				return nil, fmt.Errorf("invalid device range %q", part)
			}
			for id := start; id <= end; id++ {
				if err := add(id); err != nil {
					return nil, err
				}
			}
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid device id %q", part)
		}
		if err := add(id); err != nil {
			return nil, err
		}
	}

	sortInts(out)
	return out, nil
}

// sortInts sorts ascending in place.
func sortInts(ids []int) {
	for i := 1; i < len(ids); i++ {
		for k := i; k > 0 && ids[k] < ids[k-1]; k-- {
			ids[k], ids[k-1] = ids[k-1], ids[k]
		}
	}
}

// printLaunchPlan renders what a launch would do without touching the
// store or any device.
func printLaunchPlan(cfg *config.Config, j *job.Job, tbl *ranktable.RankTable) {
	fmt.Printf("Would launch %s: %d rank(s), mode %s, bootstrap %s\n", j.Name, j.RankSize, j.Mode, j.Bootstrap)
	fmt.Printf("Entrypoint: %s\n", strings.Join(j.Entrypoint, " "))

	if j.Mode == job.ModeMPI {
		logDir := filepath.Join(cfg.Storage.GetLogsDir(), j.ID)
		fmt.Println()
		fmt.Println(launcher.CommandLine(j, j.HostfilePath, logDir))
		return
	}

	if tbl != nil {
		ranks, err := tbl.LocalRanks(j.ServerID)
		if err == nil {
			for _, rank := range ranks {
				if _, dev, ok := tbl.FindRank(rank); ok {
					fmt.Printf("  rank %d -> device %s\n", rank, dev.DeviceID)
				}
			}
		}
		return
	}
	for i, dev := range j.Devices {
		fmt.Printf("  rank %d -> device %d\n", i, dev)
	}
	if j.StartScheduler {
		fmt.Printf("  scheduler on %s:%d\n", j.MasterAddr, j.MasterPort)
	}
}
