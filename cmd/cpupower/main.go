package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/bombsimon/logrusr/v4"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/rnd2/cpupower-gui/pkg/config"
	"github.com/rnd2/cpupower-gui/pkg/helper"
	"github.com/rnd2/cpupower-gui/pkg/power"
)

type options struct {
	performance   bool
	balanced      bool
	profile       string
	applyConfig   bool
	list          bool
	info          bool
	format        string
	cpus          string
	minFreq       uint64
	maxFreq       uint64
	governor      string
	energyPref    string
	online        string
	saveProfile   string
	deleteProfile string
	direct        bool
	sysRoot       string
	watch         bool
	verbosity     int
}

func parseFlags() *options {
	opts := &options{}
	flag.BoolVar(&opts.performance, "performance", false, "set every cpu to the performance governor (schedutil when unavailable)")
	flag.BoolVar(&opts.balanced, "balanced", false, "apply the built-in Balanced profile")
	flag.StringVar(&opts.profile, "profile", "", "apply the named profile")
	flag.BoolVar(&opts.applyConfig, "apply-config", false, "apply the default profile from the configuration")
	flag.BoolVar(&opts.list, "list", false, "list the known profiles")
	flag.BoolVar(&opts.info, "info", false, "print the cpu settings")
	flag.StringVar(&opts.format, "format", "text", "output format of -info, text or yaml")
	flag.StringVar(&opts.cpus, "cpu", "", "cpus to change, e.g. 0,2-3 (all when empty)")
	flag.Uint64Var(&opts.minFreq, "min", 0, "minimum frequency in MHz")
	flag.Uint64Var(&opts.maxFreq, "max", 0, "maximum frequency in MHz")
	flag.StringVar(&opts.governor, "governor", "", "scaling governor")
	flag.StringVar(&opts.energyPref, "epp", "", "energy performance preference")
	flag.StringVar(&opts.online, "online", "", "bring cpus online (y) or take them offline (n)")
	flag.StringVar(&opts.saveProfile, "save-profile", "", "save the current settings as a user profile")
	flag.StringVar(&opts.deleteProfile, "delete-profile", "", "delete a user profile")
	flag.BoolVar(&opts.direct, "direct", false, "write sysfs in-process instead of going through the helper")
	flag.StringVar(&opts.sysRoot, "sysroot", "/sys", "sysfs mount point, used with -direct and -info")
	flag.BoolVar(&opts.watch, "watch", false, "print the current frequencies until interrupted")
	flag.IntVar(&opts.verbosity, "v", 0, "log verbosity")
	flag.Parse()
	return opts
}

func (o *options) staging() bool {
	return o.minFreq != 0 || o.maxFreq != 0 || o.governor != "" || o.energyPref != "" || o.online != ""
}

func setupLogging(verbosity int) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	switch {
	case verbosity >= 2:
		logger.SetLevel(logrus.TraceLevel)
	case verbosity == 1:
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.WarnLevel)
	}
	logrus.SetLevel(logger.GetLevel())
	sink := logrusr.New(logger)
	power.SetLogger(sink.WithName("power"))
	config.SetLogger(sink.WithName("config"))
	helper.SetLogger(sink.WithName("helper"))
}

// connect picks the in-process sysfs accessor or the bus helper
func connect(opts *options) (power.Accessor, power.Authorizer, func(), error) {
	cpuDir := filepath.Join(opts.sysRoot, "devices/system/cpu")
	if opts.direct {
		return power.NewSysfsAccessor(cpuDir), power.NewFileAccessAuthorizer(cpuDir), func() {}, nil
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to the system bus, use -direct as root: %w", err)
	}
	client := helper.NewClient(conn)
	return client, client, func() { conn.Close() }, nil
}

func main() {
	opts := parseFlags()
	setupLogging(opts.verbosity)
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "cpupower:", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	cfg, err := config.Load(config.DefaultPaths())
	if err != nil {
		return err
	}
	accessor, authorizer, disconnect, err := connect(opts)
	if err != nil {
		return err
	}
	defer disconnect()

	host, err := power.CreateInstance(accessor, authorizer)
	if host == nil {
		return fmt.Errorf("cpu frequency scaling unavailable: %w", err)
	}
	if err != nil {
		logrus.WithError(err).Debug("some features are unsupported")
	}

	store := power.NewProfileStore(accessor, cfg.Paths().SystemProfileDir(), cfg.Paths().UserProfileDir())
	if err := store.Load(); err != nil {
		logrus.WithError(err).Warn("some profiles could not be loaded")
	}

	switch {
	case opts.list:
		return listProfiles(store, cfg.DefaultProfile())
	case opts.deleteProfile != "":
		return store.Delete(opts.deleteProfile)
	case opts.saveProfile != "":
		profile, err := store.Create(opts.saveProfile, power.ProfileFromHost(opts.saveProfile, host).Entries)
		if err != nil {
			return err
		}
		fmt.Printf("saved profile %q to %s\n", profile.Name, profile.File)
		return nil
	case opts.performance:
		return report(host.ApplyGovernor(performanceGovernor(host)))
	case opts.balanced:
		return applyProfile(host, store, power.BalancedProfile)
	case opts.profile != "":
		return applyProfile(host, store, opts.profile)
	case opts.applyConfig:
		return applyProfile(host, store, cfg.DefaultProfile())
	case opts.staging():
		return applyStaged(host, opts)
	case opts.watch:
		return watch(opts.sysRoot, host.Cpus())
	}
	return printInfo(os.Stdout, host, opts)
}

func performanceGovernor(host power.Host) string {
	for _, cpu := range host.Cpus() {
		settings, err := host.Load(cpu)
		if err != nil {
			continue
		}
		for _, governor := range settings.Governors() {
			if governor == "performance" {
				return governor
			}
		}
		return "schedutil"
	}
	return "performance"
}

func applyProfile(host power.Host, store *power.ProfileStore, name string) error {
	profile, err := store.Resolve(name)
	if err != nil {
		return err
	}
	return report(host.ApplyProfile(profile))
}

func listProfiles(store *power.ProfileStore, defaultProfile string) error {
	for _, name := range store.Names() {
		profile, _ := store.Get(name)
		kind := "built-in"
		switch {
		case profile.Custom:
			kind = "user"
		case profile.System:
			kind = "system"
		}
		marker := " "
		if name == defaultProfile {
			marker = "*"
		}
		fmt.Printf("%s %-24s %s\n", marker, name, kind)
	}
	return nil
}

func applyStaged(host power.Host, opts *options) error {
	cpus := host.Cpus()
	if opts.cpus != "" {
		requested, err := power.ParseCpuList(opts.cpus)
		if err != nil {
			return err
		}
		cpus = requested
	}
	var online *bool
	if opts.online != "" {
		value := strings.ToLower(opts.online)
		parsed := value == "y" || value == "yes" || value == "1" || value == "true"
		online = &parsed
	}
	for _, cpu := range cpus {
		settings, err := host.Load(cpu)
		if err != nil {
			return err
		}
		settings.Reset()
		if online != nil {
			settings.StageOnline(*online)
		}
		switch {
		case opts.minFreq != 0 && opts.maxFreq != 0:
			settings.StageFrequenciesMHz(opts.minFreq, opts.maxFreq)
		case opts.minFreq != 0:
			settings.StageMinFrequency(power.MHzToKHz(opts.minFreq))
		case opts.maxFreq != 0:
			settings.StageMaxFrequency(power.MHzToKHz(opts.maxFreq))
		}
		if opts.governor != "" {
			if err := settings.StageGovernor(opts.governor); err != nil {
				return err
			}
		}
		if opts.energyPref != "" {
			if err := settings.StageEnergyPref(opts.energyPref); err != nil {
				return err
			}
		}
	}
	return report(host.ApplyAll(cpus))
}

var errApplyFailed = errors.New("some settings were not applied")

func report(results []power.ApplyResult) error {
	failed := false
	for _, result := range results {
		if result.OK() {
			fmt.Println(result.Message())
			continue
		}
		failed = true
		fmt.Fprintf(os.Stderr, "%s (code %d)\n", result.Message(), result.Code())
		if result.Err != nil {
			logrus.WithError(result.Err).WithField("cpu", result.Cpu).Debug("apply failure causes")
		}
	}
	if failed {
		return errApplyFailed
	}
	return nil
}

func watch(sysRoot string, cpus power.CpuList) error {
	monitor, err := power.NewMonitor(sysRoot, power.DefaultMonitorInterval)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = monitor.Run(ctx, func(m *power.Monitor) {
		fields := make([]string, 0, len(cpus))
		for _, cpu := range cpus {
			if freq, ok := m.Current(cpu); ok {
				fields = append(fields, fmt.Sprintf("cpu%d %4d MHz", cpu, power.KHzToMHz(freq)))
			}
		}
		fmt.Println(strings.Join(fields, "  "))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
