package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	psutil "github.com/shirou/gopsutil/v4/cpu"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/rnd2/cpupower-gui/pkg/power"
)

type cpuInfo struct {
	Cpu          uint     `yaml:"cpu"`
	Online       bool     `yaml:"online"`
	Governor     string   `yaml:"governor"`
	Governors    []string `yaml:"governors,flow"`
	MinMHz       uint64   `yaml:"min_mhz"`
	MaxMHz       uint64   `yaml:"max_mhz"`
	HwMinMHz     uint64   `yaml:"hw_min_mhz"`
	HwMaxMHz     uint64   `yaml:"hw_max_mhz"`
	CurrentMHz   uint64   `yaml:"current_mhz,omitempty"`
	EnergyPref   string   `yaml:"energy_pref,omitempty"`
	EnergyPrefs  []string `yaml:"energy_prefs,flow,omitempty"`
	OfflineAllow bool     `yaml:"offline_allowed"`
}

type hostInfo struct {
	Model      string    `yaml:"model,omitempty"`
	Driver     string    `yaml:"driver,omitempty"`
	Authorized bool      `yaml:"authorized"`
	Features   []string  `yaml:"features"`
	Cpus       []cpuInfo `yaml:"cpus"`
}

func collectInfo(host power.Host, sysRoot string) hostInfo {
	info := hostInfo{Authorized: host.IsAuthorized(), Features: []string{}}
	if stats, err := psutil.Info(); err == nil && len(stats) > 0 {
		info.Model = stats[0].ModelName
	} else if err != nil {
		logrus.WithError(err).Debug("cpu model unavailable")
	}
	features := host.GetFeaturesInfo()
	for _, feature := range features {
		if feature.FeatureError() == nil {
			info.Features = append(info.Features, feature.Name())
		}
	}
	slices.Sort(info.Features)
	if scaling, ok := features[power.FrequencyScalingFeature]; ok {
		info.Driver = scaling.Driver()
	}

	monitor, err := power.NewMonitor(sysRoot, power.DefaultMonitorInterval)
	if err == nil {
		err = monitor.Sample()
	}
	if err != nil {
		logrus.WithError(err).Debug("current frequencies unavailable")
		monitor = nil
	}

	accessor := host.Accessor()
	for _, cpu := range host.Cpus() {
		settings, err := host.Load(cpu)
		if err != nil {
			continue
		}
		committed := settings.Committed()
		limits := settings.HardwareLimits()
		entry := cpuInfo{
			Cpu:          cpu,
			Online:       committed.Online,
			Governor:     committed.Governor,
			Governors:    settings.Governors(),
			MinMHz:       power.KHzToMHz(committed.MinFreq),
			MaxMHz:       power.KHzToMHz(committed.MaxFreq),
			HwMinMHz:     power.KHzToMHz(limits.Min),
			HwMaxMHz:     power.KHzToMHz(limits.Max),
			EnergyPref:   committed.EnergyPref,
			EnergyPrefs:  settings.EnergyPrefs(),
			OfflineAllow: accessor.AllowedOffline(cpu),
		}
		if monitor != nil {
			if freq, ok := monitor.Current(cpu); ok {
				entry.CurrentMHz = power.KHzToMHz(freq)
			}
		}
		info.Cpus = append(info.Cpus, entry)
	}
	return info
}

func printInfo(w io.Writer, host power.Host, opts *options) error {
	info := collectInfo(host, opts.sysRoot)
	switch opts.format {
	case "yaml":
		return writeYaml(w, info)
	case "text", "":
		return printText(w, info)
	}
	return fmt.Errorf("unknown format %q", opts.format)
}

func writeYaml(w io.Writer, info hostInfo) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(info); err != nil {
		encoder.Close()
		return err
	}
	return encoder.Close()
}

func printText(w io.Writer, info hostInfo) error {
	if info.Model != "" {
		fmt.Fprintf(w, "Model:  %s\n", info.Model)
	}
	fmt.Fprintf(w, "Driver: %s\n", info.Driver)
	fmt.Fprintf(w, "Authorized: %t\n\n", info.Authorized)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CPU\tONLINE\tGOVERNOR\tMIN\tMAX\tLIMITS\tCURRENT\tEPP")
	for _, cpu := range info.Cpus {
		online := "n"
		if cpu.Online {
			online = "y"
		}
		current := "-"
		if cpu.CurrentMHz != 0 {
			current = fmt.Sprint(cpu.CurrentMHz)
		}
		epp := cpu.EnergyPref
		if epp == "" {
			epp = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d-%d\t%s\t%s\n",
			cpu.Cpu, online, cpu.Governor, cpu.MinMHz, cpu.MaxMHz, cpu.HwMinMHz, cpu.HwMaxMHz, current, epp)
	}
	return tw.Flush()
}
