package power

// collection of Scaling Driver specific functions and methods

import (
	"fmt"
	"os"
	"strings"
)

const (
	presentFile   = "present"
	onlineFile    = "online"
	cpuOnlineFile = "online"

	scalingDrvFile = "cpufreq/scaling_driver"

	cpuMaxFreqFile = "cpufreq/cpuinfo_max_freq"
	cpuMinFreqFile = "cpufreq/cpuinfo_min_freq"
	scalingMaxFile = "cpufreq/scaling_max_freq"
	scalingMinFile = "cpufreq/scaling_min_freq"
	availFreqsFile = "cpufreq/scaling_available_frequencies"

	scalingGovFile = "cpufreq/scaling_governor"
	availGovFile   = "cpufreq/scaling_available_governors"
	eppFile        = "cpufreq/energy_performance_preference"
	availEppFile   = "cpufreq/energy_performance_available_preferences"

	cpuPolicyPerformance  = "performance"
	cpuPolicyPowersave    = "powersave"
	cpuPolicyUserspace    = "userspace"
	cpuPolicyOndemand     = "ondemand"
	cpuPolicySchedutil    = "schedutil"
	cpuPolicyConservative = "conservative"

	eppPerformance = "performance"
)

func initScalingDriver(accessor Accessor) featureStatus {
	pStates := featureStatus{
		name:     "Frequency-Scaling",
		initFunc: initScalingDriver,
	}
	cpus := accessor.AvailableCpus()
	if len(cpus) == 0 {
		pStates.err = fmt.Errorf("%s - no cpu exposes frequency limits and governors", pStates.name)
		return pStates
	}
	pStates.driver = accessor.ScalingDriver(cpus[0])
	if pStates.driver == "" {
		pStates.err = fmt.Errorf("%s - failed to determine driver", pStates.name)
	}
	return pStates
}

func initEpp(accessor Accessor) featureStatus {
	epp := featureStatus{
		name:     "Energy-Performance-Preference",
		initFunc: initEpp,
	}
	cpus := accessor.AvailableCpus()
	if len(cpus) == 0 || !accessor.EnergyPrefAvailable(cpus[0]) {
		epp.err = fmt.Errorf("EPP file %s does not exist", availEppFile)
		return epp
	}
	epp.driver = accessor.ScalingDriver(cpus[0])
	return epp
}

func initHotplug(accessor Accessor) featureStatus {
	hotplug := featureStatus{
		name:     "CPU-Hotplug",
		driver:   "N/A",
		initFunc: initHotplug,
	}
	for _, cpu := range accessor.PresentCpus() {
		if accessor.AllowedOffline(cpu) {
			return hotplug
		}
	}
	hotplug.err = fmt.Errorf("no cpu can be taken offline")
	return hotplug
}

func (s *sysfsAccessor) SetOnline(cpu uint, online bool) error {
	if !s.PresentCpus().Contains(cpu) {
		return fmt.Errorf("cpu %d is not present", cpu)
	}
	if s.IsOnline(cpu) == online {
		return nil
	}
	value := "0"
	if online {
		value = "1"
	}
	log.Info("setting cpu online state", "cpu", cpu, "online", online)
	return s.writeCpuProperty(cpu, cpuOnlineFile, value)
}

// UpdateFrequencies writes the scaling bounds in an order that never leaves min above max
func (s *sysfsAccessor) UpdateFrequencies(cpu uint, minFreq, maxFreq uint64) error {
	if minFreq > maxFreq {
		return fmt.Errorf("min frequency %d can't be higher than max frequency %d", minFreq, maxFreq)
	}
	current := s.Frequencies(cpu)
	if current.Min == minFreq && current.Max == maxFreq {
		return nil
	}
	writeMin := func() error { return s.writeScalingFreq(cpu, scalingMinFile, minFreq) }
	writeMax := func() error { return s.writeScalingFreq(cpu, scalingMaxFile, maxFreq) }
	order := []func() error{writeMin, writeMax}
	if minFreq > current.Max {
		order = []func() error{writeMax, writeMin}
	}
	for _, write := range order {
		if err := write(); err != nil {
			return fmt.Errorf("failed to set frequencies for cpu %d: %w", cpu, err)
		}
	}
	return nil
}

func (s *sysfsAccessor) UpdateGovernor(cpu uint, governor string) error {
	if governor == "" {
		return fmt.Errorf("governor cannot be empty")
	}
	if s.Governor(cpu) == governor {
		return nil
	}
	if err := s.writeCpuProperty(cpu, scalingGovFile, governor); err != nil {
		return fmt.Errorf("failed to set governor for cpu %d: %w", cpu, err)
	}
	return nil
}

func (s *sysfsAccessor) UpdateEnergyPref(cpu uint, pref string) error {
	if pref == "" {
		return fmt.Errorf("energy preference cannot be empty")
	}
	if s.EnergyPref(cpu) == pref {
		return nil
	}
	if err := s.writeCpuProperty(cpu, eppFile, pref); err != nil {
		return fmt.Errorf("failed to set EPP value for cpu %d: %w", cpu, err)
	}
	return nil
}

func (s *sysfsAccessor) writeScalingFreq(cpu uint, file string, freq uint64) error {
	return s.writeCpuProperty(cpu, file, fmt.Sprint(freq))
}

// sysfs attributes are never created, a missing file is a write error
func (s *sysfsAccessor) writeCpuProperty(cpu uint, file string, value string) error {
	f, err := os.OpenFile(s.cpuPath(cpu, file), os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(strings.TrimSpace(value))
	return err
}
