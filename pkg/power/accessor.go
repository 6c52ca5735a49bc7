package power

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FreqRange is a pair of frequency bounds in kHz
type FreqRange struct {
	Min uint64
	Max uint64
}

// Contains reports whether freq lies inside the inclusive range
func (r FreqRange) Contains(freq uint64) bool {
	return freq >= r.Min && freq <= r.Max
}

// IsZero reports the sentinel returned when the limits could not be read
func (r FreqRange) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

// Accessor reads and writes the per-cpu kernel attributes. Read operations never fail,
// they return empty values ("ERROR" for the governor) that callers detect and report.
// Writes return nil on success and leave the attribute untouched if it already holds the value.
type Accessor interface {
	PresentCpus() CpuList
	OnlineCpus() CpuList
	OfflineCpus() CpuList
	AvailableCpus() CpuList
	IsOnline(cpu uint) bool
	AllowedOffline(cpu uint) bool

	ScalingDriver(cpu uint) string
	HardwareLimits(cpu uint) FreqRange
	Frequencies(cpu uint) FreqRange
	AvailableFrequencies(cpu uint) []uint64
	Governors(cpu uint) []string
	Governor(cpu uint) string
	EnergyPrefAvailable(cpu uint) bool
	EnergyPrefs(cpu uint) []string
	EnergyPref(cpu uint) string

	SetOnline(cpu uint, online bool) error
	UpdateFrequencies(cpu uint, minFreq, maxFreq uint64) error
	UpdateGovernor(cpu uint, governor string) error
	UpdateEnergyPref(cpu uint, pref string) error
}

const governorReadError = "ERROR"

type sysfsAccessor struct {
	basePath string
}

// NewSysfsAccessor returns an accessor operating on the cpu sysfs tree,
// an empty path selects /sys/devices/system/cpu
func NewSysfsAccessor(path string) Accessor {
	if path == "" {
		path = basePath
	}
	return &sysfsAccessor{basePath: path}
}

func (s *sysfsAccessor) cpuPath(cpu uint, file string) string {
	return filepath.Join(s.basePath, fmt.Sprint("cpu", cpu), file)
}

// read property of specific CPU as an uint, takes CPUid and path to specific file within cpu subdirectory in sysfs
func (s *sysfsAccessor) readCpuUintProperty(cpu uint, file string) (uint64, error) {
	return readUintFromFile(s.cpuPath(cpu, file))
}

// reads content of a file and returns it as a string
func (s *sysfsAccessor) readCpuStringProperty(cpu uint, file string) (string, error) {
	value, err := readStringFromFile(s.cpuPath(cpu, file))
	if err != nil {
		return "", fmt.Errorf("failed to read cpu %d string property: %w", cpu, err)
	}
	return value, nil
}

func (s *sysfsAccessor) readCpuListProperty(cpu uint, file string) []string {
	value, err := s.readCpuStringProperty(cpu, file)
	if err != nil {
		log.V(1).Info("attribute unreadable", "cpu", cpu, "file", file, "error", err.Error())
		return []string{}
	}
	return strings.Fields(value)
}

func (s *sysfsAccessor) readCpuList(file string) CpuList {
	value, err := readStringFromFile(filepath.Join(s.basePath, file))
	if err != nil {
		log.V(1).Info("cpu list unreadable", "file", file, "error", err.Error())
		return CpuList{}
	}
	cpus, err := ParseCpuList(value)
	if err != nil {
		log.V(1).Info("cpu list malformed", "file", file, "error", err.Error())
		return CpuList{}
	}
	return cpus
}

func (s *sysfsAccessor) PresentCpus() CpuList {
	return s.readCpuList(presentFile)
}

func (s *sysfsAccessor) OnlineCpus() CpuList {
	return s.readCpuList(onlineFile)
}

func (s *sysfsAccessor) OfflineCpus() CpuList {
	return s.PresentCpus().Difference(s.OnlineCpus())
}

// AvailableCpus returns present cpus exposing hardware limits and governors
func (s *sysfsAccessor) AvailableCpus() CpuList {
	available := CpuList{}
	for _, cpu := range s.PresentCpus() {
		if s.exists(cpu, cpuMinFreqFile) && s.exists(cpu, cpuMaxFreqFile) && s.exists(cpu, availGovFile) {
			available = append(available, cpu)
		}
	}
	return available
}

func (s *sysfsAccessor) exists(cpu uint, file string) bool {
	_, err := os.Stat(s.cpuPath(cpu, file))
	return err == nil
}

func (s *sysfsAccessor) IsOnline(cpu uint) bool {
	return s.PresentCpus().Contains(cpu) && s.OnlineCpus().Contains(cpu)
}

// AllowedOffline reports whether the kernel exposes the hotplug switch for the cpu
func (s *sysfsAccessor) AllowedOffline(cpu uint) bool {
	return s.exists(cpu, cpuOnlineFile)
}

func (s *sysfsAccessor) ScalingDriver(cpu uint) string {
	driver, err := s.readCpuStringProperty(cpu, scalingDrvFile)
	if err != nil {
		log.V(1).Info("scaling driver unreadable", "cpu", cpu, "error", err.Error())
		return ""
	}
	return driver
}

func (s *sysfsAccessor) HardwareLimits(cpu uint) FreqRange {
	minFreq, err := s.readCpuUintProperty(cpu, cpuMinFreqFile)
	if err != nil {
		log.V(1).Info("unknown cpu frequency limits", "cpu", cpu, "error", err.Error())
		return FreqRange{}
	}
	maxFreq, err := s.readCpuUintProperty(cpu, cpuMaxFreqFile)
	if err != nil {
		log.V(1).Info("unknown cpu frequency limits", "cpu", cpu, "error", err.Error())
		return FreqRange{}
	}
	return FreqRange{Min: minFreq, Max: maxFreq}
}

func (s *sysfsAccessor) Frequencies(cpu uint) FreqRange {
	minFreq, err := s.readCpuUintProperty(cpu, scalingMinFile)
	if err != nil {
		log.V(1).Info("scaling frequencies unreadable", "cpu", cpu, "error", err.Error())
		return FreqRange{}
	}
	maxFreq, err := s.readCpuUintProperty(cpu, scalingMaxFile)
	if err != nil {
		log.V(1).Info("scaling frequencies unreadable", "cpu", cpu, "error", err.Error())
		return FreqRange{}
	}
	return FreqRange{Min: minFreq, Max: maxFreq}
}

func (s *sysfsAccessor) AvailableFrequencies(cpu uint) []uint64 {
	steps := []uint64{}
	for _, field := range s.readCpuListProperty(cpu, availFreqsFile) {
		freq, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			log.V(1).Info("malformed frequency step", "cpu", cpu, "value", field)
			continue
		}
		steps = append(steps, freq)
	}
	return steps
}

func (s *sysfsAccessor) Governors(cpu uint) []string {
	return s.readCpuListProperty(cpu, availGovFile)
}

func (s *sysfsAccessor) Governor(cpu uint) string {
	governor, err := s.readCpuStringProperty(cpu, scalingGovFile)
	if err != nil {
		log.V(1).Info("governor unreadable", "cpu", cpu, "error", err.Error())
		return governorReadError
	}
	return governor
}

func (s *sysfsAccessor) EnergyPrefAvailable(cpu uint) bool {
	return s.exists(cpu, availEppFile)
}

func (s *sysfsAccessor) EnergyPrefs(cpu uint) []string {
	return s.readCpuListProperty(cpu, availEppFile)
}

func (s *sysfsAccessor) EnergyPref(cpu uint) string {
	pref, err := s.readCpuStringProperty(cpu, eppFile)
	if err != nil {
		log.V(1).Info("energy preference unreadable", "cpu", cpu, "error", err.Error())
		return ""
	}
	return pref
}
