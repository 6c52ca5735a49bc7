package power

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stretchr/testify/mock"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type fakeCpu struct {
	limits    FreqRange
	freqs     FreqRange
	steps     []uint64
	governors []string
	governor  string
	prefs     []string
	pref      string
	online    bool
	hotplug   bool
	driver    string
}

// fakeAccessor is an in-memory cpu model recording every write it receives
type fakeAccessor struct {
	cpus      map[uint]*fakeCpu
	writes    []string
	failWrite map[string]error
}

func newFakeCpu(cpu uint) *fakeCpu {
	return &fakeCpu{
		limits:    FreqRange{Min: 800_000, Max: 4_000_000},
		freqs:     FreqRange{Min: 800_000, Max: 4_000_000},
		steps:     []uint64{800_000, 2_000_000, 4_000_000},
		governors: []string{"performance", "powersave"},
		governor:  "powersave",
		prefs:     []string{"default", "performance", "balance_performance", "balance_power", "power"},
		pref:      "balance_performance",
		online:    true,
		hotplug:   cpu != 0,
		driver:    "intel_pstate",
	}
}

func newFakeAccessor(numCpus uint) *fakeAccessor {
	fake := &fakeAccessor{cpus: map[uint]*fakeCpu{}, failWrite: map[string]error{}}
	for cpu := uint(0); cpu < numCpus; cpu++ {
		fake.cpus[cpu] = newFakeCpu(cpu)
	}
	return fake
}

func (f *fakeAccessor) record(op string, cpu uint, value interface{}) error {
	f.writes = append(f.writes, fmt.Sprintf("%s %d %v", op, cpu, value))
	return f.failWrite[op]
}

func (f *fakeAccessor) writeOps() []string {
	ops := []string{}
	for _, write := range f.writes {
		ops = append(ops, strings.Fields(write)[0])
	}
	return ops
}

func (f *fakeAccessor) PresentCpus() CpuList {
	return CpuList(maps.Keys(f.cpus)).Sorted()
}

func (f *fakeAccessor) OnlineCpus() CpuList {
	online := CpuList{}
	for _, cpu := range f.PresentCpus() {
		if f.cpus[cpu].online {
			online = append(online, cpu)
		}
	}
	return online
}

func (f *fakeAccessor) OfflineCpus() CpuList {
	return f.PresentCpus().Difference(f.OnlineCpus())
}

func (f *fakeAccessor) AvailableCpus() CpuList {
	return f.PresentCpus()
}

func (f *fakeAccessor) IsOnline(cpu uint) bool {
	c, ok := f.cpus[cpu]
	return ok && c.online
}

func (f *fakeAccessor) AllowedOffline(cpu uint) bool {
	c, ok := f.cpus[cpu]
	return ok && c.hotplug
}

func (f *fakeAccessor) ScalingDriver(cpu uint) string {
	if c, ok := f.cpus[cpu]; ok {
		return c.driver
	}
	return ""
}

func (f *fakeAccessor) HardwareLimits(cpu uint) FreqRange {
	if c, ok := f.cpus[cpu]; ok {
		return c.limits
	}
	return FreqRange{}
}

// offline cpus report no scaling state, like the kernel does
func (f *fakeAccessor) Frequencies(cpu uint) FreqRange {
	if c, ok := f.cpus[cpu]; ok && c.online {
		return c.freqs
	}
	return FreqRange{}
}

func (f *fakeAccessor) AvailableFrequencies(cpu uint) []uint64 {
	if c, ok := f.cpus[cpu]; ok {
		return slices.Clone(c.steps)
	}
	return []uint64{}
}

func (f *fakeAccessor) Governors(cpu uint) []string {
	if c, ok := f.cpus[cpu]; ok {
		return slices.Clone(c.governors)
	}
	return []string{}
}

func (f *fakeAccessor) Governor(cpu uint) string {
	if c, ok := f.cpus[cpu]; ok && c.online {
		return c.governor
	}
	return governorReadError
}

func (f *fakeAccessor) EnergyPrefAvailable(cpu uint) bool {
	c, ok := f.cpus[cpu]
	return ok && c.prefs != nil
}

func (f *fakeAccessor) EnergyPrefs(cpu uint) []string {
	if c, ok := f.cpus[cpu]; ok && c.prefs != nil {
		return slices.Clone(c.prefs)
	}
	return []string{}
}

func (f *fakeAccessor) EnergyPref(cpu uint) string {
	if c, ok := f.cpus[cpu]; ok {
		return c.pref
	}
	return ""
}

func (f *fakeAccessor) SetOnline(cpu uint, online bool) error {
	if err := f.record("online", cpu, online); err != nil {
		return err
	}
	f.cpus[cpu].online = online
	return nil
}

func (f *fakeAccessor) UpdateFrequencies(cpu uint, minFreq, maxFreq uint64) error {
	if err := f.record("freqs", cpu, fmt.Sprintf("%d-%d", minFreq, maxFreq)); err != nil {
		return err
	}
	f.cpus[cpu].freqs = FreqRange{Min: minFreq, Max: maxFreq}
	return nil
}

func (f *fakeAccessor) UpdateGovernor(cpu uint, governor string) error {
	if err := f.record("governor", cpu, governor); err != nil {
		return err
	}
	f.cpus[cpu].governor = governor
	return nil
}

func (f *fakeAccessor) UpdateEnergyPref(cpu uint, pref string) error {
	if err := f.record("epp", cpu, pref); err != nil {
		return err
	}
	f.cpus[cpu].pref = pref
	return nil
}

type authorizerMock struct {
	mock.Mock
}

func (m *authorizerMock) IsAuthorized() (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

func newAuthorizerMock(authorized bool) *authorizerMock {
	m := new(authorizerMock)
	m.On("IsAuthorized").Return(authorized, nil)
	return m
}

// setupCpuScalingTests builds a fake cpu sysfs tree and points basePath at it.
// Every cpuN key becomes a cpu directory; properties without a value are not created.
func setupCpuScalingTests(cpufiles map[string]map[string]string) func() {
	origBasePath := basePath
	dir, err := os.MkdirTemp("", "cpupower-sysfs")
	if err != nil {
		panic(err)
	}
	basePath = dir

	present := CpuList{}
	online := CpuList{}
	for cpuName, cpuDetails := range cpufiles {
		var id uint
		fmt.Sscanf(cpuName, "cpu%d", &id)
		present = append(present, id)
		if cpuDetails["online"] != "0" {
			online = append(online, id)
		}
		cpudir := filepath.Join(basePath, cpuName)
		os.MkdirAll(filepath.Join(cpudir, "cpufreq"), os.ModePerm)
		for prop, value := range cpuDetails {
			switch prop {
			case "driver":
				os.WriteFile(filepath.Join(cpudir, scalingDrvFile), []byte(value+"\n"), 0664)
			case "max":
				os.WriteFile(filepath.Join(cpudir, scalingMaxFile), []byte(value+"\n"), 0644)
				os.WriteFile(filepath.Join(cpudir, cpuMaxFreqFile), []byte(value+"\n"), 0644)
			case "min":
				os.WriteFile(filepath.Join(cpudir, scalingMinFile), []byte(value+"\n"), 0644)
				os.WriteFile(filepath.Join(cpudir, cpuMinFreqFile), []byte(value+"\n"), 0644)
			case "scaling_max":
				os.WriteFile(filepath.Join(cpudir, scalingMaxFile), []byte(value+"\n"), 0644)
			case "scaling_min":
				os.WriteFile(filepath.Join(cpudir, scalingMinFile), []byte(value+"\n"), 0644)
			case "available_freqs":
				os.WriteFile(filepath.Join(cpudir, availFreqsFile), []byte(value+"\n"), 0644)
			case "epp":
				os.WriteFile(filepath.Join(cpudir, eppFile), []byte(value+"\n"), 0644)
			case "available_epp":
				os.WriteFile(filepath.Join(cpudir, availEppFile), []byte(value+"\n"), 0644)
			case "governor":
				os.WriteFile(filepath.Join(cpudir, scalingGovFile), []byte(value+"\n"), 0644)
			case "available_governors":
				os.WriteFile(filepath.Join(cpudir, availGovFile), []byte(value+"\n"), 0644)
			case "online":
				os.WriteFile(filepath.Join(cpudir, cpuOnlineFile), []byte(value+"\n"), 0644)
			}
		}
	}
	os.WriteFile(filepath.Join(basePath, presentFile), []byte(present.String()+"\n"), 0644)
	os.WriteFile(filepath.Join(basePath, onlineFile), []byte(online.String()+"\n"), 0644)
	return func() {
		os.RemoveAll(dir)
		basePath = origBasePath
	}
}

// readCpuFile returns the trimmed content of a file in the fake tree
func readCpuFile(cpu string, file string) string {
	value, _ := readStringFromFile(filepath.Join(basePath, cpu, file))
	return value
}

var _ Accessor = (*fakeAccessor)(nil)
