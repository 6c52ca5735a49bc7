package power

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var ErrUnknownCpu = errors.New("cpu not available")

// The hostImpl is the backing object of Host interface
type hostImpl struct {
	accessor      Accessor
	authorizer    Authorizer
	applier       *Applier
	featureStates FeatureSet

	mutex sync.Mutex
	cores map[uint]*CoreSettings
}

// Host is the session with the machine whose cpus are managed. It owns one
// CoreSettings object per available cpu for as long as the session lives.
// ApplyProfile and ApplyGovernor stage on those objects before applying, callers
// must not stage or apply the same cpu from another goroutine meanwhile.
type Host interface {
	GetFeaturesInfo() FeatureSet
	Accessor() Accessor

	Cpus() CpuList
	Load(cpu uint) (*CoreSettings, error)
	Refresh()

	Apply(cpu uint) ApplyResult
	ApplyAll(cpus CpuList) []ApplyResult
	ApplyProfile(profile *Profile) []ApplyResult
	ApplyGovernor(governor string) []ApplyResult

	IsAuthorized() bool
}

// create a pre-populated Host object
func initHost(accessor Accessor, authorizer Authorizer, features FeatureSet) Host {
	host := &hostImpl{
		accessor:      accessor,
		authorizer:    authorizer,
		applier:       NewApplier(accessor, authorizer),
		featureStates: features,
		cores:         map[uint]*CoreSettings{},
	}
	cpus := accessor.AvailableCpus()
	for _, cpu := range cpus {
		host.cores[cpu] = LoadCoreSettings(accessor, cpu)
	}
	log.Info("discovered cpus", "available", cpus.String(), "online", accessor.OnlineCpus().String())
	return host
}

func (host *hostImpl) GetFeaturesInfo() FeatureSet {
	return host.featureStates
}

func (host *hostImpl) Accessor() Accessor {
	return host.accessor
}

// Cpus returns the ids of the available cpus in ascending order
func (host *hostImpl) Cpus() CpuList {
	host.mutex.Lock()
	defer host.mutex.Unlock()
	ids := CpuList(maps.Keys(host.cores))
	return ids.Sorted()
}

// Load returns the settings object of the cpu, the same object for the whole session
func (host *hostImpl) Load(cpu uint) (*CoreSettings, error) {
	host.mutex.Lock()
	defer host.mutex.Unlock()
	settings, ok := host.cores[cpu]
	if !ok {
		return nil, fmt.Errorf("cpu %d: %w", cpu, ErrUnknownCpu)
	}
	return settings, nil
}

// Refresh re-reads every cpu, picking up cpus that became available
func (host *hostImpl) Refresh() {
	host.mutex.Lock()
	defer host.mutex.Unlock()
	for _, cpu := range host.accessor.AvailableCpus() {
		if settings, ok := host.cores[cpu]; ok {
			settings.Refresh()
			continue
		}
		host.cores[cpu] = LoadCoreSettings(host.accessor, cpu)
	}
}

func (host *hostImpl) Apply(cpu uint) ApplyResult {
	settings, err := host.Load(cpu)
	if err != nil {
		return ApplyResult{Cpu: cpu, Failures: Failures(CpuUnavailable), Err: err}
	}
	result := host.applier.Apply(settings)
	if !result.Failures.Has(Unauthorized) {
		settings.Refresh()
	}
	return result
}

// ApplyAll applies the cpus one after another in increasing order
func (host *hostImpl) ApplyAll(cpus CpuList) []ApplyResult {
	results := make([]ApplyResult, 0, len(cpus))
	for _, cpu := range cpus.Sorted() {
		results = append(results, host.Apply(cpu))
	}
	return results
}

// ApplyProfile stages the profile entries on their cpus and applies them
func (host *hostImpl) ApplyProfile(profile *Profile) []ApplyResult {
	if profile == nil {
		return nil
	}
	log.Info("applying profile", "name", profile.Name)
	cpus := CpuList(maps.Keys(profile.Entries)).Sorted()
	results := make([]ApplyResult, 0, len(cpus))
	for _, cpu := range cpus {
		settings, err := host.Load(cpu)
		if err != nil {
			log.V(1).Info("profile entry for unavailable cpu skipped", "cpu", cpu)
			continue
		}
		entry := profile.Entries[cpu]
		settings.Reset()
		settings.StageOnline(entry.Online)
		if entry.MinFreq != 0 || entry.MaxFreq != 0 {
			settings.StageFrequencies(entry.MinFreq, entry.MaxFreq)
		}
		if entry.Governor != "" {
			// availability is checked by the applier and reported per cpu
			settings.setGovernor(entry.Governor)
		}
		results = append(results, host.Apply(cpu))
	}
	return results
}

// ApplyGovernor sets one governor on every available cpu
func (host *hostImpl) ApplyGovernor(governor string) []ApplyResult {
	cpus := host.Cpus()
	results := make([]ApplyResult, 0, len(cpus))
	for _, cpu := range cpus {
		settings, err := host.Load(cpu)
		if err != nil {
			continue
		}
		settings.Reset()
		if !slices.Contains(settings.governors, governor) {
			results = append(results, ApplyResult{
				Cpu:      cpu,
				Failures: Failures(GovernorUnavailable),
				Err:      fmt.Errorf("cpu %d: governor %q not available", cpu, governor),
			})
			continue
		}
		settings.setGovernor(governor)
		results = append(results, host.Apply(cpu))
	}
	return results
}

func (host *hostImpl) IsAuthorized() bool {
	authorized, err := host.authorizer.IsAuthorized()
	if err != nil {
		log.Error(err, "authorization check failed")
		return false
	}
	return authorized
}
