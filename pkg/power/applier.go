package power

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// Applier commits staged cpu settings to the hardware
type Applier struct {
	accessor   Accessor
	authorizer Authorizer

	locksMutex sync.Mutex
	locks      map[uint]*sync.Mutex
}

func NewApplier(accessor Accessor, authorizer Authorizer) *Applier {
	return &Applier{
		accessor:   accessor,
		authorizer: authorizer,
		locks:      map[uint]*sync.Mutex{},
	}
}

func (a *Applier) cpuMutex(cpu uint) *sync.Mutex {
	a.locksMutex.Lock()
	defer a.locksMutex.Unlock()
	mutex, ok := a.locks[cpu]
	if !ok {
		mutex = &sync.Mutex{}
		a.locks[cpu] = mutex
	}
	return mutex
}

// Apply writes every changed part of the pending settings. The online state goes first,
// frequencies, governor and energy preference are only written to a cpu that ends up online.
// Validation failures reject the offending part only; an online failure stops the apply.
func (a *Applier) Apply(settings *CoreSettings) ApplyResult {
	result := ApplyResult{Cpu: settings.Cpu()}

	authorized, err := a.authorizer.IsAuthorized()
	if err != nil || !authorized {
		if err == nil {
			err = fmt.Errorf("caller is not authorized")
		}
		log.Info("apply rejected", "cpu", settings.Cpu(), "reason", err.Error())
		result.fail(Unauthorized, err)
		return result
	}

	mutex := a.cpuMutex(settings.Cpu())
	log.V(4).Info("mutex locking cpu", "cpu", settings.Cpu())
	mutex.Lock()
	defer func() {
		log.V(4).Info("mutex unlocking cpu", "cpu", settings.Cpu())
		mutex.Unlock()
	}()

	online, ok := a.applyOnline(settings, &result)
	if !ok || !online {
		return result
	}
	a.applyFrequencies(settings, &result)
	a.applyPolicy(settings, &result)

	if result.OK() {
		log.Info("settings applied", "cpu", settings.Cpu())
	} else {
		log.Info("settings partially applied", "cpu", settings.Cpu(), "code", result.Code(), "failures", result.Message())
	}
	return result
}

// applyOnline returns the resulting online state and false when the transition failed
func (a *Applier) applyOnline(settings *CoreSettings, result *ApplyResult) (bool, bool) {
	cpu := settings.Cpu()
	target := settings.Pending().Online
	actual := a.accessor.IsOnline(cpu)
	if target == actual {
		return actual, true
	}
	if !target {
		if !a.accessor.AllowedOffline(cpu) {
			log.V(1).Info("cpu cannot be taken offline, skipping", "cpu", cpu)
			return actual, true
		}
		if err := a.accessor.SetOnline(cpu, false); err != nil {
			result.fail(OnlineFailed, fmt.Errorf("cpu %d offline: %w", cpu, err))
			return actual, false
		}
		return false, true
	}

	if err := a.accessor.SetOnline(cpu, true); err != nil {
		result.fail(OnlineFailed, fmt.Errorf("cpu %d online: %w", cpu, err))
		return actual, false
	}
	// attributes of a freshly onlined cpu only become meaningful now, re-read them
	// and carry over the parts that were staged
	staged := settings.Pending()
	restage := map[Field]bool{}
	for _, field := range []Field{FieldFrequencies, FieldGovernor, FieldEnergyPref} {
		restage[field] = settings.SettingChanged(field)
	}
	settings.Refresh()
	if restage[FieldFrequencies] {
		settings.pending.MinFreq, settings.pending.MaxFreq = staged.MinFreq, staged.MaxFreq
	}
	if restage[FieldGovernor] {
		settings.pending.Governor = staged.Governor
	}
	if restage[FieldEnergyPref] && settings.EnergyPrefSupported() {
		settings.pending.EnergyPref = staged.EnergyPref
	}
	return true, true
}

func (a *Applier) applyFrequencies(settings *CoreSettings, result *ApplyResult) {
	if !settings.SettingChanged(FieldFrequencies) {
		return
	}
	cpu := settings.Cpu()
	pending := settings.Pending()
	limits := settings.HardwareLimits()
	if pending.MinFreq > pending.MaxFreq ||
		(!limits.IsZero() && (!limits.Contains(pending.MinFreq) || !limits.Contains(pending.MaxFreq))) {
		result.fail(FrequencyOutOfRange, fmt.Errorf("cpu %d: frequencies %d-%d kHz outside %d-%d kHz",
			cpu, pending.MinFreq, pending.MaxFreq, limits.Min, limits.Max))
		return
	}
	if err := a.accessor.UpdateFrequencies(cpu, pending.MinFreq, pending.MaxFreq); err != nil {
		result.fail(FrequencyFailed, err)
	}
}

// applyPolicy writes the governor and then the energy preference. A pending pair the
// kernel would reject is caught before either write.
func (a *Applier) applyPolicy(settings *CoreSettings, result *ApplyResult) {
	governorChanged := settings.SettingChanged(FieldGovernor)
	prefChanged := settings.EnergyPrefSupported() && settings.SettingChanged(FieldEnergyPref)
	if !governorChanged && !prefChanged {
		return
	}
	cpu := settings.Cpu()
	pending := settings.Pending()
	if !settings.EnergyPrefCompatible() {
		result.fail(IncompatibleEnergyPref, fmt.Errorf("cpu %d: energy preference %q with %q governor",
			cpu, pending.EnergyPref, pending.Governor))
		return
	}
	if governorChanged {
		a.applyGovernor(cpu, pending.Governor, settings.governors, result)
	}
	if prefChanged {
		if err := a.accessor.UpdateEnergyPref(cpu, pending.EnergyPref); err != nil {
			result.fail(EnergyPrefFailed, err)
		}
	}
}

func (a *Applier) applyGovernor(cpu uint, governor string, available []string, result *ApplyResult) {
	if governor == "" || !slices.Contains(available, governor) {
		result.fail(GovernorUnavailable, fmt.Errorf("cpu %d: governor %q not in %v", cpu, governor, available))
		return
	}
	if err := a.accessor.UpdateGovernor(cpu, governor); err != nil {
		result.fail(GovernorFailed, err)
	}
}

// ApplyAll applies every given settings object in increasing cpu order. A failure on
// one cpu does not roll back the others.
func (a *Applier) ApplyAll(settings []*CoreSettings) []ApplyResult {
	ordered := slices.Clone(settings)
	slices.SortFunc(ordered, func(x, y *CoreSettings) bool { return x.Cpu() < y.Cpu() })
	results := make([]ApplyResult, 0, len(ordered))
	for _, s := range ordered {
		results = append(results, a.Apply(s))
	}
	return results
}
