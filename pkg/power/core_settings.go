package power

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// FreqStep is the distance kept between the bounds when an edit pushes one past the other
const FreqStep uint64 = 10_000

// Field names one independently applied part of the settings
type Field uint

const (
	FieldFrequencies Field = iota
	FieldGovernor
	FieldOnline
	FieldEnergyPref
)

func (f Field) String() string {
	switch f {
	case FieldFrequencies:
		return "frequencies"
	case FieldGovernor:
		return "governor"
	case FieldOnline:
		return "online"
	case FieldEnergyPref:
		return "energy_preference"
	}
	return fmt.Sprintf("field(%d)", uint(f))
}

// Settings is one full configuration of a cpu, frequencies in kHz.
// EnergyPref is empty when the platform has no energy preference attribute.
type Settings struct {
	MinFreq    uint64
	MaxFreq    uint64
	Governor   string
	Online     bool
	EnergyPref string
}

// CoreSettings holds what the hardware reports for a cpu (committed) next to
// the staged copy a front end edits (pending). It is not safe for concurrent use:
// staging and applying the same cpu must not overlap.
type CoreSettings struct {
	cpu         uint
	accessor    Accessor
	limits      FreqRange
	governors   []string
	energyPrefs []string
	steps       []uint64
	committed   Settings
	pending     Settings
	// the pending energy preference was set by a governor switch, not by the user
	prefFollowsGovernor bool
}

// LoadCoreSettings reads the current state of the cpu, pending starts equal to committed
func LoadCoreSettings(accessor Accessor, cpu uint) *CoreSettings {
	settings := &CoreSettings{
		cpu:      cpu,
		accessor: accessor,
	}
	settings.Refresh()
	return settings
}

// Refresh re-reads committed from the hardware and discards staged edits
func (c *CoreSettings) Refresh() {
	c.limits = c.accessor.HardwareLimits(c.cpu)
	c.governors = c.accessor.Governors(c.cpu)
	c.steps = c.accessor.AvailableFrequencies(c.cpu)
	c.energyPrefs = nil
	freqs := c.accessor.Frequencies(c.cpu)
	c.committed = Settings{
		MinFreq:  freqs.Min,
		MaxFreq:  freqs.Max,
		Governor: c.accessor.Governor(c.cpu),
		Online:   c.accessor.IsOnline(c.cpu),
	}
	if c.accessor.EnergyPrefAvailable(c.cpu) {
		c.energyPrefs = c.accessor.EnergyPrefs(c.cpu)
		c.committed.EnergyPref = c.accessor.EnergyPref(c.cpu)
	}
	c.Reset()
}

// Reset drops staged edits
func (c *CoreSettings) Reset() {
	c.pending = c.committed
	c.prefFollowsGovernor = false
}

func (c *CoreSettings) Cpu() uint {
	return c.cpu
}

func (c *CoreSettings) Committed() Settings {
	return c.committed
}

func (c *CoreSettings) Pending() Settings {
	return c.pending
}

func (c *CoreSettings) HardwareLimits() FreqRange {
	return c.limits
}

// Governors returns the governor names in kernel order, positions match StageGovernorIndex
func (c *CoreSettings) Governors() []string {
	return slices.Clone(c.governors)
}

// EnergyPrefs returns nil when the platform does not support energy preferences
func (c *CoreSettings) EnergyPrefs() []string {
	if c.energyPrefs == nil {
		return nil
	}
	return slices.Clone(c.energyPrefs)
}

func (c *CoreSettings) EnergyPrefSupported() bool {
	return c.energyPrefs != nil
}

func (c *CoreSettings) AvailableFrequencies() []uint64 {
	return slices.Clone(c.steps)
}

func (c *CoreSettings) Changed() bool {
	return c.pending != c.committed
}

func (c *CoreSettings) SettingChanged(field Field) bool {
	switch field {
	case FieldFrequencies:
		return c.pending.MinFreq != c.committed.MinFreq || c.pending.MaxFreq != c.committed.MaxFreq
	case FieldGovernor:
		return c.pending.Governor != c.committed.Governor
	case FieldOnline:
		return c.pending.Online != c.committed.Online
	case FieldEnergyPref:
		return c.pending.EnergyPref != c.committed.EnergyPref
	}
	return false
}

// StageFrequencies stages both bounds. When they cross, the bound that differs from
// the staged value is treated as the edited one and the other is nudged by FreqStep.
func (c *CoreSettings) StageFrequencies(minFreq, maxFreq uint64) {
	minFreq, maxFreq = c.clampToLimits(minFreq), c.clampToLimits(maxFreq)
	if minFreq <= maxFreq {
		c.pending.MinFreq, c.pending.MaxFreq = minFreq, maxFreq
		return
	}
	if minFreq != c.pending.MinFreq {
		c.pending.MinFreq, c.pending.MaxFreq = minFreq, c.raiseAbove(minFreq)
		return
	}
	c.pending.MinFreq, c.pending.MaxFreq = c.lowerBelow(maxFreq), maxFreq
}

// StageMinFrequency edits the lower bound, pushing the upper one if needed
func (c *CoreSettings) StageMinFrequency(minFreq uint64) {
	minFreq = c.clampToLimits(minFreq)
	c.pending.MinFreq = minFreq
	if minFreq > c.pending.MaxFreq {
		c.pending.MaxFreq = c.raiseAbove(minFreq)
	}
}

// StageMaxFrequency edits the upper bound, pushing the lower one if needed
func (c *CoreSettings) StageMaxFrequency(maxFreq uint64) {
	maxFreq = c.clampToLimits(maxFreq)
	c.pending.MaxFreq = maxFreq
	if maxFreq < c.pending.MinFreq {
		c.pending.MinFreq = c.lowerBelow(maxFreq)
	}
}

func (c *CoreSettings) StageFrequenciesMHz(minFreq, maxFreq uint64) {
	c.StageFrequencies(MHzToKHz(minFreq), MHzToKHz(maxFreq))
}

func (c *CoreSettings) clampToLimits(freq uint64) uint64 {
	if c.limits.IsZero() {
		return freq
	}
	if freq < c.limits.Min {
		return c.limits.Min
	}
	if freq > c.limits.Max {
		return c.limits.Max
	}
	return freq
}

func (c *CoreSettings) raiseAbove(minFreq uint64) uint64 {
	maxFreq := minFreq + FreqStep
	if !c.limits.IsZero() && maxFreq > c.limits.Max {
		return c.limits.Max
	}
	return maxFreq
}

func (c *CoreSettings) lowerBelow(maxFreq uint64) uint64 {
	floor := c.limits.Min
	if maxFreq < floor+FreqStep {
		if c.limits.IsZero() {
			return 0
		}
		return floor
	}
	return maxFreq - FreqStep
}

// StageGovernor stages a governor by name, the name must be one the kernel reports
func (c *CoreSettings) StageGovernor(governor string) error {
	if len(c.governors) > 0 && !slices.Contains(c.governors, governor) {
		return fmt.Errorf("governor %q not available on cpu %d, available: %v", governor, c.cpu, c.governors)
	}
	c.setGovernor(governor)
	return nil
}

// setGovernor stages the governor. The performance governor only runs with the
// performance energy preference, so switching to it stages that preference too
// unless the user picked one explicitly; switching away drops it again.
func (c *CoreSettings) setGovernor(governor string) {
	c.pending.Governor = governor
	if !c.EnergyPrefSupported() {
		return
	}
	if governor == cpuPolicyPerformance {
		if c.pending.EnergyPref == c.committed.EnergyPref && c.pending.EnergyPref != eppPerformance &&
			slices.Contains(c.energyPrefs, eppPerformance) {
			c.pending.EnergyPref = eppPerformance
			c.prefFollowsGovernor = true
		}
		return
	}
	if c.prefFollowsGovernor {
		c.pending.EnergyPref = c.committed.EnergyPref
		c.prefFollowsGovernor = false
	}
}

// EnergyPrefCompatible reports whether the pending governor and energy preference may
// coexist: the performance governor requires the performance preference
func (c *CoreSettings) EnergyPrefCompatible() bool {
	if !c.EnergyPrefSupported() {
		return true
	}
	return c.pending.Governor != cpuPolicyPerformance || c.pending.EnergyPref == eppPerformance
}

// StageGovernorIndex stages the governor at the given position of Governors()
func (c *CoreSettings) StageGovernorIndex(index int) error {
	if index < 0 || index >= len(c.governors) {
		return fmt.Errorf("governor index %d out of range on cpu %d", index, c.cpu)
	}
	c.setGovernor(c.governors[index])
	return nil
}

// GovernorIndex returns the position of the pending governor, -1 if unknown
func (c *CoreSettings) GovernorIndex() int {
	return slices.Index(c.governors, c.pending.Governor)
}

func (c *CoreSettings) StageOnline(online bool) {
	c.pending.Online = online
}

func (c *CoreSettings) StageEnergyPref(pref string) error {
	if !c.EnergyPrefSupported() {
		return fmt.Errorf("energy preference not supported on cpu %d", c.cpu)
	}
	if !slices.Contains(c.energyPrefs, pref) {
		return fmt.Errorf("energy preference %q not available on cpu %d, available: %v", pref, c.cpu, c.energyPrefs)
	}
	c.pending.EnergyPref = pref
	c.prefFollowsGovernor = false
	return nil
}

func (c *CoreSettings) StageEnergyPrefIndex(index int) error {
	if !c.EnergyPrefSupported() {
		return fmt.Errorf("energy preference not supported on cpu %d", c.cpu)
	}
	if index < 0 || index >= len(c.energyPrefs) {
		return fmt.Errorf("energy preference index %d out of range on cpu %d", index, c.cpu)
	}
	c.pending.EnergyPref = c.energyPrefs[index]
	c.prefFollowsGovernor = false
	return nil
}

// EnergyPrefIndex returns -1 when unsupported or unknown
func (c *CoreSettings) EnergyPrefIndex() int {
	if !c.EnergyPrefSupported() {
		return -1
	}
	return slices.Index(c.energyPrefs, c.pending.EnergyPref)
}

// FrequenciesMHz returns the pending bounds for display
func (c *CoreSettings) FrequenciesMHz() (uint64, uint64) {
	return KHzToMHz(c.pending.MinFreq), KHzToMHz(c.pending.MaxFreq)
}

func (c *CoreSettings) HardwareLimitsMHz() (uint64, uint64) {
	return KHzToMHz(c.limits.Min), KHzToMHz(c.limits.Max)
}

func (c *CoreSettings) String() string {
	minFreq, maxFreq := c.FrequenciesMHz()
	return fmt.Sprintf("Cpu: %d\nFreqs: %d-%d MHz\nGovernor: %s\n", c.cpu, minFreq, maxFreq, c.pending.Governor)
}

func KHzToMHz(freq uint64) uint64 {
	return freq / 1000
}

func MHzToKHz(freq uint64) uint64 {
	return freq * 1000
}

func KHzToGHz(freq uint64) float64 {
	return float64(freq) / 1e6
}
