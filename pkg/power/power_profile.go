package power

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	profileNameDirective = "name:"
	freqPlaceholder      = "-"
	BalancedProfile      = "Balanced"
)

var onlineTokens = []string{"yes", "y", "1", "true"}

// ProfileEntry is the target configuration of one cpu, frequencies in kHz
type ProfileEntry struct {
	MinFreq  uint64
	MaxFreq  uint64
	Governor string
	Online   bool
}

// Profile is a named target configuration for some or all cpus.
// Custom profiles belong to the user, System profiles are shared and read-only,
// profiles with neither flag are generated from the hardware every session.
type Profile struct {
	Name    string
	Custom  bool
	System  bool
	File    string
	Entries map[uint]ProfileEntry
}

// Builtin reports profiles synthesized from the hardware
func (p *Profile) Builtin() bool {
	return !p.Custom && !p.System
}

// Cpus returns the cpus the profile configures in ascending order
func (p *Profile) Cpus() CpuList {
	return CpuList(maps.Keys(p.Entries)).Sorted()
}

// cpuCapabilities caches what the parser needs from the accessor
type cpuCapabilities struct {
	accessor  Accessor
	available CpuList
	limits    map[uint]FreqRange
	governors map[uint][]string
}

func newCpuCapabilities(accessor Accessor) *cpuCapabilities {
	return &cpuCapabilities{
		accessor:  accessor,
		available: accessor.AvailableCpus(),
		limits:    map[uint]FreqRange{},
		governors: map[uint][]string{},
	}
}

func (c *cpuCapabilities) hardwareLimits(cpu uint) FreqRange {
	if limits, ok := c.limits[cpu]; ok {
		return limits
	}
	c.limits[cpu] = c.accessor.HardwareLimits(cpu)
	return c.limits[cpu]
}

func (c *cpuCapabilities) cpuGovernors(cpu uint) []string {
	if govs, ok := c.governors[cpu]; ok {
		return govs
	}
	c.governors[cpu] = c.accessor.Governors(cpu)
	return c.governors[cpu]
}

// ParseProfile reads a profile from its text form. The first line may name the profile
// ("name: <value>"), otherwise fallbackName is used. Every other non-empty line is
// "<cpus> <min MHz> <max MHz> <governor> [<online>]". Cpus that are not available are
// dropped. Malformed lines are skipped and reported in the returned error next to the
// profile built from the remaining lines.
func ParseProfile(r io.Reader, fallbackName string, accessor Accessor) (*Profile, error) {
	profile := &Profile{
		Name:    fallbackName,
		Entries: map[uint]ProfileEntry{},
	}
	caps := newCpuCapabilities(accessor)
	var parseErrors *multierror.Error

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if lineNo == 1 && strings.Contains(line, profileNameDirective) {
			if name := parseNameDirective(line); name != "" {
				profile.Name = name
			}
			continue
		}
		fields := strings.Fields(stripComment(line))
		if len(fields) == 0 {
			continue
		}
		if err := profile.parseRecord(fields, caps); err != nil {
			parseErrors = multierror.Append(parseErrors, fmt.Errorf("line %d: %w", lineNo, err))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", fallbackName, err)
	}
	if profile.Name == "" {
		return nil, multierror.Append(parseErrors, fmt.Errorf("profile has no name"))
	}
	return profile, parseErrors.ErrorOrNil()
}

func parseNameDirective(line string) string {
	value := line[strings.Index(line, profileNameDirective)+len(profileNameDirective):]
	value = strings.TrimSpace(stripComment(value))
	return strings.Trim(value, `"'`)
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		return line[:i]
	}
	return line
}

func (p *Profile) parseRecord(fields []string, caps *cpuCapabilities) error {
	if len(fields) < 4 || len(fields) > 5 {
		return fmt.Errorf("expected '<cpus> <min> <max> <governor> [<online>]', got %d fields", len(fields))
	}
	cpus, err := ParseCpuList(fields[0])
	if err != nil {
		return err
	}
	online := "y"
	if len(fields) == 5 {
		online = fields[4]
	}
	for _, cpu := range cpus {
		if !caps.available.Contains(cpu) {
			log.V(1).Info("profile cpu not available, skipping", "profile", p.Name, "cpu", cpu)
			continue
		}
		minFreq, maxFreq, err := parseFreqs(caps.hardwareLimits(cpu), fields[1], fields[2])
		if err != nil {
			return err
		}
		p.Entries[cpu] = ProfileEntry{
			MinFreq:  minFreq,
			MaxFreq:  maxFreq,
			Governor: parseGovernor(caps.cpuGovernors(cpu), fields[3]),
			Online:   parseOnline(online),
		}
	}
	return nil
}

// parseFreqs turns MHz values into kHz, non-numeric tokens select the hardware limit
func parseFreqs(limits FreqRange, fmin, fmax string) (uint64, uint64, error) {
	minFreq, err := parseFreq(fmin, limits.Min)
	if err != nil {
		return 0, 0, err
	}
	maxFreq, err := parseFreq(fmax, limits.Max)
	if err != nil {
		return 0, 0, err
	}
	return minFreq, maxFreq, nil
}

func parseFreq(token string, hwLimit uint64) (uint64, error) {
	if !isNumeric(token) {
		return hwLimit, nil
	}
	value, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", token, err)
	}
	if value > math.MaxUint64/1000 {
		return 0, fmt.Errorf("invalid frequency %q: out of range", token)
	}
	return MHzToKHz(value), nil
}

func isNumeric(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseGovernor keeps the governor if the cpu has it, otherwise falls back to the first one
func parseGovernor(governors []string, governor string) string {
	if len(governors) == 0 {
		return ""
	}
	if slices.Contains(governors, governor) {
		return governor
	}
	return governors[0]
}

func parseOnline(value string) bool {
	return slices.Contains(onlineTokens, strings.ToLower(value))
}

// WriteTo serializes the profile, one line per cpu with MHz values
func (p *Profile) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", profileNameDirective, p.Name)
	for _, cpu := range p.Cpus() {
		entry := p.Entries[cpu]
		online := "n"
		if entry.Online {
			online = "y"
		}
		governor := entry.Governor
		if governor == "" {
			governor = freqPlaceholder
		}
		fmt.Fprintf(&b, "%d\t%d\t%d\t%s\t%s\n", cpu, KHzToMHz(entry.MinFreq), KHzToMHz(entry.MaxFreq), governor, online)
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func (p *Profile) String() string {
	var b strings.Builder
	_, _ = p.WriteTo(&b)
	return b.String()
}

// BuiltinProfiles synthesizes one profile per governor of the first available cpu,
// named after the capitalized governor, plus a Balanced profile. Every profile keeps
// the cpus at their hardware limits.
func BuiltinProfiles(accessor Accessor) []*Profile {
	caps := newCpuCapabilities(accessor)
	if len(caps.available) == 0 {
		return nil
	}
	governors := slices.Compact(slices.Clone(caps.cpuGovernors(caps.available[0])))
	profiles := []*Profile{}
	seen := []string{}
	for _, governor := range governors {
		if slices.Contains(seen, governor) {
			continue
		}
		seen = append(seen, governor)
		profiles = append(profiles, generateProfile(capitalize(governor), governor, caps))
	}
	if governor := balancedGovernor(seen); governor != "" {
		profiles = append(profiles, generateProfile(BalancedProfile, governor, caps))
	}
	return profiles
}

func generateProfile(name, governor string, caps *cpuCapabilities) *Profile {
	profile := &Profile{Name: name, Entries: map[uint]ProfileEntry{}}
	for _, cpu := range caps.available {
		limits := caps.hardwareLimits(cpu)
		profile.Entries[cpu] = ProfileEntry{
			MinFreq:  limits.Min,
			MaxFreq:  limits.Max,
			Governor: parseGovernor(caps.cpuGovernors(cpu), governor),
			Online:   true,
		}
	}
	return profile
}

// balancedGovernor picks schedutil, ondemand, powersave, then the first non-performance governor
func balancedGovernor(governors []string) string {
	for _, preferred := range []string{cpuPolicySchedutil, cpuPolicyOndemand, cpuPolicyPowersave} {
		if slices.Contains(governors, preferred) {
			return preferred
		}
	}
	for _, governor := range governors {
		if governor != cpuPolicyPerformance {
			return governor
		}
	}
	return ""
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
