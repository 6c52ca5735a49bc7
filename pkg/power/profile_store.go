package power

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const ProfileExtension = ".profile"

var (
	ErrUnknownProfile  = errors.New("profile not found")
	ErrReadOnlyProfile = errors.New("profile is read-only")
)

// ProfileStore merges built-in, system and user profiles. A user profile shadows a
// system profile of the same name, which in turn shadows a built-in one.
type ProfileStore struct {
	accessor  Accessor
	systemDir string
	userDir   string

	mutex    sync.RWMutex
	profiles map[string]*Profile
}

func NewProfileStore(accessor Accessor, systemDir, userDir string) *ProfileStore {
	return &ProfileStore{
		accessor:  accessor,
		systemDir: systemDir,
		userDir:   userDir,
		profiles:  map[string]*Profile{},
	}
}

// Load regenerates the built-in profiles and re-reads both profile directories.
// Files that fail to parse are reported in the returned error; partially parsed
// profiles are still kept.
func (s *ProfileStore) Load() error {
	profiles := map[string]*Profile{}
	for _, profile := range BuiltinProfiles(s.accessor) {
		profiles[profile.Name] = profile
	}
	var loadErrors *multierror.Error
	for _, dir := range []struct {
		path   string
		system bool
	}{{s.systemDir, true}, {s.userDir, false}} {
		if dir.path == "" {
			continue
		}
		loaded, err := s.loadDir(dir.path, dir.system)
		if err != nil {
			loadErrors = multierror.Append(loadErrors, err)
		}
		for _, profile := range loaded {
			profiles[profile.Name] = profile
		}
	}

	s.mutex.Lock()
	s.profiles = profiles
	s.mutex.Unlock()
	log.V(1).Info("profiles loaded", "count", len(profiles))
	return loadErrors.ErrorOrNil()
}

func (s *ProfileStore) loadDir(dir string, system bool) ([]*Profile, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*"+ProfileExtension))
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	var loadErrors *multierror.Error
	profiles := []*Profile{}
	for _, file := range files {
		profile, err := s.loadFile(file)
		if err != nil {
			loadErrors = multierror.Append(loadErrors, fmt.Errorf("%s: %w", file, err))
		}
		if profile == nil {
			continue
		}
		profile.System = system
		profile.Custom = !system
		profile.File = file
		profiles = append(profiles, profile)
	}
	return profiles, loadErrors.ErrorOrNil()
}

func (s *ProfileStore) loadFile(file string) (*Profile, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	name := strings.TrimSuffix(filepath.Base(file), ProfileExtension)
	return ParseProfile(f, name, s.accessor)
}

func (s *ProfileStore) Get(name string) (*Profile, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	profile, ok := s.profiles[name]
	return profile, ok
}

// Names returns every known profile name in sorted order
func (s *ProfileStore) Names() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	names := maps.Keys(s.profiles)
	slices.Sort(names)
	return names
}

// Create stores a user profile and writes it to the user directory right away
func (s *ProfileStore) Create(name string, entries map[uint]ProfileEntry) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid profile name %q", name)
	}
	if s.userDir == "" {
		return nil, fmt.Errorf("no user profile directory configured")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if existing, ok := s.profiles[name]; ok && !existing.Custom {
		return nil, fmt.Errorf("profile %q: %w", name, ErrReadOnlyProfile)
	}

	profile := &Profile{
		Name:    name,
		Custom:  true,
		File:    filepath.Join(s.userDir, name+ProfileExtension),
		Entries: maps.Clone(entries),
	}
	if err := os.MkdirAll(s.userDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	if err := os.WriteFile(profile.File, []byte(profile.String()), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write profile %q: %w", name, err)
	}
	s.profiles[name] = profile
	log.Info("profile saved", "name", name, "file", profile.File)
	return profile, nil
}

// Delete removes a user profile together with its file
func (s *ProfileStore) Delete(name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	profile, ok := s.profiles[name]
	if !ok {
		return fmt.Errorf("profile %q: %w", name, ErrUnknownProfile)
	}
	if !profile.Custom {
		return fmt.Errorf("profile %q: %w", name, ErrReadOnlyProfile)
	}
	if err := os.Remove(profile.File); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete profile %q: %w", name, err)
	}
	delete(s.profiles, name)
	log.Info("profile deleted", "name", name)
	return nil
}

// Resolve returns a copy of the named profile fitted to the current hardware:
// unavailable cpus are dropped, frequencies are clipped to the hardware limits and
// governors the cpu lacks are replaced with its first governor
func (s *ProfileStore) Resolve(name string) (*Profile, error) {
	profile, ok := s.Get(name)
	if !ok {
		return nil, fmt.Errorf("profile %q: %w", name, ErrUnknownProfile)
	}
	caps := newCpuCapabilities(s.accessor)
	resolved := &Profile{
		Name:    profile.Name,
		Custom:  profile.Custom,
		System:  profile.System,
		File:    profile.File,
		Entries: map[uint]ProfileEntry{},
	}
	for cpu, entry := range profile.Entries {
		if !caps.available.Contains(cpu) {
			continue
		}
		limits := caps.hardwareLimits(cpu)
		if !limits.IsZero() {
			entry.MinFreq = clip(entry.MinFreq, limits)
			entry.MaxFreq = clip(entry.MaxFreq, limits)
			if entry.MinFreq > entry.MaxFreq {
				entry.MinFreq = entry.MaxFreq
			}
		}
		entry.Governor = parseGovernor(caps.cpuGovernors(cpu), entry.Governor)
		resolved.Entries[cpu] = entry
	}
	return resolved, nil
}

func clip(freq uint64, limits FreqRange) uint64 {
	if freq < limits.Min {
		return limits.Min
	}
	if freq > limits.Max {
		return limits.Max
	}
	return freq
}

// ProfileFromHost captures the committed settings of every cpu of the host
func ProfileFromHost(name string, host Host) *Profile {
	profile := &Profile{Name: name, Custom: true, Entries: map[uint]ProfileEntry{}}
	for _, cpu := range host.Cpus() {
		settings, err := host.Load(cpu)
		if err != nil {
			continue
		}
		committed := settings.Committed()
		profile.Entries[cpu] = ProfileEntry{
			MinFreq:  committed.MinFreq,
			MaxFreq:  committed.MaxFreq,
			Governor: committed.Governor,
			Online:   committed.Online,
		}
	}
	return profile
}
