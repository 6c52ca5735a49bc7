package power

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfile_CoreList(t *testing.T) {
	profile, err := ParseProfile(strings.NewReader("0,2-3\t800\t2000\tpowersave\tn"), "fallback", newFakeAccessor(4))
	require.NoError(t, err)
	assert.Equal(t, "fallback", profile.Name)
	assert.Equal(t, CpuList{0, 2, 3}, profile.Cpus())
	for _, cpu := range []uint{0, 2, 3} {
		assert.Equal(t, ProfileEntry{MinFreq: 800_000, MaxFreq: 2_000_000, Governor: "powersave", Online: false}, profile.Entries[cpu])
	}
	assert.NotContains(t, profile.Entries, uint(1))
}

func TestParseProfile(t *testing.T) {
	text := `name: "Quiet Office"
# cpu  min   max   governor   online
0      -     1600  ondemand              # missing governor falls back
1-2    1200  max   performance  YES
3      900   1800  powersave    0
9      900   1800  powersave
`
	profile, err := ParseProfile(strings.NewReader(text), "quiet", newFakeAccessor(4))
	require.NoError(t, err)
	assert.Equal(t, "Quiet Office", profile.Name)
	assert.Equal(t, ProfileEntry{MinFreq: 800_000, MaxFreq: 1_600_000, Governor: "performance", Online: true}, profile.Entries[0])
	assert.Equal(t, ProfileEntry{MinFreq: 1_200_000, MaxFreq: 4_000_000, Governor: "performance", Online: true}, profile.Entries[1])
	assert.Equal(t, profile.Entries[1], profile.Entries[2])
	assert.Equal(t, ProfileEntry{MinFreq: 900_000, MaxFreq: 1_800_000, Governor: "powersave", Online: false}, profile.Entries[3])
	assert.Len(t, profile.Entries, 4)
}

func TestParseProfile_MalformedLines(t *testing.T) {
	text := "name: broken\n0 800 2000\nx-1 800 2000 powersave\n1 800 2000 powersave y\n2 9x9 2000 powersave\n"
	profile, err := ParseProfile(strings.NewReader(text), "fallback", newFakeAccessor(4))
	require.Error(t, err)
	require.NotNil(t, profile)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
	assert.ErrorContains(t, err, "line 2")
	assert.ErrorContains(t, err, "line 3")

	assert.Equal(t, "broken", profile.Name)
	assert.Equal(t, CpuList{1, 2}, profile.Cpus())
	// non-numeric bounds select the hardware limit
	assert.Equal(t, uint64(800_000), profile.Entries[2].MinFreq)

	_, err = ParseProfile(strings.NewReader("0 800 2000 powersave\n"), "", newFakeAccessor(1))
	assert.ErrorContains(t, err, "no name")
}

func TestParseProfile_OutOfRangeTokens(t *testing.T) {
	text := "name: wide\n0-4294967295\t800\t2000\tpowersave\n1\t18446744073709552\t2000\tpowersave\n2\t800\t2000\tpowersave\n"
	profile, err := ParseProfile(strings.NewReader(text), "fallback", newFakeAccessor(4))
	require.Error(t, err)
	assert.ErrorContains(t, err, "line 2")
	assert.ErrorContains(t, err, "cpu ids stop at")
	assert.ErrorContains(t, err, "line 3")
	assert.ErrorContains(t, err, "out of range")
	assert.Equal(t, CpuList{2}, profile.Cpus())
}

func TestProfile_RoundTrip(t *testing.T) {
	accessor := newFakeAccessor(4)
	text := "name: Round\n0,2-3\t800\t2000\tpowersave\tn\n1\t1234\t3456\tperformance\ty\n"
	profile, err := ParseProfile(strings.NewReader(text), "x", accessor)
	require.NoError(t, err)

	serialized := profile.String()
	assert.True(t, strings.HasPrefix(serialized, "name: Round\n"))
	assert.Contains(t, serialized, "1\t1234\t3456\tperformance\ty\n")

	reparsed, err := ParseProfile(strings.NewReader(serialized), "y", accessor)
	require.NoError(t, err)
	assert.Equal(t, profile.Name, reparsed.Name)
	assert.Equal(t, profile.Entries, reparsed.Entries)
}

func TestBuiltinProfiles(t *testing.T) {
	accessor := newFakeAccessor(2)
	profiles := BuiltinProfiles(accessor)
	require.Len(t, profiles, 3)
	assert.Equal(t, "Performance", profiles[0].Name)
	assert.Equal(t, "Powersave", profiles[1].Name)
	assert.Equal(t, BalancedProfile, profiles[2].Name)
	assert.Equal(t, "powersave", profiles[2].Entries[1].Governor)
	for _, profile := range profiles {
		assert.True(t, profile.Builtin())
		assert.Equal(t, ProfileEntry{MinFreq: 800_000, MaxFreq: 4_000_000, Governor: profile.Entries[0].Governor, Online: true}, profile.Entries[0])
	}

	assert.Nil(t, BuiltinProfiles(newFakeAccessor(0)))
}

func TestBalancedGovernor(t *testing.T) {
	assert.Equal(t, "schedutil", balancedGovernor([]string{"performance", "powersave", "schedutil"}))
	assert.Equal(t, "ondemand", balancedGovernor([]string{"performance", "powersave", "ondemand"}))
	assert.Equal(t, "powersave", balancedGovernor([]string{"performance", "powersave"}))
	assert.Equal(t, "userspace", balancedGovernor([]string{"performance", "userspace"}))
	assert.Equal(t, "", balancedGovernor([]string{"performance"}))
}

func writeProfile(t *testing.T, dir, file, content string) {
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
}

func TestProfileStore(t *testing.T) {
	systemDir := filepath.Join(t.TempDir(), "system")
	userDir := filepath.Join(t.TempDir(), "user")
	writeProfile(t, systemDir, "office.profile", "name: Office\n0-3 1000 2000 powersave\n")
	writeProfile(t, systemDir, "Powersave.profile", "0-3 800 1200 powersave\n")
	writeProfile(t, systemDir, "notes.txt", "not a profile")
	writeProfile(t, userDir, "gaming.profile", "0-3 - - performance\n")

	accessor := newFakeAccessor(4)
	store := NewProfileStore(accessor, systemDir, userDir)
	require.NoError(t, store.Load())
	assert.Equal(t, []string{"Balanced", "Office", "Performance", "Powersave", "gaming"}, store.Names())

	office, ok := store.Get("Office")
	require.True(t, ok)
	assert.True(t, office.System)
	assert.False(t, office.Builtin())

	// system profile shadows the generated one
	powersave, _ := store.Get("Powersave")
	assert.True(t, powersave.System)
	assert.Equal(t, uint64(1_200_000), powersave.Entries[0].MaxFreq)

	gaming, _ := store.Get("gaming")
	assert.True(t, gaming.Custom)
	assert.Equal(t, uint64(4_000_000), gaming.Entries[3].MaxFreq)

	assert.ErrorIs(t, store.Delete("Office"), ErrReadOnlyProfile)
	assert.ErrorIs(t, store.Delete("Balanced"), ErrReadOnlyProfile)
	assert.ErrorIs(t, store.Delete("nope"), ErrUnknownProfile)

	require.NoError(t, store.Delete("gaming"))
	assert.NoFileExists(t, filepath.Join(userDir, "gaming.profile"))
	_, ok = store.Get("gaming")
	assert.False(t, ok)
}

func TestProfileStore_LoadErrors(t *testing.T) {
	userDir := t.TempDir()
	writeProfile(t, userDir, "half.profile", "0 800 2000 powersave\n0 800\n")
	store := NewProfileStore(newFakeAccessor(1), "", userDir)
	err := store.Load()
	assert.ErrorContains(t, err, "half.profile")
	half, ok := store.Get("half")
	require.True(t, ok)
	assert.Len(t, half.Entries, 1)
}

func TestProfileStore_Create(t *testing.T) {
	userDir := filepath.Join(t.TempDir(), "cpupower_gui")
	accessor := newFakeAccessor(2)
	store := NewProfileStore(accessor, "", userDir)
	require.NoError(t, store.Load())

	entries := map[uint]ProfileEntry{
		0: {MinFreq: 1_000_000, MaxFreq: 2_000_000, Governor: "performance", Online: true},
		1: {MinFreq: 1_000_000, MaxFreq: 2_000_000, Governor: "powersave", Online: false},
	}
	profile, err := store.Create("mine", entries)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(userDir, "mine.profile"), profile.File)
	assert.FileExists(t, profile.File)

	// a fresh store sees the written file
	reloaded := NewProfileStore(accessor, "", userDir)
	require.NoError(t, reloaded.Load())
	stored, ok := reloaded.Get("mine")
	require.True(t, ok)
	assert.Equal(t, entries, stored.Entries)

	_, err = store.Create("Performance", entries)
	assert.ErrorIs(t, err, ErrReadOnlyProfile)
	_, err = store.Create("a/b", entries)
	assert.Error(t, err)
	_, err = store.Create("  ", entries)
	assert.Error(t, err)
	_, err = NewProfileStore(accessor, "", "").Create("x", entries)
	assert.Error(t, err)
}

func TestProfileStore_Resolve(t *testing.T) {
	userDir := t.TempDir()
	writeProfile(t, userDir, "wide.profile", "0-1 800 2000 powersave\n")
	accessor := newFakeAccessor(3)
	store := NewProfileStore(accessor, "", userDir)
	require.NoError(t, store.Load())

	// hardware changed after the profile was loaded
	accessor.cpus[0].limits = FreqRange{Min: 1_000_000, Max: 1_500_000}
	accessor.cpus[1].governors = []string{"performance"}
	delete(accessor.cpus, 2)
	wide, _ := store.Get("wide")
	wide.Entries[2] = ProfileEntry{MinFreq: 800_000, MaxFreq: 2_000_000, Governor: "powersave", Online: true}

	resolved, err := store.Resolve("wide")
	require.NoError(t, err)
	assert.Equal(t, ProfileEntry{MinFreq: 1_000_000, MaxFreq: 1_500_000, Governor: "powersave", Online: true}, resolved.Entries[0])
	assert.Equal(t, "performance", resolved.Entries[1].Governor)
	assert.NotContains(t, resolved.Entries, uint(2))

	_, err = store.Resolve("missing")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestProfileFromHost(t *testing.T) {
	accessor := newFakeAccessor(2)
	accessor.cpus[1].online = false
	host, err := CreateInstance(accessor, AlwaysAuthorized)
	require.NotNil(t, host)
	require.NoError(t, err)

	profile := ProfileFromHost("snapshot", host)
	assert.Equal(t, "snapshot", profile.Name)
	assert.True(t, profile.Custom)
	assert.Equal(t, ProfileEntry{MinFreq: 800_000, MaxFreq: 4_000_000, Governor: "powersave", Online: true}, profile.Entries[0])
	assert.False(t, profile.Entries[1].Online)
}
