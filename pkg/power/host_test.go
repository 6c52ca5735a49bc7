package power

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type hostTestsSuite struct {
	suite.Suite
	accessor *fakeAccessor
	host     Host
}

func TestHost(t *testing.T) {
	suite.Run(t, new(hostTestsSuite))
}

func (s *hostTestsSuite) SetupTest() {
	s.accessor = newFakeAccessor(4)
	s.accessor.cpus[3].governors = []string{"powersave"}
	host, err := CreateInstance(s.accessor, AlwaysAuthorized)
	s.Require().NoError(err)
	s.host = host
}

func (s *hostTestsSuite) TestLoadReturnsSessionObject() {
	first, err := s.host.Load(1)
	s.Require().NoError(err)
	second, err := s.host.Load(1)
	s.Require().NoError(err)
	s.Same(first, second)

	_, err = s.host.Load(9)
	s.ErrorIs(err, ErrUnknownCpu)
	s.Equal(s.accessor, s.host.Accessor())
}

func (s *hostTestsSuite) TestApplyRefreshesSettings() {
	settings, err := s.host.Load(2)
	s.Require().NoError(err)
	settings.StageFrequencies(1_200_000, 2_400_000)

	result := s.host.Apply(2)
	s.True(result.OK())
	s.False(settings.Changed())
	s.Equal(uint64(1_200_000), settings.Committed().MinFreq)

	result = s.host.Apply(42)
	s.Equal(Failures(CpuUnavailable), result.Failures)
	s.Equal(-3200, result.Code())
}

func (s *hostTestsSuite) TestApplyKeepsStagedWhenUnauthorized() {
	authorizer := newAuthorizerMock(false)
	host, err := CreateInstance(s.accessor, authorizer)
	s.Require().NoError(err)
	s.False(host.IsAuthorized())

	settings, err := host.Load(0)
	s.Require().NoError(err)
	s.Require().NoError(settings.StageGovernor("performance"))
	result := host.Apply(0)
	s.True(result.Failures.Has(Unauthorized))
	s.True(settings.Changed())
	s.Empty(s.accessor.writes)
}

func (s *hostTestsSuite) TestIsAuthorizedError() {
	authorizer := new(authorizerMock)
	authorizer.On("IsAuthorized").Return(true, fmt.Errorf("polkit unavailable"))
	host, err := CreateInstance(s.accessor, authorizer)
	s.Require().NoError(err)
	s.False(host.IsAuthorized())
	s.True(s.host.IsAuthorized())
}

func (s *hostTestsSuite) TestApplyProfile() {
	profile := &Profile{
		Name: "test",
		Entries: map[uint]ProfileEntry{
			2: {MinFreq: 1_000_000, MaxFreq: 2_000_000, Governor: "performance", Online: false},
			0: {MinFreq: 1_000_000, MaxFreq: 2_000_000, Governor: "performance", Online: true},
			7: {MinFreq: 1_000_000, MaxFreq: 2_000_000, Governor: "performance", Online: true},
		},
	}
	results := s.host.ApplyProfile(profile)
	s.Require().Len(results, 2)
	s.Equal(uint(0), results[0].Cpu)
	s.Equal(uint(2), results[1].Cpu)
	for _, result := range results {
		s.True(result.OK(), result.Message())
	}
	s.Equal([]string{
		"freqs 0 1000000-2000000",
		"governor 0 performance",
		"epp 0 performance",
		"online 2 false",
	}, s.accessor.writes)
	s.False(s.accessor.cpus[2].online)
	s.Nil(s.host.ApplyProfile(nil))
}

func (s *hostTestsSuite) TestApplyGovernor() {
	results := s.host.ApplyGovernor("performance")
	s.Require().Len(results, 4)
	for _, cpu := range []uint{0, 1, 2} {
		s.True(results[cpu].OK())
		s.Equal("performance", s.accessor.cpus[cpu].governor)
		s.Equal("performance", s.accessor.cpus[cpu].pref)
	}
	s.Equal(Failures(GovernorUnavailable), results[3].Failures)
	s.Equal("powersave", s.accessor.cpus[3].governor)
}

func (s *hostTestsSuite) TestApplyAll() {
	for _, cpu := range []uint{1, 3} {
		settings, err := s.host.Load(cpu)
		s.Require().NoError(err)
		settings.StageMaxFrequency(3_000_000)
	}
	results := s.host.ApplyAll(CpuList{3, 1})
	s.Require().Len(results, 2)
	s.Equal(uint(1), results[0].Cpu)
	s.Equal(uint(3), results[1].Cpu)
	s.Equal([]string{"freqs 1 800000-3000000", "freqs 3 800000-3000000"}, s.accessor.writes)
}

func (s *hostTestsSuite) TestRefreshPicksUpNewCpus() {
	s.accessor.cpus[4] = newFakeCpu(4)
	s.accessor.cpus[0].governor = "performance"
	s.host.Refresh()
	s.Equal(CpuList{0, 1, 2, 3, 4}, s.host.Cpus())
	settings, err := s.host.Load(0)
	s.Require().NoError(err)
	s.Equal("performance", settings.Committed().Governor)
}
