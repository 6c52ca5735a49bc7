package helper

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rnd2/cpupower-gui/pkg/power"
)

// Server exposes a power.Accessor on the bus. Reads are open to everyone, every
// write is checked against the SenderAuthorizer first.
type Server struct {
	accessor   power.Accessor
	authorizer SenderAuthorizer
}

func NewServer(accessor power.Accessor, authorizer SenderAuthorizer) *Server {
	return &Server{accessor: accessor, authorizer: authorizer}
}

// Export publishes the server object and claims the well-known bus name
func (s *Server) Export(conn *dbus.Conn) error {
	if err := conn.ExportWithMap(s, methodNames, ObjectPath, Interface); err != nil {
		return fmt.Errorf("failed to export %s: %w", ObjectPath, err)
	}
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already taken", BusName)
	}
	log.Info("helper exported", "name", BusName, "path", ObjectPath)
	return nil
}

func toWire(cpus power.CpuList) []uint32 {
	wire := make([]uint32, 0, len(cpus))
	for _, cpu := range cpus {
		wire = append(wire, uint32(cpu))
	}
	return wire
}

func (s *Server) GetCpusPresent() ([]uint32, *dbus.Error) {
	return toWire(s.accessor.PresentCpus()), nil
}

func (s *Server) GetCpusOnline() ([]uint32, *dbus.Error) {
	return toWire(s.accessor.OnlineCpus()), nil
}

func (s *Server) GetCpusOffline() ([]uint32, *dbus.Error) {
	return toWire(s.accessor.OfflineCpus()), nil
}

func (s *Server) GetCpusAvailable() ([]uint32, *dbus.Error) {
	return toWire(s.accessor.AvailableCpus()), nil
}

func (s *Server) CpuAllowedOffline(cpu uint32) (bool, *dbus.Error) {
	return s.accessor.AllowedOffline(uint(cpu)), nil
}

func (s *Server) GetScalingDriver(cpu uint32) (string, *dbus.Error) {
	return s.accessor.ScalingDriver(uint(cpu)), nil
}

func (s *Server) GetCpuLimits(cpu uint32) (uint64, uint64, *dbus.Error) {
	limits := s.accessor.HardwareLimits(uint(cpu))
	return limits.Min, limits.Max, nil
}

func (s *Server) GetCpuFrequencies(cpu uint32) (uint64, uint64, *dbus.Error) {
	freqs := s.accessor.Frequencies(uint(cpu))
	return freqs.Min, freqs.Max, nil
}

func (s *Server) GetCpuAvailableFrequencies(cpu uint32) ([]uint64, *dbus.Error) {
	return s.accessor.AvailableFrequencies(uint(cpu)), nil
}

func (s *Server) GetCpuGovernors(cpu uint32) ([]string, *dbus.Error) {
	return s.accessor.Governors(uint(cpu)), nil
}

func (s *Server) GetCpuGovernor(cpu uint32) (string, *dbus.Error) {
	return s.accessor.Governor(uint(cpu)), nil
}

func (s *Server) CpuEnergyPrefAvailable(cpu uint32) (bool, *dbus.Error) {
	return s.accessor.EnergyPrefAvailable(uint(cpu)), nil
}

func (s *Server) GetCpuEnergyPrefs(cpu uint32) ([]string, *dbus.Error) {
	return s.accessor.EnergyPrefs(uint(cpu)), nil
}

func (s *Server) GetCpuEnergyPref(cpu uint32) (string, *dbus.Error) {
	return s.accessor.EnergyPref(uint(cpu)), nil
}

func (s *Server) IsAuthorized(sender dbus.Sender) (bool, *dbus.Error) {
	authorized, err := s.authorizer.IsSenderAuthorized(string(sender))
	if err != nil {
		log.Error(err, "authorization check failed", "sender", sender)
		return false, nil
	}
	return authorized, nil
}

func (s *Server) UpdateCpuSettings(sender dbus.Sender, cpu uint32, minFreq, maxFreq uint64) (int32, *dbus.Error) {
	if derr := s.authorize(sender, "update_cpu_settings"); derr != nil {
		return resultFailure, derr
	}
	return s.result(cpu, s.accessor.UpdateFrequencies(uint(cpu), minFreq, maxFreq)), nil
}

func (s *Server) UpdateCpuGovernor(sender dbus.Sender, cpu uint32, governor string) (int32, *dbus.Error) {
	if derr := s.authorize(sender, "update_cpu_governor"); derr != nil {
		return resultFailure, derr
	}
	return s.result(cpu, s.accessor.UpdateGovernor(uint(cpu), governor)), nil
}

func (s *Server) UpdateCpuEnergyPref(sender dbus.Sender, cpu uint32, pref string) (int32, *dbus.Error) {
	if derr := s.authorize(sender, "update_cpu_energy_pref"); derr != nil {
		return resultFailure, derr
	}
	return s.result(cpu, s.accessor.UpdateEnergyPref(uint(cpu), pref)), nil
}

func (s *Server) SetCpuOnline(sender dbus.Sender, cpu uint32) (int32, *dbus.Error) {
	if derr := s.authorize(sender, "set_cpu_online"); derr != nil {
		return resultFailure, derr
	}
	return s.result(cpu, s.accessor.SetOnline(uint(cpu), true)), nil
}

func (s *Server) SetCpuOffline(sender dbus.Sender, cpu uint32) (int32, *dbus.Error) {
	if derr := s.authorize(sender, "set_cpu_offline"); derr != nil {
		return resultFailure, derr
	}
	return s.result(cpu, s.accessor.SetOnline(uint(cpu), false)), nil
}

func (s *Server) authorize(sender dbus.Sender, call string) *dbus.Error {
	authorized, err := s.authorizer.IsSenderAuthorized(string(sender))
	if err != nil {
		log.Error(err, "authorization check failed", "sender", sender, "method", call)
		return dbus.MakeFailedError(err)
	}
	if !authorized {
		log.Info("unauthorized call rejected", "sender", sender, "method", call)
		return dbus.NewError(Interface+".NotAuthorized", []interface{}{fmt.Sprintf("%s is not authorized", sender)})
	}
	return nil
}

func (s *Server) result(cpu uint32, err error) int32 {
	if err != nil {
		log.Error(err, "cpu write failed", "cpu", cpu)
		return resultFailure
	}
	return resultSuccess
}
