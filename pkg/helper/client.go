package helper

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rnd2/cpupower-gui/pkg/power"
)

// caller is the part of dbus.BusObject the client needs
type caller interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Client reaches the cpu attributes through the helper daemon. Reads follow the
// accessor conventions and degrade to empty values when the bus call fails.
type Client struct {
	obj caller
}

func NewClient(conn *dbus.Conn) *Client {
	return &Client{obj: conn.Object(BusName, ObjectPath)}
}

func (c *Client) call(name string, args []interface{}, ret ...interface{}) error {
	if err := c.obj.Call(method(name), 0, args...).Store(ret...); err != nil {
		return fmt.Errorf("helper call %s failed: %w", name, err)
	}
	return nil
}

func (c *Client) cpuList(name string) power.CpuList {
	var wire []uint32
	if err := c.call(name, nil, &wire); err != nil {
		log.V(1).Info("cpu list unavailable", "error", err.Error())
		return power.CpuList{}
	}
	cpus := make(power.CpuList, 0, len(wire))
	for _, cpu := range wire {
		cpus = append(cpus, uint(cpu))
	}
	return cpus
}

func (c *Client) PresentCpus() power.CpuList {
	return c.cpuList("get_cpus_present")
}

func (c *Client) OnlineCpus() power.CpuList {
	return c.cpuList("get_cpus_online")
}

func (c *Client) OfflineCpus() power.CpuList {
	return c.cpuList("get_cpus_offline")
}

func (c *Client) AvailableCpus() power.CpuList {
	return c.cpuList("get_cpus_available")
}

func (c *Client) IsOnline(cpu uint) bool {
	return c.OnlineCpus().Contains(cpu)
}

func (c *Client) boolProperty(name string, cpu uint) bool {
	var value bool
	if err := c.call(name, []interface{}{uint32(cpu)}, &value); err != nil {
		log.V(1).Info("property unavailable", "cpu", cpu, "error", err.Error())
		return false
	}
	return value
}

func (c *Client) stringProperty(name string, cpu uint, fallback string) string {
	var value string
	if err := c.call(name, []interface{}{uint32(cpu)}, &value); err != nil {
		log.V(1).Info("property unavailable", "cpu", cpu, "error", err.Error())
		return fallback
	}
	return value
}

func (c *Client) stringsProperty(name string, cpu uint) []string {
	var value []string
	if err := c.call(name, []interface{}{uint32(cpu)}, &value); err != nil {
		log.V(1).Info("property unavailable", "cpu", cpu, "error", err.Error())
		return []string{}
	}
	return value
}

func (c *Client) rangeProperty(name string, cpu uint) power.FreqRange {
	var freqs power.FreqRange
	if err := c.call(name, []interface{}{uint32(cpu)}, &freqs.Min, &freqs.Max); err != nil {
		log.V(1).Info("frequencies unavailable", "cpu", cpu, "error", err.Error())
		return power.FreqRange{}
	}
	return freqs
}

func (c *Client) AllowedOffline(cpu uint) bool {
	return c.boolProperty("cpu_allowed_offline", cpu)
}

func (c *Client) ScalingDriver(cpu uint) string {
	return c.stringProperty("get_scaling_driver", cpu, "")
}

func (c *Client) HardwareLimits(cpu uint) power.FreqRange {
	return c.rangeProperty("get_cpu_limits", cpu)
}

func (c *Client) Frequencies(cpu uint) power.FreqRange {
	return c.rangeProperty("get_cpu_frequencies", cpu)
}

func (c *Client) AvailableFrequencies(cpu uint) []uint64 {
	var steps []uint64
	if err := c.call("get_cpu_available_frequencies", []interface{}{uint32(cpu)}, &steps); err != nil {
		log.V(1).Info("frequency steps unavailable", "cpu", cpu, "error", err.Error())
		return []uint64{}
	}
	return steps
}

func (c *Client) Governors(cpu uint) []string {
	return c.stringsProperty("get_cpu_governors", cpu)
}

func (c *Client) Governor(cpu uint) string {
	return c.stringProperty("get_cpu_governor", cpu, "ERROR")
}

func (c *Client) EnergyPrefAvailable(cpu uint) bool {
	return c.boolProperty("cpu_energy_pref_available", cpu)
}

func (c *Client) EnergyPrefs(cpu uint) []string {
	return c.stringsProperty("get_cpu_energy_prefs", cpu)
}

func (c *Client) EnergyPref(cpu uint) string {
	return c.stringProperty("get_cpu_energy_pref", cpu, "")
}

func (c *Client) write(name string, args ...interface{}) error {
	var code int32
	if err := c.call(name, args, &code); err != nil {
		return err
	}
	if code != resultSuccess {
		return fmt.Errorf("helper %s returned %d", name, code)
	}
	return nil
}

func (c *Client) SetOnline(cpu uint, online bool) error {
	if online {
		return c.write("set_cpu_online", uint32(cpu))
	}
	return c.write("set_cpu_offline", uint32(cpu))
}

func (c *Client) UpdateFrequencies(cpu uint, minFreq, maxFreq uint64) error {
	return c.write("update_cpu_settings", uint32(cpu), minFreq, maxFreq)
}

func (c *Client) UpdateGovernor(cpu uint, governor string) error {
	return c.write("update_cpu_governor", uint32(cpu), governor)
}

func (c *Client) UpdateEnergyPref(cpu uint, pref string) error {
	return c.write("update_cpu_energy_pref", uint32(cpu), pref)
}

// IsAuthorized asks the helper whether this connection may change settings
func (c *Client) IsAuthorized() (bool, error) {
	var authorized bool
	if err := c.call("isauthorized", nil, &authorized); err != nil {
		return false, err
	}
	return authorized, nil
}

var (
	_ power.Accessor   = (*Client)(nil)
	_ power.Authorizer = (*Client)(nil)
)
