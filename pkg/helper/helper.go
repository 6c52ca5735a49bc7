// Package helper carries the cpu accessor over the system bus. The privileged daemon
// exports a Server wrapping the sysfs accessor, unprivileged front ends talk to it
// through a Client that implements power.Accessor and power.Authorizer.
package helper

import (
	"github.com/go-logr/logr"
	"github.com/godbus/dbus/v5"
)

const (
	BusName             = "org.rnd2.cpupower_gui.helper"
	ObjectPath          = dbus.ObjectPath("/org/rnd2/cpupower_gui/helper")
	Interface           = "org.rnd2.cpupower_gui.helper"
	ApplyRuntimeAction  = "org.rnd2.cpupower_gui.apply_runtime"
	resultSuccess int32 = 0
	resultFailure int32 = -1
)

// exported Go method name -> bus method name
var methodNames = map[string]string{
	"GetCpusPresent":             "get_cpus_present",
	"GetCpusOnline":              "get_cpus_online",
	"GetCpusOffline":             "get_cpus_offline",
	"GetCpusAvailable":           "get_cpus_available",
	"CpuAllowedOffline":          "cpu_allowed_offline",
	"GetScalingDriver":           "get_scaling_driver",
	"GetCpuLimits":               "get_cpu_limits",
	"GetCpuFrequencies":          "get_cpu_frequencies",
	"GetCpuAvailableFrequencies": "get_cpu_available_frequencies",
	"GetCpuGovernors":            "get_cpu_governors",
	"GetCpuGovernor":             "get_cpu_governor",
	"CpuEnergyPrefAvailable":     "cpu_energy_pref_available",
	"GetCpuEnergyPrefs":          "get_cpu_energy_prefs",
	"GetCpuEnergyPref":           "get_cpu_energy_pref",
	"UpdateCpuSettings":          "update_cpu_settings",
	"UpdateCpuGovernor":          "update_cpu_governor",
	"UpdateCpuEnergyPref":        "update_cpu_energy_pref",
	"SetCpuOnline":               "set_cpu_online",
	"SetCpuOffline":              "set_cpu_offline",
	"IsAuthorized":               "isauthorized",
}

var log = logr.Discard()

func SetLogger(logger logr.Logger) {
	log = logger
}

func method(name string) string {
	return Interface + "." + name
}
