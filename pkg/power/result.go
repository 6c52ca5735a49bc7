package power

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Failure is one member of the closed set of apply outcomes
type Failure uint16

const (
	FrequencyFailed Failure = 1 << iota
	EnergyPrefFailed
	GovernorFailed
	OnlineFailed
	FrequencyOutOfRange
	GovernorUnavailable
	IncompatibleEnergyPref
	Unauthorized
	CpuUnavailable
)

var allFailures = []Failure{
	FrequencyFailed,
	EnergyPrefFailed,
	GovernorFailed,
	OnlineFailed,
	FrequencyOutOfRange,
	GovernorUnavailable,
	IncompatibleEnergyPref,
	Unauthorized,
	CpuUnavailable,
}

// every sum of a subset of these codes is unique
var failureCodes = map[Failure]int{
	FrequencyFailed:        -1,
	EnergyPrefFailed:       -3,
	GovernorFailed:         -20,
	OnlineFailed:           -100,
	FrequencyOutOfRange:    -200,
	GovernorUnavailable:    -400,
	IncompatibleEnergyPref: -800,
	Unauthorized:           -1600,
	CpuUnavailable:         -3200,
}

var failureMessages = map[Failure]string{
	FrequencyFailed:        "failed to set frequencies",
	EnergyPrefFailed:       "failed to set energy preference",
	GovernorFailed:         "failed to set governor",
	OnlineFailed:           "failed to change online state",
	FrequencyOutOfRange:    "frequencies outside hardware limits",
	GovernorUnavailable:    "governor not available",
	IncompatibleEnergyPref: "only 'performance' energy preference can be used with 'performance' governor",
	Unauthorized:           "you don't have permissions to update cpu settings",
	CpuUnavailable:         "cpu is not available",
}

func (f Failure) Code() int {
	return failureCodes[f]
}

func (f Failure) String() string {
	if msg, ok := failureMessages[f]; ok {
		return msg
	}
	return fmt.Sprintf("failure(%d)", uint16(f))
}

// IsValidation reports failures where nothing was written because the request was rejected
func (f Failure) IsValidation() bool {
	return f == FrequencyOutOfRange || f == GovernorUnavailable || f == IncompatibleEnergyPref
}

// Failures is a set of Failure values
type Failures uint16

func (fs Failures) Has(f Failure) bool {
	return uint16(fs)&uint16(f) != 0
}

func (fs Failures) With(f Failure) Failures {
	return Failures(uint16(fs) | uint16(f))
}

func (fs Failures) List() []Failure {
	list := []Failure{}
	for _, f := range allFailures {
		if fs.Has(f) {
			list = append(list, f)
		}
	}
	return list
}

// ApplyResult is the outcome of applying the staged settings of one cpu
type ApplyResult struct {
	Cpu      uint
	Failures Failures
	// Err carries the underlying causes of write failures
	Err error
}

func (r *ApplyResult) fail(f Failure, cause error) {
	r.Failures = r.Failures.With(f)
	if cause != nil {
		r.Err = multierror.Append(r.Err, cause)
	}
}

func (r ApplyResult) OK() bool {
	return r.Failures == 0
}

// Code returns 0 on success or the sum of the failure codes
func (r ApplyResult) Code() int {
	code := 0
	for _, f := range r.Failures.List() {
		code += f.Code()
	}
	return code
}

func (r ApplyResult) Message() string {
	if r.OK() {
		return fmt.Sprintf("cpu %d: settings applied", r.Cpu)
	}
	msgs := []string{}
	for _, f := range r.Failures.List() {
		msgs = append(msgs, f.String())
	}
	return fmt.Sprintf("cpu %d: %s", r.Cpu, strings.Join(msgs, ", "))
}

// FailuresFromCode decodes an additive code back into its failure set
func FailuresFromCode(code int) (Failures, error) {
	var fs Failures
	remaining := code
	for i := len(allFailures) - 1; i >= 0; i-- {
		f := allFailures[i]
		if remaining <= f.Code() {
			remaining -= f.Code()
			fs = fs.With(f)
		}
	}
	if remaining != 0 {
		return 0, fmt.Errorf("invalid result code %d", code)
	}
	return fs, nil
}
