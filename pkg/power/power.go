package power

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
)

type featureID uint

const (
	FrequencyScalingFeature featureID = iota
	EPPFeature
	HotplugFeature
)

var basePath = "/sys/devices/system/cpu"

var log = logr.Discard()

var (
	uninitialisedErr = errors.New("uninitialised")
	undefinederr     = errors.New("feature undefined")
)

// SetLogger replaces the library logger, by default all logs are discarded
func SetLogger(logger logr.Logger) {
	log = logger
}

type featureStatus struct {
	name     string
	driver   string
	err      error
	initFunc func(accessor Accessor) featureStatus
}

func (f *featureStatus) Name() string {
	return f.name
}

func (f *featureStatus) Driver() string {
	return f.driver
}

func (f *featureStatus) FeatureError() error {
	return f.err
}

// FeatureSet maps feature ids to their probed status
type FeatureSet map[featureID]*featureStatus

// init runs every feature probe against the accessor and returns the collected errors
func (set *FeatureSet) init(accessor Accessor) *multierror.Error {
	if len(*set) == 0 {
		return multierror.Append(nil, fmt.Errorf("no features defined"))
	}
	var allErrors *multierror.Error
	for id, status := range *set {
		stat := status.initFunc(accessor)
		(*set)[id] = &stat
		allErrors = multierror.Append(allErrors, stat.err)
	}
	return allErrors
}

func (set *FeatureSet) anySupported() bool {
	for _, status := range *set {
		if status.err == nil {
			return true
		}
	}
	return false
}

func (set *FeatureSet) isFeatureIdSupported(id featureID) bool {
	feature, exists := (*set)[id]
	if !exists {
		return false
	}
	return feature.err == nil
}

func (set *FeatureSet) getFeatureIdError(id featureID) error {
	feature, exists := (*set)[id]
	if !exists {
		return undefinederr
	}
	return feature.err
}

// IsFeatureSupported reports whether the probe for the feature succeeded
func (set FeatureSet) IsFeatureSupported(id featureID) bool {
	return set.isFeatureIdSupported(id)
}

func newFeatureList() FeatureSet {
	return FeatureSet{
		FrequencyScalingFeature: {initFunc: initScalingDriver, err: uninitialisedErr},
		EPPFeature:              {initFunc: initEpp, err: uninitialisedErr},
		HotplugFeature:          {initFunc: initHotplug, err: uninitialisedErr},
	}
}

// CreateInstance probes the platform through the accessor and returns the session object
// used by every front end. An error is returned next to a usable host when some features
// are unsupported; nil host is only returned when nothing at all is supported.
func CreateInstance(accessor Accessor, authorizer Authorizer) (Host, error) {
	if accessor == nil {
		return nil, fmt.Errorf("accessor cannot be nil")
	}
	if authorizer == nil {
		return nil, fmt.Errorf("authorizer cannot be nil")
	}
	features := newFeatureList()
	allErrors := features.init(accessor)
	if !features.anySupported() {
		return nil, allErrors
	}
	host := initHost(accessor, authorizer, features)
	return host, allErrors.ErrorOrNil()
}

// reads a file from a path, parses contents as an uint and returns the value
func readUintFromFile(filePath string) (uint64, error) {
	valueString, err := readStringFromFile(filePath)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueString, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	return value, nil
}

// reads value from a file and returns contents as a trimmed string
func readStringFromFile(filePath string) (string, error) {
	valueByte, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(valueByte)), nil
}
