package config

import (
	"errors"
	"fmt"
)

// CurrentVersion is the configuration file format this build reads.
const CurrentVersion = 1

// ErrUnsupportedVersion matches every *VersionError via errors.Is.
var ErrUnsupportedVersion = errors.New("unsupported config version")

// Reasons carried by VersionError.
const (
	ReasonMissing  = "missing"
	ReasonOutdated = "outdated"
	ReasonNewer    = "newer than this build"
)

// VersionError reports a `version:` value this build cannot read.
type VersionError struct {
	Version int
	Current int
	Reason  string
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Reason {
	case ReasonNewer:
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade tandem to continue", e.Version, e.Current)
	case ReasonMissing:
		return fmt.Sprintf("config version is missing; add `version: %d` to the file", e.Current)
	case "":
		return fmt.Sprintf("config version %d is unsupported (current: %d)", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is %s (current: %d); set version: %d", e.Version, e.Reason, e.Current, e.Current)
}

// Is makes errors.Is(err, ErrUnsupportedVersion) hold.
func (e *VersionError) Is(target error) bool {
	return target == ErrUnsupportedVersion
}

// ValidateVersion checks the file's version field against CurrentVersion.
func ValidateVersion(version int) error {
	var reason string
	switch {
	case version <= 0:
		reason = ReasonMissing
	case version < CurrentVersion:
		reason = ReasonOutdated
	case version > CurrentVersion:
		reason = ReasonNewer
	default:
		return nil
	}
	return &VersionError{Version: version, Current: CurrentVersion, Reason: reason}
}
