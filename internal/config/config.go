// Package config loads runtime settings from the environment.
//
// The service is deployed as a single process whose behavior is fully
// determined by FLOE_* environment variables plus command-line flags; there
// is no persisted configuration store. Flags override environment values,
// which override defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Settings are the runtime knobs of an update run or a running service.
type Settings struct {
	// StoreName and StorePrefix together locate the reference store:
	// StorePrefix is an s3:// URL or a filesystem path, StoreName the
	// repository directory under it.
	StoreName   string
	StorePrefix string

	// EDLSecretARN points at a Secrets Manager secret holding the
	// Earthdata username and password. Required unless LocalTest is set,
	// in which case EARTHDATA_USERNAME/EARTHDATA_PASSWORD are read from
	// the environment directly.
	EDLSecretARN string
	LocalTest    bool

	// RunTests validates the staged branch before merging. On by default.
	RunTests bool
	// DryRun stages and validates but never merges into main.
	DryRun bool
	// LimitGranules caps how many located granules are appended per run.
	// Nil means no cap.
	LimitGranules *int

	Region   string
	LogLevel string
}

const envPrefix = "FLOE_"

// Load reads Settings from the environment. Unset variables keep their
// defaults; malformed values are errors, not silent fallbacks.
func Load() (Settings, error) {
	s := Settings{
		RunTests: true,
		Region:   "us-west-2",
		LogLevel: "info",
	}
	var err error

	s.StoreName = os.Getenv(envPrefix + "STORE_NAME")
	s.StorePrefix = os.Getenv(envPrefix + "STORE_PREFIX")
	s.EDLSecretARN = os.Getenv(envPrefix + "EDL_SECRET_ARN")
	if v := os.Getenv(envPrefix + "REGION"); v != "" {
		s.Region = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}

	if s.RunTests, err = envBool("RUN_TESTS", s.RunTests); err != nil {
		return s, err
	}
	if s.DryRun, err = envBool("DRY_RUN", s.DryRun); err != nil {
		return s, err
	}
	if s.LocalTest, err = envBool("LOCAL_TEST", s.LocalTest); err != nil {
		return s, err
	}
	if v := os.Getenv(envPrefix + "LIMIT_GRANULES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("%sLIMIT_GRANULES: %w", envPrefix, err)
		}
		s.LimitGranules = &n
	}
	return s, nil
}

func envBool(name string, def bool) (bool, error) {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def, fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	return b, nil
}

// Validate checks that the settings are sufficient to reach the store and
// the upstream archive.
func (s Settings) Validate() error {
	if s.StoreName == "" {
		return errors.New("store name not configured")
	}
	if s.StorePrefix == "" {
		return errors.New("store prefix not configured")
	}
	if s.EDLSecretARN == "" && !s.LocalTest {
		return errors.New("EDL secret ARN not configured (set local test mode to use environment credentials)")
	}
	return nil
}

// StoreTarget joins prefix and name into the store target passed to
// refstore.OpenOrCreate.
func (s Settings) StoreTarget() string {
	return strings.TrimSuffix(s.StorePrefix, "/") + "/" + s.StoreName
}
