package config

import (
	"bytes"
	"embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"hps-conditions/internal/domain"
)

//go:embed profiles/*.xml
var profileFS embed.FS

// Built-in profile names.
const (
	ProfileProd    = "prod"
	ProfileTestRun = "testrun"
	ProfileEngRun  = "engrun"
)

// TestRunMaxRun is the last run number of the Test Run.
const TestRunMaxRun = 1365

// Converter groups a profile can enable.
const (
	GroupDetector   = "detector"
	GroupBeam       = "beam"
	GroupEcal       = "ecal"
	GroupSvt        = "svt"
	GroupTestRunSvt = "test_run_svt"
)

// Settings are the manager and connection options of a profile. Elements
// missing from the XML keep their defaults.
type Settings struct {
	SetupSvtDetector               bool   `xml:"setupSvtDetector" default:"true"`
	SetupEcalDetector              bool   `xml:"setupEcalDetector" default:"true"`
	FreezeAfterInitialize          bool   `xml:"freezeAfterInitialize"`
	CacheAllConditions             bool   `xml:"cacheAllConditions"`
	IsTestRun                      bool   `xml:"isTestRun"`
	LogLevel                       string `xml:"logLevel"`
	CloseConnectionAfterInitialize bool   `xml:"closeConnectionAfterInitialize" default:"true"`
	LoginTimeout                   int    `xml:"loginTimeout" validate:"gte=0"` // seconds; 0 keeps the connection default
	Tag                            string `xml:"tag"`
}

// LoginTimeoutDuration returns LoginTimeout as a duration.
func (s Settings) LoginTimeoutDuration() time.Duration {
	return time.Duration(s.LoginTimeout) * time.Second
}

// ConverterGroup enables one family of converters.
type ConverterGroup struct {
	Group string `xml:"group,attr" validate:"required,oneof=detector beam ecal svt test_run_svt"`
}

// TableOverride changes the multiple-collections action of a table key.
type TableOverride struct {
	Key    string `xml:"key,attr" validate:"required"`
	Action string `xml:"action,attr" validate:"required"`
}

// Profile is an XML deployment profile.
type Profile struct {
	XMLName    xml.Name         `xml:"conditions"`
	Name       string           `xml:"name,attr"`
	Settings   Settings         `xml:"configuration"`
	Converters []ConverterGroup `xml:"converters>converter" validate:"dive"`
	Tables     []TableOverride  `xml:"tables>table" validate:"dive"`
}

// Groups returns the enabled converter groups. A profile without a
// converters element enables the defaults for its run period. The SVT and
// ECAL switches remove their groups either way.
func (p *Profile) Groups() []string {
	var groups []string
	if len(p.Converters) == 0 {
		svt := GroupSvt
		if p.Settings.IsTestRun {
			svt = GroupTestRunSvt
		}
		groups = []string{GroupDetector, GroupBeam, GroupEcal, svt}
	} else {
		for _, c := range p.Converters {
			groups = append(groups, c.Group)
		}
	}
	out := groups[:0]
	for _, g := range groups {
		switch {
		case g == GroupEcal && !p.Settings.SetupEcalDetector:
		case (g == GroupSvt || g == GroupTestRunSvt) && !p.Settings.SetupSvtDetector:
		default:
			out = append(out, g)
		}
	}
	return out
}

// Actions returns the table action overrides keyed by table key.
func (p *Profile) Actions() (map[string]domain.MultipleCollectionsAction, error) {
	out := make(map[string]domain.MultipleCollectionsAction, len(p.Tables))
	for _, t := range p.Tables {
		a, err := domain.ParseMultipleCollectionsAction(t.Action)
		if err != nil {
			return nil, domain.ErrConfiguration("profile %q table %q: %v", p.Name, t.Key, err)
		}
		out[t.Key] = a
	}
	return out, nil
}

// ParseProfile decodes and validates a profile.
func ParseProfile(r io.Reader) (*Profile, error) {
	p := &Profile{}
	if err := defaults.Set(p); err != nil {
		return nil, fmt.Errorf("profile defaults: %w", err)
	}
	if err := xml.NewDecoder(r).Decode(p); err != nil {
		return nil, domain.ErrConfiguration("parse profile: %v", err)
	}
	if err := validator.New().Struct(p); err != nil {
		return nil, domain.ErrConfiguration("invalid profile %q: %v", p.Name, err)
	}
	if p.Settings.SetupSvtDetector && hasGroups(p, GroupSvt, GroupTestRunSvt) {
		return nil, domain.ErrConfiguration("profile %q enables both SVT converter groups", p.Name)
	}
	return p, nil
}

func hasGroups(p *Profile, groups ...string) bool {
	found := 0
	for _, g := range groups {
		for _, c := range p.Converters {
			if c.Group == g {
				found++
				break
			}
		}
	}
	return found == len(groups)
}

// LoadProfile returns a built-in profile by name, or reads the XML file at
// nameOrPath.
func LoadProfile(nameOrPath string) (*Profile, error) {
	data, err := fs.ReadFile(profileFS, "profiles/"+nameOrPath+".xml")
	if err != nil {
		data, err = os.ReadFile(nameOrPath) //nolint:gosec // path is caller-controlled
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrConfiguration("unknown profile %q", nameOrPath)
		}
		if err != nil {
			return nil, fmt.Errorf("read profile %s: %w", nameOrPath, err)
		}
	}
	p, err := ParseProfile(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if p.Name == "" {
		p.Name = nameOrPath
	}
	return p, nil
}

// ProfileForRun names the built-in profile for a run number: the Test Run
// profile up to TestRunMaxRun, the engineering run profile after it, and
// prod for runs that are not set.
func ProfileForRun(run int) string {
	switch {
	case run <= 0:
		return ProfileProd
	case run <= TestRunMaxRun:
		return ProfileTestRun
	default:
		return ProfileEngRun
	}
}

// ResolveProfile loads the configured profile, or the profile for run when
// none is configured.
func (c *Config) ResolveProfile(run int) (*Profile, error) {
	name := c.Profile
	if name == "" {
		name = ProfileForRun(run)
	}
	return LoadProfile(name)
}
