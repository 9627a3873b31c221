package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the profile filename looked for at the repo root.
const DefaultFileName = "quarry.yaml"

var validate = validator.New()

// Load reads and validates a profile file. Values not present in the file
// keep their defaults.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	profile, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return profile, nil
}

// LoadOrDefault loads a profile if the file exists, otherwise returns the
// defaults.
func LoadOrDefault(path string) (*Profile, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultProfile(), nil
	}
	return Load(path)
}

// Parse validates and decodes a raw profile document. The schema check runs
// against the raw document so unknown keys and out-of-range values are
// caught before decoding; struct validation then covers what the schema
// cannot express over the merged result.
func Parse(data []byte) (*Profile, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	profile := DefaultProfile()
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	if err := validate.Struct(profile); err != nil {
		return nil, fmt.Errorf("profile validation failed: %w", err)
	}
	return profile, nil
}

// ConfigSetter seeds one named value into the evaluator's config store.
// Repeated calls with the same name accumulate a list.
type ConfigSetter interface {
	SetConfigValue(name, value string)
}

// Seed pushes the profile into an evaluator's config store. List-valued
// settings are seeded one element at a time; extra settings are seeded under
// their uppercased keys in sorted order.
func (p *Profile) Seed(s ConfigSetter) {
	s.SetConfigValue("BUILD_FILE_NAME", p.BuildFileName)
	s.SetConfigValue("OS", p.OS)
	s.SetConfigValue("ARCH", p.Arch)
	if p.Version != "" {
		s.SetConfigValue("VERSION", p.Version)
	}
	for _, v := range p.Defaults.Visibility {
		s.SetConfigValue("DEFAULT_VISIBILITY", v)
	}
	for _, l := range p.Defaults.Licences {
		s.SetConfigValue("DEFAULT_LICENCES", l)
	}
	if p.Defaults.TestOnly {
		s.SetConfigValue("DEFAULT_TESTONLY", "true")
	}

	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.SetConfigValue(strings.ToUpper(k), p.Extra[k])
	}
}
