package onboarding

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed regions.yaml
var regionsYAML []byte

// Region is a deployment location offered to customers during workspace
// creation. The catalog is curated, not everything ARM would accept.
type Region struct {
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

var regions = mustLoadRegions()

func mustLoadRegions() []Region {
	var out []Region
	if err := yaml.Unmarshal(regionsYAML, &out); err != nil {
		panic("onboarding: bad embedded regions catalog: " + err.Error())
	}
	return out
}

// Regions returns the curated region catalog.
func Regions() []Region {
	return regions
}
