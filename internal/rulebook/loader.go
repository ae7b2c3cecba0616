package rulebook

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a guidebook.yml file. A missing file is not an
// error; it yields an empty Guidebook, matching the convention that a
// project with no signals or actions configured needs no guidebook at
// all.
func Load(path string) (Guidebook, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Guidebook{}, nil
		}
		return Guidebook{}, fmt.Errorf("reading guidebook %q: %w", path, err)
	}

	var gb Guidebook
	if err := yaml.Unmarshal(content, &gb); err != nil {
		return Guidebook{}, fmt.Errorf("parsing guidebook YAML %q: %w", path, err)
	}
	return gb, nil
}
