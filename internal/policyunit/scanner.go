package policyunit

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scanner walks a policies root and parses each .rego file it finds into
// a Unit. Parsing failures are logged and the offending file is skipped
// rather than aborting the scan — the engine must keep serving the
// policies that did load.
type Scanner struct {
	logger        *slog.Logger
	enabledBuiltins map[string]bool
}

// NewScanner creates a Scanner. enabledBuiltins is the set of built-in
// feature names enabled in the rulebook; policies under
// "<anything>.builtins.<name>" are only included if <name> is present.
func NewScanner(enabledBuiltins []string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]bool, len(enabledBuiltins))
	for _, name := range enabledBuiltins {
		set[name] = true
	}
	return &Scanner{
		logger:          logger.With("component", "policyunit.Scanner"),
		enabledBuiltins: set,
	}
}

// Scan recursively walks root for .rego files and parses each into a
// Unit. A missing root is not an error; it simply yields zero units (a
// fresh project with no policies yet).
func (s *Scanner) Scan(root string) ([]Unit, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("policies root does not exist, yielding no policies", "root", root)
			return nil, nil
		}
		return nil, fmt.Errorf("statting policies root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("policies root %q is not a directory", root)
	}

	var units []Unit
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || filepath.Ext(path) != ".rego" {
			return nil
		}

		unit, parseErr := s.parseFile(path)
		if parseErr != nil {
			s.logger.Error("failed to parse policy, skipping", "path", path, "error", parseErr)
			return nil
		}
		if unit == nil {
			// Built-in filtered out; not an error.
			return nil
		}
		units = append(units, *unit)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning policies root %q: %w", root, err)
	}

	s.logger.Info("scanned policies", "root", root, "count", len(units))
	return units, nil
}

func (s *Scanner) parseFile(path string) (*Unit, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	text := string(content)

	pkg, err := extractPackageName(text)
	if err != nil {
		return nil, fmt.Errorf("extracting package name: %w", err)
	}

	if !s.builtinEnabled(pkg) {
		s.logger.Debug("built-in policy not enabled, skipping", "package", pkg)
		return nil, nil
	}

	meta, err := parseMetadata(text)
	if err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}

	var routing RoutingDirective
	switch {
	case meta != nil && meta.Custom.Routing != nil:
		routing = *meta.Custom.Routing
		if err := validateRoutingDirective(routing); err != nil {
			return nil, fmt.Errorf("invalid routing directive in policy %s: %w", pkg, err)
		}
	case isSystemPackage(pkg):
		s.logger.Debug("system policy has no routing directive, this is expected", "package", pkg)
	default:
		return nil, fmt.Errorf("policy %s has no routing directive in metadata", pkg)
	}

	return &Unit{
		Path:        path,
		PackageName: pkg,
		Routing:     routing,
		Metadata:    meta,
	}, nil
}

// builtinEnabled reports whether pkg should be included given the
// configured enabled built-ins. Non-builtin packages are always
// included.
func (s *Scanner) builtinEnabled(pkg string) bool {
	const marker = ".builtins."
	idx := strings.Index(pkg, marker)
	if idx < 0 {
		return true
	}
	name := pkg[idx+len(marker):]
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		name = name[:dot]
	}
	return s.enabledBuiltins[name]
}

// extractPackageName reads the first "package <dotted.name>" line from
// a Rego source file.
func extractPackageName(text string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "package ") {
			name := strings.TrimSpace(strings.TrimPrefix(line, "package "))
			if name == "" {
				return "", fmt.Errorf("empty package declaration")
			}
			return name, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no package declaration found")
}

// metadataBlockPrefix marks the start of the structured metadata
// comment block this scanner understands: a run of "# METADATA" headed
// comment lines immediately preceding the package declaration, YAML
// inside. This mirrors OPA's own annotation comment convention closely
// enough to be parsed the same way without depending on OPA's internal
// annotation parser.
const metadataBlockPrefix = "# METADATA"

// parseMetadata extracts and YAML-decodes the metadata comment block
// immediately preceding the package declaration. Returns (nil, nil) if
// no metadata block is present at all.
func parseMetadata(text string) (*Metadata, error) {
	lines := strings.Split(text, "\n")

	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == metadataBlockPrefix {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, nil
	}

	var yamlLines []string
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		yamlLines = append(yamlLines, strings.TrimPrefix(strings.TrimPrefix(trimmed, "#"), " "))
	}

	if len(yamlLines) == 0 {
		return nil, fmt.Errorf("empty metadata block")
	}

	var meta Metadata
	if err := yaml.Unmarshal([]byte(strings.Join(yamlLines, "\n")), &meta); err != nil {
		return nil, fmt.Errorf("decoding metadata YAML: %w", err)
	}
	return &meta, nil
}

// validateRoutingDirective rejects directives that can never be routed:
// no events, or an event list containing an empty string.
func validateRoutingDirective(d RoutingDirective) error {
	if len(d.Events) == 0 {
		return fmt.Errorf("routing directive must declare at least one event")
	}
	for _, e := range d.Events {
		if strings.TrimSpace(e) == "" {
			return fmt.Errorf("routing directive contains an empty event name")
		}
	}
	return nil
}
