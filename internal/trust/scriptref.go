package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// ScriptReference identifies the actual script file a guidebook
// command ultimately invokes, so its content can be hashed
// independently of the interpreter and flags used to run it.
type ScriptReference struct {
	Path string
}

// ParseScriptReference extracts the script file path from a shell
// command string. Guidebook commands are either a bare shell one-liner
// (no trusted file to bind to, hashed as the literal command string) or
// an interpreter invocation of a discovered script
// ("sh path/to/x.sh", "python3 path/to/x.py", "node path/to/x.js"), in
// which case the last whitespace-separated token ending in .sh, .py or
// .js (resolved against projectDir when relative) is the trusted
// artifact. The file's existence is not checked here; ComputeHash
// returns an error for a missing file.
func ParseScriptReference(command, projectDir string) ScriptReference {
	fields := strings.Fields(command)
	for i := len(fields) - 1; i >= 0; i-- {
		candidate := fields[i]
		ext := filepath.Ext(candidate)
		if ext != ".sh" && ext != ".py" && ext != ".js" {
			continue
		}
		path := candidate
		if !filepath.IsAbs(path) {
			path = filepath.Join(projectDir, path)
		}
		return ScriptReference{Path: path}
	}
	return ScriptReference{}
}

// ComputeHash returns the content hash this reference should be bound
// to: the SHA-256 of the script file if one was resolved, or of the
// raw command string itself for a bare inline command with no backing
// file.
func (r ScriptReference) ComputeHash(command string) (string, error) {
	if r.Path == "" {
		return hashString(command), nil
	}
	hash, err := hashFile(r.Path)
	if err != nil {
		return "", fmt.Errorf("hashing script %q: %w", r.Path, err)
	}
	return hash, nil
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ScriptEntryFromCommand builds a ScriptEntry by resolving and hashing
// whatever file (or literal string) the given command ultimately
// executes.
func ScriptEntryFromCommand(command, projectDir string) (ScriptEntry, error) {
	ref := ParseScriptReference(command, projectDir)
	hash, err := ref.ComputeHash(command)
	if err != nil {
		return ScriptEntry{}, err
	}
	return ScriptEntry{Command: command, Hash: hash}, nil
}
