package cluster

import (
	"fmt"
	"os"
)

// ReadNodeID reads a previously persisted alias from path, written by an
// earlier call to WriteNodeID. Operators who don't pass --node-alias on
// the command line get the same identity back across restarts this way
// instead of a fresh one every time.
func ReadNodeID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cluster: read node id: %w", err)
	}
	return string(data), nil
}

// WriteNodeID persists alias to path as UTF-8 text, overwriting whatever
// was there before.
func WriteNodeID(path, alias string) error {
	if err := os.WriteFile(path, []byte(alias), 0o644); err != nil {
		return fmt.Errorf("cluster: write node id: %w", err)
	}
	return nil
}
