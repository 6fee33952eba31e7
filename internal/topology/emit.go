package topology

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Write serializes t to w as the topology document.
func Write(w io.Writer, t *Topology) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encode topology: %w", err)
	}
	return nil
}

// Read parses a topology document and validates its slot partition.
func Read(r io.Reader) (*Topology, error) {
	var t Topology
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	if err := Validate(&t); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	return &t, nil
}

// WriteFile writes the topology document to path, replacing any existing file.
func WriteFile(path string, t *Topology) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if err := Write(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile reads a topology document from path.
func ReadFile(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}
