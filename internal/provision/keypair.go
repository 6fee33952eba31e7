package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// EnsureKeypair creates the named keypair from the public key file unless
// the backend already has it. Called once per run, never per instance.
func (o *Orchestrator) EnsureKeypair(ctx context.Context, name, publicKeyPath string) error {
	exists, err := o.backend.HasKeypair(ctx, name)
	if err != nil {
		return fmt.Errorf("check keypair %s: %w", name, err)
	}
	if exists {
		o.logger.Debug().Str("keypair", name).Msg("keypair exists")
		return nil
	}

	publicKey, err := o.readPublicKey(publicKeyPath)
	if err != nil {
		return err
	}
	if err := o.backend.CreateKeypair(ctx, name, publicKey); err != nil {
		return fmt.Errorf("create keypair %s: %w", name, err)
	}
	o.logger.Info().Str("keypair", name).Str("public_key", publicKeyPath).Msg("created keypair")
	return nil
}

func (o *Orchestrator) readPublicKey(path string) (string, error) {
	path, err := expandHome(path)
	if err != nil {
		return "", err
	}
	data, err := o.readFile(path)
	if err != nil {
		return "", fmt.Errorf("read public key %s: %w", path, err)
	}
	if _, _, _, _, err := ssh.ParseAuthorizedKey(data); err != nil {
		return "", fmt.Errorf("parse public key %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
