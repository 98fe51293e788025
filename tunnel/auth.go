package tunnel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"
)

// AuthMethods returns the SSH authentication methods for the jump host,
// in the order they are offered: explicit key, agent, password.  With
// none configured it falls back to the agent and the usual key files.
func AuthMethods(cfg *JumpConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		m, err := keyFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", cfg.KeyPath, err)
		}
		methods = append(methods, m)
	}
	if cfg.UseAgent {
		m, err := sshAgent()
		if err != nil {
			return nil, fmt.Errorf("ssh-agent: %w", err)
		}
		methods = append(methods, m)
	}
	if cfg.PromptPass {
		m, err := password(cfg)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}

	if len(methods) == 0 {
		methods = fallbackMethods()
	}
	if len(methods) == 0 {
		return nil, errors.New("no SSH authentication methods available, " +
			"use --ssh-key, --ssh-password or --ssh-agent")
	}
	return methods, nil
}

func keyFile(path string) (ssh.AuthMethod, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	var missing *ssh.PassphraseMissingError
	switch {
	case err == nil:
	case errors.As(err, &missing):
		pass, perr := readSecret(fmt.Sprintf("Enter passphrase for %s: ", path))
		if perr != nil {
			return nil, perr
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, pass)
		if err != nil {
			return nil, fmt.Errorf("decrypting key: %w", err)
		}
	default:
		return nil, fmt.Errorf("parsing key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

func sshAgent() (ssh.AuthMethod, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, errors.New("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("connecting to agent at %s: %w", sock, err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func password(cfg *JumpConfig) (ssh.AuthMethod, error) {
	pass, err := readSecret(fmt.Sprintf("%s@%s's password: ", cfg.User, cfg.Host))
	if err != nil {
		return nil, err
	}
	return ssh.Password(string(pass)), nil
}

func readSecret(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("cannot prompt for a secret: stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading secret: %w", err)
	}
	return b, nil
}

func fallbackMethods() []ssh.AuthMethod {
	var out []ssh.AuthMethod
	if m, err := sshAgent(); err == nil {
		out = append(out, m)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return out
	}
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if m, err := keyFile(p); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// hostKeyCallback verifies the jump host against known_hosts when
// strict checking is on.  Lab jump hosts are frequently re-imaged, so
// checking is opt-in.
func hostKeyCallback(cfg *JumpConfig) (ssh.HostKeyCallback, error) {
	if !cfg.StrictHostKey {
		//nolint:gosec // user opted out of host key checking
		return ssh.InsecureIgnoreHostKey(), nil
	}

	file := cfg.KnownHosts
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts from %s: %w", file, err)
	}
	return cb, nil
}
