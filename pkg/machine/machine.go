// Package machine describes provisioning targets and how to reach them over SSH.
package machine

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const DefaultPort = 22

var (
	ErrNoAuth        = errors.New("machine has no auth method: set keyPath or password")
	ErrNoHostKeyMode = errors.New("machine has no host key policy: set knownHostsFile or insecureIgnoreHostKey")
	ErrNotFound      = errors.New("machine not found")
)

var validate = validator.New()

// Machine is a provisioning target. Steps only read it.
type Machine struct {
	Name                  string `yaml:"name" json:"name" bson:"name" validate:"required"`
	Host                  string `yaml:"host" json:"host" bson:"host" validate:"required,hostname_rfc1123|ip"`
	Port                  int    `yaml:"port" json:"port" bson:"port" validate:"omitempty,min=1,max=65535"`
	User                  string `yaml:"user" json:"user" bson:"user" validate:"required"`
	Password              string `yaml:"password" json:"-" bson:"password"`
	KeyPath               string `yaml:"keyPath" json:"keyPath" bson:"keyPath"`
	KnownHostsFile        string `yaml:"knownHostsFile" json:"knownHostsFile" bson:"knownHostsFile"`
	InsecureIgnoreHostKey bool   `yaml:"insecureIgnoreHostKey" json:"insecureIgnoreHostKey" bson:"insecureIgnoreHostKey"`
}

// Address returns host:port, defaulting the port to 22.
func (m *Machine) Address() string {
	port := m.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(m.Host, strconv.Itoa(port))
}

func (m *Machine) String() string {
	return fmt.Sprintf("%s(%s@%s)", m.Name, m.User, m.Address())
}

func (m *Machine) Validate() error {
	if m == nil {
		return errors.New("machine cannot be nil")
	}
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("machine %q: %w", m.Name, err)
	}
	if m.KeyPath == "" && m.Password == "" {
		return fmt.Errorf("machine %q: %w", m.Name, ErrNoAuth)
	}
	if m.KnownHostsFile == "" && !m.InsecureIgnoreHostKey {
		return fmt.Errorf("machine %q: %w", m.Name, ErrNoHostKeyMode)
	}
	return nil
}

// ClientConfig builds the ssh client configuration for m.
func (m *Machine) ClientConfig(timeout time.Duration) (*ssh.ClientConfig, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var auth []ssh.AuthMethod
	if m.KeyPath != "" {
		keyAuth, err := publicKeyAuth(m.KeyPath)
		if err != nil {
			return nil, err
		}
		auth = append(auth, keyAuth)
	}
	if m.Password != "" {
		auth = append(auth, ssh.Password(m.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if m.KnownHostsFile != "" {
		cb, err := knownhosts.New(m.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", m.KnownHostsFile, err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            m.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
		BannerCallback:  func(message string) error { return nil }, //ignore banner
	}, nil
}

func publicKeyAuth(privateKeyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// Inventory is the set of machines known to a provisioner.
type Inventory []Machine

func (inv Inventory) Lookup(name string) (*Machine, error) {
	for i := range inv {
		if inv[i].Name == name {
			return &inv[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

func (inv Inventory) Validate() error {
	seen := make(map[string]bool, len(inv))
	for i := range inv {
		if err := inv[i].Validate(); err != nil {
			return err
		}
		if seen[inv[i].Name] {
			return fmt.Errorf("duplicate machine name %q", inv[i].Name)
		}
		seen[inv[i].Name] = true
	}
	return nil
}
