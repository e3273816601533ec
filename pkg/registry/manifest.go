// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/mesh/pkg/identity"
	"github.com/teradata-labs/mesh/pkg/types"
)

// Manifest is the YAML description of a declarative agent registration.
// Manifests describe agents operated outside this process (or demo
// agents the CLI spins up); they carry public identity material only.
type Manifest struct {
	AgentID          string                  `yaml:"agent_id"`
	OrganizationID   string                  `yaml:"organization_id,omitempty"`
	AgentType        types.AgentType         `yaml:"agent_type"`
	InteractionModes []types.InteractionMode `yaml:"interaction_modes"`
	Capabilities     []types.Capability      `yaml:"capabilities,omitempty"`
	OwnerID          string                  `yaml:"owner_id,omitempty"`
	PaymentAddress   string                  `yaml:"payment_address,omitempty"`
	Metadata         map[string]interface{}  `yaml:"metadata,omitempty"`

	Identity struct {
		DID       string `yaml:"did"`
		PublicKey string `yaml:"public_key"`
	} `yaml:"identity"`
}

// Registration converts the manifest into a directory record.
func (m *Manifest) Registration() (*AgentRegistration, error) {
	ident, err := identity.FromPublicPEM(m.Identity.DID, m.Identity.PublicKey, types.VerificationPending)
	if err != nil {
		return nil, fmt.Errorf("manifest %s identity: %w", m.AgentID, err)
	}
	return &AgentRegistration{
		AgentID:          m.AgentID,
		OrganizationID:   m.OrganizationID,
		AgentType:        m.AgentType,
		InteractionModes: m.InteractionModes,
		Capabilities:     m.Capabilities,
		Identity:         ident,
		OwnerID:          m.OwnerID,
		PaymentAddress:   m.PaymentAddress,
		Metadata:         m.Metadata,
	}, nil
}

// ParseManifest decodes one YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.AgentID == "" {
		return nil, fmt.Errorf("manifest missing agent_id")
	}
	return &m, nil
}

// LoadManifests registers every *.yaml / *.yml manifest in dir. Files
// that fail to parse or register are logged and skipped so one bad
// manifest does not block the rest. Returns the number registered.
func (r *Registry) LoadManifests(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	registered := 0
	for _, entry := range entries {
		if entry.IsDir() || !isManifestFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := r.registerManifestFile(path); err != nil {
			r.logger.Warn("skipping manifest", zap.String("path", path), zap.Error(err))
			continue
		}
		registered++
	}

	r.logger.Info("manifests loaded", zap.String("dir", dir), zap.Int("registered", registered))
	return registered, nil
}

// WatchManifests hot-reloads the manifest directory until ctx is
// cancelled: writes and creates register or update the agent, removals
// unregister it. Call after LoadManifests.
func (r *Registry) WatchManifests(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create manifest watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// Remember which agent each file registered so a file removal can
	// unregister the right agent.
	var mu sync.Mutex
	fileAgents := make(map[string]string)

	r.logger.Info("watching manifests", zap.String("dir", dir))

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isManifestFile(event.Name) {
					continue
				}

				switch {
				case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
					agentID, err := r.reloadManifestFile(event.Name)
					if err != nil {
						r.logger.Warn("manifest reload failed",
							zap.String("path", event.Name), zap.Error(err))
						continue
					}
					mu.Lock()
					fileAgents[event.Name] = agentID
					mu.Unlock()

				case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					mu.Lock()
					agentID, known := fileAgents[event.Name]
					delete(fileAgents, event.Name)
					mu.Unlock()
					if !known {
						continue
					}
					if err := r.Unregister(agentID); err != nil {
						r.logger.Warn("manifest unregister failed",
							zap.String("agent_id", agentID), zap.Error(err))
					}
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("manifest watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (r *Registry) registerManifestFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return err
	}
	reg, err := manifest.Registration()
	if err != nil {
		return err
	}
	if _, err := r.Register(reg); err != nil {
		return err
	}
	return nil
}

// reloadManifestFile registers or updates the manifest's agent,
// returning the agent ID it settled on.
func (r *Registry) reloadManifestFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read manifest: %w", err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return "", err
	}
	reg, err := manifest.Registration()
	if err != nil {
		return "", err
	}

	if _, lookupErr := r.GetRegistration(reg.AgentID); lookupErr == nil {
		payment := reg.PaymentAddress
		err = r.UpdateRegistration(reg.AgentID, RegistrationUpdate{
			Capabilities:     reg.Capabilities,
			InteractionModes: reg.InteractionModes,
			PaymentAddress:   &payment,
			Metadata:         reg.Metadata,
		})
		if err != nil {
			return "", err
		}
		r.logger.Info("manifest updated", zap.String("agent_id", reg.AgentID), zap.String("path", path))
		return reg.AgentID, nil
	}

	if _, err := r.Register(reg); err != nil {
		return "", err
	}
	r.logger.Info("manifest registered", zap.String("agent_id", reg.AgentID), zap.String("path", path))
	return reg.AgentID, nil
}

func isManifestFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
