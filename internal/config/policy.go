package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"finsys/internal/models"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Policy is the operator-managed part of the configuration: who may request,
// who may approve, and who may never be paid.
type Policy struct {
	RequesterGroups []models.AuthorizationGroup `yaml:"requester_groups" validate:"dive"`
	ApproverGroups  []models.AuthorizationGroup `yaml:"approver_groups" validate:"dive"`
	BlacklistedIDs  []int64                     `yaml:"blacklisted_ids" validate:"dive,gt=0"`
	CORS            []string                    `yaml:"cors" validate:"dive,url"`
}

var policyValidator = validator.New()

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := policyValidator.Struct(&p); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &p, nil
}

// LoadPolicy reads the policy file at path.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	// A truncated file mid-write must not wipe the blacklist.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("policy file %s is empty", path)
	}
	return ParsePolicy(data)
}

type policySnapshot struct {
	policy    Policy
	blacklist map[int64]struct{}
}

func newSnapshot(p *Policy) *policySnapshot {
	return &policySnapshot{
		policy: *p,
		blacklist: lo.SliceToMap(p.BlacklistedIDs, func(id int64) (int64, struct{}) {
			return id, struct{}{}
		}),
	}
}

// PolicyStore serves the current policy to concurrent readers. Replace swaps
// the whole policy atomically, so a reader never sees half an update.
type PolicyStore struct {
	current atomic.Pointer[policySnapshot]
	path    string
}

// NewPolicyStore returns a store holding p. path may be empty when the
// policy is not file-backed.
func NewPolicyStore(p *Policy, path string) *PolicyStore {
	if p == nil {
		p = &Policy{}
	}
	s := &PolicyStore{path: path}
	s.current.Store(newSnapshot(p))
	return s
}

// OpenPolicyStore loads path and returns a store backed by it.
func OpenPolicyStore(path string) (*PolicyStore, error) {
	p, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	return NewPolicyStore(p, path), nil
}

// Replace installs p as the current policy.
func (s *PolicyStore) Replace(p *Policy) {
	s.current.Store(newSnapshot(p))
}

// Policy returns a copy of the current policy.
func (s *PolicyStore) Policy() Policy {
	return s.current.Load().policy
}

// IsBlacklisted reports whether userID may never receive a payout.
func (s *PolicyStore) IsBlacklisted(userID int64) bool {
	_, ok := s.current.Load().blacklist[userID]
	return ok
}

// ApproverGroups returns the approver thresholds.
func (s *PolicyStore) ApproverGroups() []models.AuthorizationGroup {
	return s.current.Load().policy.ApproverGroups
}

// RequesterGroups returns the requester thresholds.
func (s *PolicyStore) RequesterGroups() []models.AuthorizationGroup {
	return s.current.Load().policy.RequesterGroups
}

// AllowedOrigins returns the configured CORS origins.
func (s *PolicyStore) AllowedOrigins() []string {
	return s.current.Load().policy.CORS
}

// Reload re-reads the backing file. On error the current policy is kept.
func (s *PolicyStore) Reload() error {
	if s.path == "" {
		return nil
	}
	p, err := LoadPolicy(s.path)
	if err != nil {
		return err
	}
	s.Replace(p)
	return nil
}

// Watch reloads the policy whenever its file changes, until ctx is done.
// The parent directory is watched because editors and config managers
// usually replace the file rather than write it in place.
func (s *PolicyStore) Watch(ctx context.Context, logger *slog.Logger) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch policy directory: %w", err)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := s.Reload(); err != nil {
					logger.Warn("policy reload failed, keeping previous policy",
						slog.String("path", s.path), slog.String("error", err.Error()))
					continue
				}
				p := s.Policy()
				logger.Info("policy reloaded",
					slog.String("path", s.path),
					slog.Int("approver_groups", len(p.ApproverGroups)),
					slog.Int("requester_groups", len(p.RequesterGroups)),
					slog.Int("blacklisted", len(p.BlacklistedIDs)),
				)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("policy watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}
