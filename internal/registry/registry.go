// Package registry tracks the contracts under monitoring and restores them on start.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/akmatori/contractmon/internal/checks"
	"github.com/akmatori/contractmon/internal/clock"
	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/database"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/utils"
)

// ErrNotFound is returned for unknown contract names
var ErrNotFound = errors.New("contract not registered")

// Store persists registrations for cold-start recovery
type Store interface {
	SaveRegisteredContract(ctx context.Context, rec *database.RegisteredContractRecord) error
	LoadActiveContracts(ctx context.Context) ([]database.RegisteredContractRecord, error)
	SetContractActive(ctx context.Context, name string, active bool) error
	SaveLastCheck(ctx context.Context, name, checkType string, at time.Time) error
}

// RegisteredContract is a contract under monitoring with its effective config
type RegisteredContract struct {
	Contract     models.Contract                `json:"contract"`
	Overrides    *config.Overrides              `json:"overrides,omitempty"`
	Config       config.MonitoringConfig        `json:"-"`
	LastChecks   map[models.CheckType]time.Time `json:"last_checks"`
	Active       bool                           `json:"active"`
	RegisteredAt time.Time                      `json:"registered_at"`
}

func (rc *RegisteredContract) clone() RegisteredContract {
	out := *rc
	out.LastChecks = make(map[models.CheckType]time.Time, len(rc.LastChecks))
	for k, v := range rc.LastChecks {
		out.LastChecks[k] = v
	}
	return out
}

// Registry is the in-memory set of registered contracts.
// The store is optional; without it registrations live only in memory.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]*RegisteredContract
	global    config.MonitoringConfig
	store     Store
	clock     clock.Clock

	// cold-start fallback
	catalog     checks.Catalog
	definitions []config.ContractDefinition

	onDeregister []func(name string)
}

// Options configures a Registry
type Options struct {
	Global      config.MonitoringConfig
	Store       Store
	Catalog     checks.Catalog
	Definitions []config.ContractDefinition
	Clock       clock.Clock
}

// New creates a registry
func New(opts Options) *Registry {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Registry{
		contracts:   make(map[string]*RegisteredContract),
		global:      opts.Global,
		store:       opts.Store,
		clock:       clk,
		catalog:     opts.Catalog,
		definitions: opts.Definitions,
	}
}

// OnDeregister adds a hook run after a contract is deregistered
func (r *Registry) OnDeregister(fn func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDeregister = append(r.onDeregister, fn)
}

// Register adds a contract. Registering the same name and version again is a
// no-op; a different version replaces the previous registration.
func (r *Registry) Register(ctx context.Context, contract models.Contract, overrides *config.Overrides) error {
	rc, changed, err := r.put(contract, overrides, nil)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	log.Printf("Registry: registered contract %s", contract.Key())
	r.persist(ctx, rc)
	return nil
}

// put validates and stores a registration in memory
func (r *Registry) put(contract models.Contract, overrides *config.Overrides, lastChecks map[models.CheckType]time.Time) (RegisteredContract, bool, error) {
	if err := contract.Validate(); err != nil {
		return RegisteredContract{}, false, err
	}
	def := config.ContractDefinition{Contract: contract, Monitoring: overrides}
	cfg, err := def.EffectiveConfig(r.global)
	if err != nil {
		return RegisteredContract{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.contracts[contract.Name]; ok && existing.Active && existing.Contract.Version == contract.Version {
		return existing.clone(), false, nil
	}

	if lastChecks == nil {
		lastChecks = make(map[models.CheckType]time.Time)
	}
	rc := &RegisteredContract{
		Contract:     contract,
		Overrides:    overrides,
		Config:       cfg,
		LastChecks:   lastChecks,
		Active:       true,
		RegisteredAt: r.clock.Now(),
	}
	r.contracts[contract.Name] = rc
	return rc.clone(), true, nil
}

func (r *Registry) persist(ctx context.Context, rc RegisteredContract) {
	if r.store == nil {
		return
	}
	def := config.ContractDefinition{Contract: rc.Contract, Monitoring: rc.Overrides}
	payload, err := json.Marshal(def)
	if err != nil {
		log.Printf("Warning: Registry: failed to encode contract %s: %v", rc.Contract.Name, err)
		return
	}
	rec := &database.RegisteredContractRecord{
		Name:         rc.Contract.Name,
		Version:      rc.Contract.Version,
		Definition:   string(payload),
		Active:       true,
		RegisteredAt: rc.RegisteredAt,
	}
	if err := r.store.SaveRegisteredContract(ctx, rec); err != nil {
		log.Printf("Warning: Registry: failed to persist contract %s: %s", rc.Contract.Name, utils.SanitizeError(err))
	}
}

// Deregister marks a contract inactive. Its history is kept.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	r.mu.Lock()
	rc, ok := r.contracts[name]
	if !ok || !rc.Active {
		r.mu.Unlock()
		return ErrNotFound
	}
	rc.Active = false
	hooks := append([]func(string){}, r.onDeregister...)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SetContractActive(ctx, name, false); err != nil && !errors.Is(err, database.ErrNotFound) {
			log.Printf("Warning: Registry: failed to persist deregistration of %s: %s", name, utils.SanitizeError(err))
		}
	}
	for _, fn := range hooks {
		fn(name)
	}

	log.Printf("Registry: deregistered contract %s", name)
	return nil
}

// ListActive returns active registrations sorted by name
func (r *Registry) ListActive() []RegisteredContract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RegisteredContract, 0, len(r.contracts))
	for _, rc := range r.contracts {
		if rc.Active {
			out = append(out, rc.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Contract.Name < out[j].Contract.Name })
	return out
}

// Get returns an active registration by name
func (r *Registry) Get(name string) (RegisteredContract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.contracts[name]
	if !ok || !rc.Active {
		return RegisteredContract{}, false
	}
	return rc.clone(), true
}

// MarkChecked records the start time of the latest execution of a check type
func (r *Registry) MarkChecked(ctx context.Context, name string, ct models.CheckType, at time.Time) {
	r.mu.Lock()
	rc, ok := r.contracts[name]
	if ok {
		rc.LastChecks[ct] = at
	}
	r.mu.Unlock()
	if !ok || r.store == nil {
		return
	}
	if err := r.store.SaveLastCheck(ctx, name, string(ct), at); err != nil {
		log.Printf("Warning: Registry: failed to persist last check for %s/%s: %s", name, ct, utils.SanitizeError(err))
	}
}

// RestoreResult describes where a cold start found its contracts
type RestoreResult struct {
	Source   string // "store" or "catalog"
	Restored int
	Skipped  int
}

// Restore loads contracts on process start: first from the store, and only
// when that fails or is empty, by discovering deployed tables in the catalog
// and reconciling them with the configured definitions.
func (r *Registry) Restore(ctx context.Context) (RestoreResult, error) {
	result, err := r.restoreFromStore(ctx)
	if err == nil && result.Restored > 0 {
		return result, nil
	}

	if err != nil {
		log.Printf("Warning: Registry: store unavailable (%s), falling back to catalog discovery", utils.SanitizeError(err))
	} else {
		log.Printf("Warning: Registry: no contracts in store, falling back to catalog discovery")
	}
	return r.discoverFromCatalog(ctx)
}

func (r *Registry) restoreFromStore(ctx context.Context) (RestoreResult, error) {
	result := RestoreResult{Source: "store"}
	if r.store == nil {
		return result, fmt.Errorf("no persistence store configured")
	}

	recs, err := r.store.LoadActiveContracts(ctx)
	if err != nil {
		return result, err
	}

	for _, rec := range recs {
		var def config.ContractDefinition
		if err := json.Unmarshal([]byte(rec.Definition), &def); err != nil {
			log.Printf("Warning: Registry: skipping stored contract %s: %v", rec.Name, err)
			result.Skipped++
			continue
		}
		if _, _, err := r.put(def.Contract, def.Monitoring, parseLastChecks(rec.LastChecks)); err != nil {
			log.Printf("Warning: Registry: skipping stored contract %s: %v", rec.Name, err)
			result.Skipped++
			continue
		}
		result.Restored++
	}

	log.Printf("Registry: restored %d contract(s) from store", result.Restored)
	return result, nil
}

func (r *Registry) discoverFromCatalog(ctx context.Context) (RestoreResult, error) {
	result := RestoreResult{Source: "catalog"}
	if r.catalog == nil {
		return result, fmt.Errorf("no catalog configured for discovery")
	}

	deployed := make(map[string]bool)
	namespaces, err := r.catalog.ListNamespaces(ctx)
	if err != nil {
		return result, fmt.Errorf("list namespaces: %w", err)
	}
	for _, ns := range namespaces {
		tables, err := r.catalog.ListTables(ctx, ns)
		if err != nil {
			return result, fmt.Errorf("list tables in %s: %w", ns, err)
		}
		for _, table := range tables {
			deployed[strings.ToLower(models.Location{Namespace: ns, Table: table}.QualifiedName())] = true
		}
	}

	for _, def := range r.definitions {
		name := strings.ToLower(def.Contract.Location.QualifiedName())
		if !deployed[name] {
			log.Printf("Warning: Registry: contract %s is not deployed (%s not found in catalog), skipping",
				def.Contract.Name, def.Contract.Location.QualifiedName())
			result.Skipped++
			continue
		}
		if err := r.Register(ctx, def.Contract, def.Monitoring); err != nil {
			log.Printf("Warning: Registry: skipping contract %s: %v", def.Contract.Name, err)
			result.Skipped++
			continue
		}
		result.Restored++
	}

	log.Printf("Registry: discovered %d contract(s) from catalog (%d skipped)", result.Restored, result.Skipped)
	return result, nil
}

func parseLastChecks(raw database.JSONB) map[models.CheckType]time.Time {
	out := make(map[models.CheckType]time.Time, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		ct, err := models.ParseCheckType(k)
		if err != nil {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			continue
		}
		out[ct] = t.UTC()
	}
	return out
}
