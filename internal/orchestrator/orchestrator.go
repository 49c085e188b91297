// Package orchestrator runs the scripted lifecycle: rank upgrade, rank read,
// airdrop creation, participant init, activation and activation read.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tagAirdrop/internal/deploy"
	"tagAirdrop/internal/factory"
	"tagAirdrop/internal/lifecycle"
	"tagAirdrop/internal/model"
	"tagAirdrop/internal/rank"
)

// Exporter receives the final state, e.g. the Postgres store.
type Exporter interface {
	UpsertInstances(ctx context.Context, instances []model.ContractInstance) error
	UpsertUserStates(ctx context.Context, states []model.UserState) error
}

// Plan names the contracts and identities of one run.
type Plan struct {
	Factory common.Address
	// Operator owns the factory and initializes participants.
	Operator common.Address
	// Participant upgrades its rank and activates.
	Participant common.Address
	// Extra addresses initialized alongside the participant.
	Extra []common.Address
}

// Report is the outcome of every step.
type Report struct {
	UpgradedRank   uint64
	CurrentRank    uint64
	Instance       model.ContractInstance
	Initialized    []model.UserState
	Activation     model.UserState
	ChainActivated bool
	States         []model.UserState
}

type Runner struct {
	ranks    *rank.Tracker
	factory  *factory.Client
	airdrop  *lifecycle.Airdrop
	manifest *deploy.ManifestStore
	exporter Exporter
	logger   *zap.Logger
}

// NewRunner wires the clients. manifest and exporter may be nil.
func NewRunner(ranks *rank.Tracker, factoryClient *factory.Client, airdrop *lifecycle.Airdrop, manifest *deploy.ManifestStore, exporter Exporter, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		ranks:    ranks,
		factory:  factoryClient,
		airdrop:  airdrop,
		manifest: manifest,
		exporter: exporter,
		logger:   logger,
	}
}

// Run executes the steps in order and stops at the first failure. The report
// holds every step completed before it.
func (r *Runner) Run(ctx context.Context, plan Plan) (Report, error) {
	var report Report
	if plan.Factory == (common.Address{}) {
		return report, fmt.Errorf("factory address is required")
	}
	if plan.Participant == (common.Address{}) || plan.Operator == (common.Address{}) {
		return report, fmt.Errorf("operator and participant are required")
	}

	upgraded, err := r.ranks.Upgrade(ctx, plan.Participant)
	if err != nil {
		return report, fmt.Errorf("upgrade rank: %w", err)
	}
	report.UpgradedRank = upgraded

	current, err := r.ranks.CurrentRank(ctx, plan.Participant)
	if err != nil {
		return report, fmt.Errorf("read rank: %w", err)
	}
	report.CurrentRank = current
	r.logger.Info("rank", zap.String("address", plan.Participant.Hex()), zap.Uint64("rank", current))

	instance, err := r.factory.CreateInstance(ctx, plan.Operator, plan.Factory)
	if err != nil {
		return report, err
	}
	report.Instance = instance
	if err := r.record(instance); err != nil {
		return report, err
	}

	users := append([]common.Address{plan.Participant}, plan.Extra...)
	initialized, err := r.airdrop.UserInit(ctx, plan.Operator, instance.Address, users)
	if err != nil {
		return report, fmt.Errorf("init users: %w", err)
	}
	report.Initialized = initialized

	activation, err := r.airdrop.Activate(ctx, plan.Participant, instance.Address)
	if err != nil {
		return report, fmt.Errorf("activate: %w", err)
	}
	report.Activation = activation

	activated, err := r.airdrop.IsActivated(ctx, instance.Address, plan.Participant)
	if err != nil {
		return report, fmt.Errorf("read activation: %w", err)
	}
	report.ChainActivated = activated
	r.logger.Info("activation", zap.String("address", plan.Participant.Hex()), zap.Bool("activated", activated))

	report.States = WithRanks(r.airdrop.Machine().Snapshot(), r.ranks.Snapshot())
	if r.exporter != nil {
		if err := r.exporter.UpsertInstances(ctx, []model.ContractInstance{instance}); err != nil {
			return report, fmt.Errorf("export instance: %w", err)
		}
		if err := r.exporter.UpsertUserStates(ctx, report.States); err != nil {
			return report, fmt.Errorf("export states: %w", err)
		}
	}
	return report, nil
}

func (r *Runner) record(instance model.ContractInstance) error {
	if r.manifest == nil {
		return nil
	}
	manifest, _, err := r.manifest.Load()
	if err != nil {
		return err
	}
	manifest.AddAirdrop(instance)
	return r.manifest.Save(&manifest)
}

// WithRanks copies states and fills in the rank of each address.
func WithRanks(states []model.UserState, ranks map[common.Address]uint64) []model.UserState {
	out := make([]model.UserState, len(states))
	for i, state := range states {
		state.Rank = ranks[state.Address]
		out[i] = state
	}
	return out
}
