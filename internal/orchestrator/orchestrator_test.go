package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"tagAirdrop/internal/chain/chaintest"
	"tagAirdrop/internal/contracts"
	"tagAirdrop/internal/deploy"
	"tagAirdrop/internal/factory"
	"tagAirdrop/internal/lifecycle"
	"tagAirdrop/internal/model"
	"tagAirdrop/internal/pipeline"
	"tagAirdrop/internal/rank"
)

var (
	rankAddr    = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	extraUser   = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

type recordingExporter struct {
	instances []model.ContractInstance
	states    []model.UserState
}

func (e *recordingExporter) UpsertInstances(ctx context.Context, instances []model.ContractInstance) error {
	e.instances = append(e.instances, instances...)
	return nil
}

func (e *recordingExporter) UpsertUserStates(ctx context.Context, states []model.UserState) error {
	e.states = append(e.states, states...)
	return nil
}

type env struct {
	runner      *Runner
	operator    common.Address
	participant common.Address
	manifest    *deploy.ManifestStore
	exporter    *recordingExporter
}

func newEnv(t *testing.T, factoryOwner *common.Address) env {
	t.Helper()
	backend := chaintest.NewBackend()
	backend.Noise = true
	network, err := chaintest.NewNetwork(backend)
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	operator, err := chaintest.NewSigner()
	if err != nil {
		t.Fatalf("operator: %v", err)
	}
	participant, err := chaintest.NewSigner()
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	schemas, err := contracts.DefaultSchemas()
	if err != nil {
		t.Fatalf("schemas: %v", err)
	}

	owner := operator.Address()
	if factoryOwner != nil {
		owner = *factoryOwner
	}
	network.InstallUserRank(rankAddr)
	network.InstallFactory(factoryAddr, owner)

	manifest := deploy.NewManifestStore(filepath.Join(t.TempDir(), "manifest.json"))
	exporter := &recordingExporter{}
	pipe := pipeline.New(backend, pipeline.Config{}, nil, operator, participant)
	runner := NewRunner(
		rank.NewTracker(pipe, schemas.Rank, rankAddr, nil),
		factory.NewClient(pipe, schemas.Factory, nil),
		lifecycle.NewAirdrop(pipe, schemas.Airdrop, lifecycle.NewMachine(schemas.Airdrop, nil), nil),
		manifest,
		exporter,
		nil,
	)
	return env{
		runner:      runner,
		operator:    operator.Address(),
		participant: participant.Address(),
		manifest:    manifest,
		exporter:    exporter,
	}
}

func TestRunLifecycle(t *testing.T) {
	e := newEnv(t, nil)
	report, err := e.runner.Run(context.Background(), Plan{
		Factory:     factoryAddr,
		Operator:    e.operator,
		Participant: e.participant,
		Extra:       []common.Address{extraUser},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.UpgradedRank != 1 || report.CurrentRank != 1 {
		t.Fatalf("unexpected ranks: %d %d", report.UpgradedRank, report.CurrentRank)
	}
	if report.Instance.Address == (common.Address{}) || report.Instance.CreatedAt == nil {
		t.Fatalf("instance incomplete: %+v", report.Instance)
	}
	if len(report.Initialized) != 2 {
		t.Fatalf("expected 2 initialized users, got %d", len(report.Initialized))
	}
	if report.Activation.State != model.Activated || !report.ChainActivated {
		t.Fatalf("participant not activated: %+v %v", report.Activation, report.ChainActivated)
	}

	for _, state := range report.States {
		if state.Activated() && !state.ClassMembership() {
			t.Fatalf("invariant broken for %s", state.Address.Hex())
		}
		switch state.Address {
		case e.participant:
			if state.Rank != 1 || state.State != model.Activated {
				t.Fatalf("participant state: %+v", state)
			}
		case extraUser:
			if state.State != model.Initialized {
				t.Fatalf("extra user state: %+v", state)
			}
		}
	}

	manifest, ok, err := e.manifest.Load()
	if err != nil || !ok {
		t.Fatalf("load manifest: %v %v", ok, err)
	}
	if latest, _ := manifest.LatestAirdrop(); latest != report.Instance.Address {
		t.Fatalf("manifest not updated: %s", latest.Hex())
	}
	if len(e.exporter.instances) != 1 || len(e.exporter.states) != len(report.States) {
		t.Fatalf("export incomplete: %d instances, %d states", len(e.exporter.instances), len(e.exporter.states))
	}
}

func TestRunStopsAtFailedCreation(t *testing.T) {
	stranger := common.HexToAddress("0x9999999999999999999999999999999999999999")
	e := newEnv(t, &stranger)

	report, err := e.runner.Run(context.Background(), Plan{
		Factory:     factoryAddr,
		Operator:    e.operator,
		Participant: e.participant,
	})
	if !errors.Is(err, factory.ErrInstanceCreationFailed) {
		t.Fatalf("expected instance creation failure, got %v", err)
	}
	if report.CurrentRank != 1 {
		t.Fatalf("earlier steps missing from report: %+v", report)
	}
	if report.Instance.Address != (common.Address{}) {
		t.Fatalf("unexpected instance: %s", report.Instance.Address.Hex())
	}
	if _, ok, _ := e.manifest.Load(); ok {
		t.Fatalf("manifest written for failed run")
	}
	if len(e.exporter.states) != 0 {
		t.Fatalf("failed run exported state")
	}
}

func TestRunValidatesPlan(t *testing.T) {
	e := newEnv(t, nil)
	if _, err := e.runner.Run(context.Background(), Plan{Operator: e.operator, Participant: e.participant}); err == nil {
		t.Fatalf("expected error without factory")
	}
}

func TestWithRanks(t *testing.T) {
	a := common.HexToAddress("0x01")
	states := []model.UserState{{Address: a, State: model.Initialized}}
	merged := WithRanks(states, map[common.Address]uint64{a: 4})
	if merged[0].Rank != 4 || states[0].Rank != 0 {
		t.Fatalf("unexpected merge: %+v / %+v", merged, states)
	}
}
