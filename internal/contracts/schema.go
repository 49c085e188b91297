package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// RankSchema describes the UserRank contract surface used by the client.
type RankSchema struct {
	ABI      abi.ABI
	Bytecode []byte

	UpgradeMethod    string
	RankQuery        string
	RankChangedEvent string
	UserField        string
	NewRankField     string
	TagClassEvent    string
	TagClassField    string
}

// FactorySchema describes the AirdropFactory contract surface.
type FactorySchema struct {
	ABI      abi.ABI
	Bytecode []byte
	// EventABI holds CreatedEvent. Factories that leave the event to the
	// created instance declare it only in the Airdrop ABI.
	EventABI abi.ABI

	CreateMethod string
	CreatedEvent string
	AddressField string
}

// AirdropSchema describes a factory-issued Airdrop contract.
type AirdropSchema struct {
	ABI abi.ABI

	InitMethod        string
	ActivateMethod    string
	InitQuery         string
	ActivateQuery     string
	UserInitEvent     string
	UsersField        string
	ActivateEvent     string
	ActivateUserField string
}

// Schemas bundles every contract schema loaded at startup.
type Schemas struct {
	Rank    RankSchema
	Factory FactorySchema
	Airdrop AirdropSchema
}

// DefaultSchemas returns the built-in ABIs with their default names.
func DefaultSchemas() (Schemas, error) {
	rankABI, err := UserRankABI()
	if err != nil {
		return Schemas{}, fmt.Errorf("parse user rank abi: %w", err)
	}
	factoryABI, err := AirdropFactoryABI()
	if err != nil {
		return Schemas{}, fmt.Errorf("parse airdrop factory abi: %w", err)
	}
	airdropABI, err := AirdropABI()
	if err != nil {
		return Schemas{}, fmt.Errorf("parse airdrop abi: %w", err)
	}

	return Schemas{
		Rank: RankSchema{
			ABI:              rankABI,
			UpgradeMethod:    "upgradeRank",
			RankQuery:        "getUserRank",
			RankChangedEvent: "RankChanged",
			UserField:        "user",
			NewRankField:     "newRank",
			TagClassEvent:    "UserRankTagClassCreated",
			TagClassField:    "userRankTagClassId",
		},
		Factory: FactorySchema{
			ABI:          factoryABI,
			EventABI:     factoryABI,
			CreateMethod: "createAirdropContract",
			CreatedEvent: "AirdropCreated",
			AddressField: "contractAddress",
		},
		Airdrop: AirdropSchema{
			ABI:               airdropABI,
			InitMethod:        "userInit",
			ActivateMethod:    "activate",
			InitQuery:         "isInit",
			ActivateQuery:     "isActivate",
			UserInitEvent:     "UserInit",
			UsersField:        "users",
			ActivateEvent:     "Activate",
			ActivateUserField: "user",
		},
	}, nil
}

// Validate checks that every configured name resolves in the ABIs.
func (s Schemas) Validate() error {
	checks := []struct {
		contract string
		parsed   abi.ABI
		methods  []string
		events   map[string][]string
	}{
		{
			contract: "UserRank",
			parsed:   s.Rank.ABI,
			methods:  []string{s.Rank.UpgradeMethod, s.Rank.RankQuery},
			events: map[string][]string{
				s.Rank.RankChangedEvent: {s.Rank.UserField, s.Rank.NewRankField},
				s.Rank.TagClassEvent:    {s.Rank.TagClassField},
			},
		},
		{
			contract: "AirdropFactory",
			parsed:   s.Factory.ABI,
			methods:  []string{s.Factory.CreateMethod},
		},
		{
			contract: "AirdropFactory event",
			parsed:   s.Factory.EventABI,
			events: map[string][]string{
				s.Factory.CreatedEvent: {s.Factory.AddressField},
			},
		},
		{
			contract: "Airdrop",
			parsed:   s.Airdrop.ABI,
			methods: []string{
				s.Airdrop.InitMethod,
				s.Airdrop.ActivateMethod,
				s.Airdrop.InitQuery,
				s.Airdrop.ActivateQuery,
			},
			events: map[string][]string{
				s.Airdrop.UserInitEvent: {s.Airdrop.UsersField},
				s.Airdrop.ActivateEvent: {s.Airdrop.ActivateUserField},
			},
		},
	}

	for _, check := range checks {
		for _, method := range check.methods {
			if _, ok := check.parsed.Methods[method]; !ok {
				return fmt.Errorf("%s: method %q not in abi", check.contract, method)
			}
		}
		for eventName, fields := range check.events {
			event, ok := check.parsed.Events[eventName]
			if !ok {
				return fmt.Errorf("%s: event %q not in abi", check.contract, eventName)
			}
			for _, field := range fields {
				if !hasInput(event.Inputs, field) {
					return fmt.Errorf("%s: event %q has no field %q", check.contract, eventName, field)
				}
			}
		}
	}
	return nil
}

func hasInput(args abi.Arguments, name string) bool {
	for _, arg := range args {
		if arg.Name == name {
			return true
		}
	}
	return false
}

// createdEventABI picks the ABI declaring the creation event: the factory's
// own, else the airdrop's.
func createdEventABI(event string, factory, airdrop abi.ABI) abi.ABI {
	if _, ok := factory.Events[event]; ok {
		return factory
	}
	if _, ok := airdrop.Events[event]; ok {
		return airdrop
	}
	return factory
}
