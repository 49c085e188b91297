package contracts

import (
	"fmt"
	"sort"
	"strings"
)

// Names overrides schema method, event and field names. Keys are
// "<contract>.<name>", for example "factory.created_event".
type Names map[string]string

func (s *Schemas) nameTargets() map[string]*string {
	return map[string]*string{
		"rank.upgrade_method":         &s.Rank.UpgradeMethod,
		"rank.rank_query":             &s.Rank.RankQuery,
		"rank.rank_changed_event":     &s.Rank.RankChangedEvent,
		"rank.user_field":             &s.Rank.UserField,
		"rank.new_rank_field":         &s.Rank.NewRankField,
		"rank.tag_class_event":        &s.Rank.TagClassEvent,
		"rank.tag_class_field":        &s.Rank.TagClassField,
		"factory.create_method":       &s.Factory.CreateMethod,
		"factory.created_event":       &s.Factory.CreatedEvent,
		"factory.address_field":       &s.Factory.AddressField,
		"airdrop.init_method":         &s.Airdrop.InitMethod,
		"airdrop.activate_method":     &s.Airdrop.ActivateMethod,
		"airdrop.init_query":          &s.Airdrop.InitQuery,
		"airdrop.activate_query":      &s.Airdrop.ActivateQuery,
		"airdrop.user_init_event":     &s.Airdrop.UserInitEvent,
		"airdrop.users_field":         &s.Airdrop.UsersField,
		"airdrop.activate_event":      &s.Airdrop.ActivateEvent,
		"airdrop.activate_user_field": &s.Airdrop.ActivateUserField,
	}
}

// Rename applies names to the schemas. Unknown keys and empty names are
// rejected. The result still needs Validate against the ABIs.
func (s *Schemas) Rename(names Names) error {
	targets := s.nameTargets()
	keys := make([]string, 0, len(names))
	for key := range names {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		target, ok := targets[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			return fmt.Errorf("unknown schema name %q", key)
		}
		value := strings.TrimSpace(names[key])
		if value == "" {
			return fmt.Errorf("schema name %q is empty", key)
		}
		*target = value
	}
	return nil
}
