package splits

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Role string

const (
	RolePlatform  Role = "platform"
	RolePartner   Role = "partner"
	RoleAffiliate Role = "affiliate"
)

type Category string

const (
	CategoryMembership  Category = "membership"
	CategoryServices    Category = "services"
	CategoryEvents      Category = "events"
	CategoryAdvertising Category = "advertising"
	CategoryOther       Category = "other"
)

var (
	ErrUnknownCategory   = errors.New("unknown service category")
	ErrInvalidRule       = errors.New("invalid split rule")
	ErrNegativeAmount    = errors.New("amount must not be negative")
	ErrFixedExceedsTotal = errors.New("fixed shares exceed the payment total")
	ErrMissingPlatform   = errors.New("split tier has no platform share")
	ErrAmountOutOfRange  = errors.New("amount exceeds the supported maximum")
)

// Share is either a percentage of the amount left after fixed shares, or a fixed amount.
type Share struct {
	Role       Role  `yaml:"role" json:"role"`
	Percentage int   `yaml:"percentage,omitempty" json:"percentage,omitempty"`
	FixedCents int64 `yaml:"fixed_cents,omitempty" json:"fixed_cents,omitempty"`
}

// Rule holds the two tiers of a service category. A nil WithReferral means
// the category never pays referrals.
type Rule struct {
	WithReferral    []Share `yaml:"with_referral,omitempty"`
	WithoutReferral []Share `yaml:"without_referral"`
}

func (r Rule) PaysReferral() bool {
	return len(r.WithReferral) > 0
}

type RuleSet map[Category]Rule

// DefaultRules returns the product split table.
func DefaultRules() RuleSet {
	return RuleSet{
		CategoryMembership: {
			WithReferral: []Share{
				{Role: RolePlatform, Percentage: 40},
				{Role: RolePartner, Percentage: 40},
				{Role: RoleAffiliate, Percentage: 20},
			},
			WithoutReferral: []Share{
				{Role: RolePlatform, Percentage: 50},
				{Role: RolePartner, Percentage: 50},
			},
		},
		CategoryServices: {
			WithoutReferral: []Share{
				{Role: RolePlatform, Percentage: 60},
				{Role: RolePartner, Percentage: 40},
			},
		},
		CategoryEvents: {
			WithoutReferral: []Share{
				{Role: RolePlatform, Percentage: 70},
				{Role: RolePartner, Percentage: 30},
			},
		},
		CategoryAdvertising: {
			WithoutReferral: []Share{{Role: RolePlatform, Percentage: 100}},
		},
		CategoryOther: {
			WithoutReferral: []Share{{Role: RolePlatform, Percentage: 100}},
		},
	}
}

type ruleFile struct {
	Categories map[Category]Rule `yaml:"categories"`
}

// LoadRules reads category tiers from a YAML file and layers them over DefaultRules.
//
//	categories:
//	  services:
//	    without_referral:
//	      - {role: platform, percentage: 55}
//	      - {role: partner, percentage: 45}
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read split rules: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse split rules: %w", err)
	}

	rules := DefaultRules()
	for category, rule := range file.Categories {
		rules[category] = rule
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

func (rs RuleSet) For(category Category) (Rule, error) {
	if category == "" {
		category = CategoryMembership
	}
	rule, ok := rs[category]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return rule, nil
}

func (rs RuleSet) Validate() error {
	for category, rule := range rs {
		if len(rule.WithoutReferral) == 0 {
			return fmt.Errorf("%w: %s has no standard tier", ErrInvalidRule, category)
		}
		if err := validateTier(rule.WithoutReferral); err != nil {
			return fmt.Errorf("%s standard tier: %w", category, err)
		}
		if !rule.PaysReferral() {
			continue
		}
		if err := validateTier(rule.WithReferral); err != nil {
			return fmt.Errorf("%s referral tier: %w", category, err)
		}
		if !hasRole(rule.WithReferral, RoleAffiliate) {
			return fmt.Errorf("%w: %s referral tier has no affiliate share", ErrInvalidRule, category)
		}
	}
	return nil
}

func validateTier(shares []Share) error {
	seen := make(map[Role]bool, len(shares))
	percentTotal := 0
	hasPercent := false

	for _, share := range shares {
		if seen[share.Role] {
			return fmt.Errorf("%w: duplicate role %s", ErrInvalidRule, share.Role)
		}
		seen[share.Role] = true

		if share.Percentage != 0 && share.FixedCents != 0 {
			return fmt.Errorf("%w: %s has both percentage and fixed amount", ErrInvalidRule, share.Role)
		}
		if share.Percentage < 0 || share.Percentage > 100 || share.FixedCents < 0 {
			return fmt.Errorf("%w: %s share out of range", ErrInvalidRule, share.Role)
		}
		if share.FixedCents == 0 {
			hasPercent = true
			percentTotal += share.Percentage
		}
	}

	if !seen[RolePlatform] {
		return ErrMissingPlatform
	}
	if hasPercent && percentTotal != 100 {
		return fmt.Errorf("%w: percentages sum to %d", ErrInvalidRule, percentTotal)
	}
	return nil
}

func hasRole(shares []Share, role Role) bool {
	for _, share := range shares {
		if share.Role == role {
			return true
		}
	}
	return false
}
