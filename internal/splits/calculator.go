package splits

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/temmyjay001/payments-core/internal/gateway"
)

// Warning codes surfaced when a referral could not be honoured.
const (
	WarnReferralNotFound      = "referral_not_found"
	WarnReferralInactive      = "referral_inactive"
	WarnReferralNoWallet      = "referral_wallet_missing"
	WarnReferralWalletInvalid = "referral_wallet_invalid"
	WarnReferralUnverified    = "referral_wallet_unverified"
	WarnReferralNotApplicable = "referral_not_applicable"
)

const (
	TierReferral = "referral"
	TierStandard = "standard"
)

var ErrReferralNotFound = errors.New("referral not found")

type Referral struct {
	Code        string
	AffiliateID string
	WalletRef   string
	Active      bool
}

// ReferralResolver looks up the affiliate behind a referral code.
type ReferralResolver interface {
	ResolveReferral(ctx context.Context, code string) (*Referral, error)
}

// WalletValidator checks a payout wallet with the gateway.
type WalletValidator interface {
	ValidateWallet(ctx context.Context, walletID string) (bool, error)
}

type Recipient struct {
	Ref              string `json:"recipient_ref,omitempty"`
	Role             Role   `json:"role"`
	Percentage       int    `json:"percentage,omitempty"`
	FixedAmountCents int64  `json:"fixed_amount_cents,omitempty"`
	AmountCents      int64  `json:"amount_cents"`
}

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Configuration struct {
	TotalCents   int64       `json:"total_cents"`
	Category     Category    `json:"category"`
	Tier         string      `json:"tier"`
	ReferralCode string      `json:"referral_code,omitempty"`
	AffiliateID  string      `json:"affiliate_id,omitempty"`
	Recipients   []Recipient `json:"recipients"`
	Warnings     []Warning   `json:"warnings,omitempty"`
}

func (c *Configuration) SumCents() int64 {
	var sum int64
	for _, r := range c.Recipients {
		sum += r.AmountCents
	}
	return sum
}

func (c *Configuration) HasWarnings() bool {
	return len(c.Warnings) > 0
}

func (c *Configuration) Recipient(role Role) (Recipient, bool) {
	for _, r := range c.Recipients {
		if r.Role == role {
			return r, true
		}
	}
	return Recipient{}, false
}

// GatewaySplits converts the configuration into gateway payout instructions.
// The platform share stays in the charging account and is never sent.
func (c *Configuration) GatewaySplits() []gateway.SplitEntry {
	var entries []gateway.SplitEntry
	for _, r := range c.Recipients {
		if r.Role == RolePlatform || r.Ref == "" || r.AmountCents <= 0 {
			continue
		}
		value := CentsToDecimal(r.AmountCents)
		entries = append(entries, gateway.SplitEntry{
			WalletID:    r.Ref,
			FixedValue:  &value,
			Description: fmt.Sprintf("%s share", r.Role),
		})
	}
	return entries
}

type Calculator struct {
	rules       RuleSet
	platformRef string
	partnerRef  string
	referrals   ReferralResolver
	wallets     WalletValidator
}

func NewCalculator(rules RuleSet, platformRef, partnerRef string, referrals ReferralResolver, wallets WalletValidator) *Calculator {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Calculator{
		rules:       rules,
		platformRef: platformRef,
		partnerRef:  partnerRef,
		referrals:   referrals,
		wallets:     wallets,
	}
}

// ComputeSplit divides total among the recipients of category. A referral that
// cannot be verified never fails the call: the standard tier is used and a
// warning is attached instead.
func (c *Calculator) ComputeSplit(ctx context.Context, total decimal.Decimal, category Category, referralCode string) (*Configuration, error) {
	cents, err := ToCents(total)
	if err != nil {
		return nil, err
	}

	rule, err := c.rules.For(category)
	if err != nil {
		return nil, err
	}
	if category == "" {
		category = CategoryMembership
	}

	cfg := &Configuration{
		TotalCents:   cents,
		Category:     category,
		Tier:         TierStandard,
		ReferralCode: referralCode,
	}

	shares := rule.WithoutReferral
	var referral *Referral

	if referralCode != "" {
		if !rule.PaysReferral() {
			cfg.addWarning(WarnReferralNotApplicable, fmt.Sprintf("category %s does not pay referrals", category))
		} else if ref, warning := c.verifyReferral(ctx, referralCode); warning != nil {
			cfg.Warnings = append(cfg.Warnings, *warning)
			log.Printf("Split for referral %s falls back to standard tier: %s", referralCode, warning.Message)
		} else {
			referral = ref
			shares = rule.WithReferral
			cfg.Tier = TierReferral
			cfg.AffiliateID = ref.AffiliateID
		}
	}

	amounts, err := Allocate(cents, shares)
	if err != nil {
		return nil, err
	}

	for i, share := range shares {
		if amounts[i] <= 0 {
			continue
		}
		cfg.Recipients = append(cfg.Recipients, Recipient{
			Ref:              c.refFor(share.Role, referral),
			Role:             share.Role,
			Percentage:       share.Percentage,
			FixedAmountCents: share.FixedCents,
			AmountCents:      amounts[i],
		})
	}

	return cfg, nil
}

func (c *Calculator) verifyReferral(ctx context.Context, code string) (*Referral, *Warning) {
	if c.referrals == nil {
		return nil, &Warning{Code: WarnReferralNotFound, Message: "referral lookup is not configured"}
	}

	ref, err := c.referrals.ResolveReferral(ctx, code)
	if err != nil || ref == nil {
		if err != nil && !errors.Is(err, ErrReferralNotFound) {
			log.Printf("Failed to resolve referral %s: %v", code, err)
		}
		return nil, &Warning{Code: WarnReferralNotFound, Message: fmt.Sprintf("referral %s not found", code)}
	}

	if !ref.Active {
		return nil, &Warning{Code: WarnReferralInactive, Message: fmt.Sprintf("referral %s is not active", code)}
	}

	if ref.WalletRef == "" {
		return nil, &Warning{Code: WarnReferralNoWallet, Message: fmt.Sprintf("referral %s has no payout wallet", code)}
	}

	if c.wallets == nil {
		return nil, &Warning{Code: WarnReferralUnverified, Message: "wallet validation is not configured"}
	}

	valid, err := c.wallets.ValidateWallet(ctx, ref.WalletRef)
	if err != nil {
		log.Printf("Failed to validate wallet %s for referral %s: %v", ref.WalletRef, code, err)
		return nil, &Warning{Code: WarnReferralUnverified, Message: fmt.Sprintf("wallet %s could not be verified", ref.WalletRef)}
	}
	if !valid {
		return nil, &Warning{Code: WarnReferralWalletInvalid, Message: fmt.Sprintf("wallet %s is not a valid payout wallet", ref.WalletRef)}
	}

	return ref, nil
}

func (c *Calculator) refFor(role Role, referral *Referral) string {
	switch role {
	case RolePlatform:
		return c.platformRef
	case RolePartner:
		return c.partnerRef
	case RoleAffiliate:
		if referral != nil {
			return referral.WalletRef
		}
	}
	return ""
}

func (c *Configuration) addWarning(code, message string) {
	c.Warnings = append(c.Warnings, Warning{Code: code, Message: message})
}

// MaxCents bounds every amount the calculator accepts. Percentage shares
// multiply the base by up to 100, which must stay inside int64.
const MaxCents int64 = 1_000_000_000_000_000

var maxCentsDecimal = decimal.NewFromInt(MaxCents)

// ToCents converts a currency amount to integer cents, rounding half away from zero.
func ToCents(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	cents := amount.Shift(2).Round(0)
	if cents.GreaterThan(maxCentsDecimal) {
		return 0, ErrAmountOutOfRange
	}
	return cents.IntPart(), nil
}

func CentsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Allocate splits totalCents across shares. Fixed shares are taken first,
// percentages apply to what is left and are floored, and the rounding
// remainder goes to the platform share. The result always sums to totalCents.
func Allocate(totalCents int64, shares []Share) ([]int64, error) {
	if totalCents < 0 {
		return nil, ErrNegativeAmount
	}
	if totalCents > MaxCents {
		return nil, ErrAmountOutOfRange
	}

	amounts := make([]int64, len(shares))
	platform := -1
	var fixedTotal int64

	for i, share := range shares {
		if share.Role == RolePlatform && platform < 0 {
			platform = i
		}
		if share.FixedCents > totalCents {
			return nil, ErrFixedExceedsTotal
		}
		if share.FixedCents > 0 {
			amounts[i] = share.FixedCents
			fixedTotal += share.FixedCents
		}
	}
	if platform < 0 {
		return nil, ErrMissingPlatform
	}
	if fixedTotal > totalCents {
		return nil, ErrFixedExceedsTotal
	}

	base := totalCents - fixedTotal
	allocated := fixedTotal
	for i, share := range shares {
		if share.FixedCents > 0 {
			continue
		}
		amounts[i] = base * int64(share.Percentage) / 100
		allocated += amounts[i]
	}

	amounts[platform] += totalCents - allocated
	return amounts, nil
}
