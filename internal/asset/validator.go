package asset

import (
	"errors"
	"fmt"

	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/shopspring/decimal"
)

// Slot names an amount field of a transaction.
type Slot int

const (
	SlotIn Slot = iota
	SlotOut
	SlotFee
)

// ExpectedSchema returns the asset schema a slot must use for kind: deposits
// take fiat in and pay out on-chain, withdrawals and receives take on-chain
// value in. Fees are charged in the incoming asset.
func ExpectedSchema(kind model.Kind, slot Slot) Schema {
	inbound := SchemaISO4217
	if kind.IsWithdrawal() || kind.IsReceive() {
		inbound = SchemaStellar
	}
	switch slot {
	case SlotOut:
		if kind.IsDeposit() {
			return SchemaStellar
		}
		return SchemaISO4217
	default:
		return inbound
	}
}

type Validator struct {
	registry Registry
}

func NewValidator(registry Registry) *Validator {
	return &Validator{registry: registry}
}

// Sign is the sign rule an amount must satisfy.
type Sign int

const (
	NonNegative Sign = iota
	Positive
)

// Amount checks value syntax, sign, asset support and precision of a.
func (v *Validator) Amount(field string, a *model.Amount, sign Sign) error {
	if a == nil {
		return fmt.Errorf("%s is required", field)
	}
	if _, err := ParseAmount(field, a.Amount, sign); err != nil {
		return err
	}
	if a.Asset == "" {
		return fmt.Errorf("%s.asset cannot be empty", field)
	}
	return v.precision(a.Amount, a.Asset)
}

// AmountOnly validates a value whose asset is implied by another field.
func (v *Validator) AmountOnly(field, value, assetID string, sign Sign) error {
	if _, err := ParseAmount(field, value, sign); err != nil {
		return err
	}
	if assetID == "" {
		return nil
	}
	return v.precision(value, assetID)
}

func (v *Validator) precision(value, assetID string) error {
	asset, ok := v.registry.Get(assetID)
	if !ok {
		return fmt.Errorf("'%s' is not a supported asset.", assetID)
	}
	d, _ := decimal.NewFromString(value)
	if d.Exponent() < 0 && -d.Exponent() > asset.SignificantDecimals {
		return fmt.Errorf("'%s' has invalid significant decimals. Expected: '%d'", value, asset.SignificantDecimals)
	}
	return nil
}

// Schema checks that assetID uses the schema slot requires for kind.
func (v *Validator) Schema(field string, assetID string, kind model.Kind, slot Slot) error {
	want := ExpectedSchema(kind, slot)
	if SchemaOfID(assetID) == want {
		return nil
	}
	if want == SchemaStellar {
		return fmt.Errorf("%s.asset should be stellar asset", field)
	}
	return fmt.Errorf("%s.asset should be non-stellar asset", field)
}

// FeeDetails validates the total and that itemized amounts add up to it.
func (v *Validator) FeeDetails(fd *model.FeeDetails, kind model.Kind) error {
	if fd == nil {
		return errors.New("fee_details is required")
	}
	if err := v.Amount("fee_details", &model.Amount{Amount: fd.Total, Asset: fd.Asset}, NonNegative); err != nil {
		return err
	}
	if err := v.Schema("fee_details", fd.Asset, kind, SlotFee); err != nil {
		return err
	}
	if len(fd.Details) == 0 {
		return nil
	}

	total, _ := decimal.NewFromString(fd.Total)
	sum := decimal.Zero
	for _, d := range fd.Details {
		if d.Name == "" {
			return errors.New("fee_details.details.name cannot be empty")
		}
		amt, err := ParseAmount("fee_details.details", d.Amount, NonNegative)
		if err != nil {
			return err
		}
		sum = sum.Add(amt)
	}
	if !sum.Equal(total) {
		return errors.New("fee_details.total is not equal to the sum of (fee_details.details.amount)")
	}
	return nil
}

// ParseAmount parses a decimal string and applies the sign rule.
func ParseAmount(field, value string, sign Sign) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, fmt.Errorf("%s.amount cannot be empty", field)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s.amount is invalid", field)
	}
	switch sign {
	case Positive:
		if !d.IsPositive() {
			return decimal.Zero, fmt.Errorf("%s.amount should be positive", field)
		}
	default:
		if d.IsNegative() {
			return decimal.Zero, fmt.Errorf("%s.amount should be non-negative", field)
		}
	}
	return d, nil
}

// MustDecimal parses a value already accepted by ParseAmount.
func MustDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}
