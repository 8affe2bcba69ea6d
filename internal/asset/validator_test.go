package asset

import (
	"testing"

	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/stretchr/testify/assert"
)

const (
	fiatUSD     = "iso4217:USD"
	stellarUSDC = "stellar:USDC:GDQOE23CFSUMSVQK4Y5JHPPYK73VYCNHZHA7ENKCV37P6SUEO6XQBKPP"
)

func TestValidator_Amount(t *testing.T) {
	v := NewValidator(Default())

	tests := []struct {
		name    string
		amount  *model.Amount
		sign    Sign
		wantErr string
	}{
		{"valid positive", &model.Amount{Amount: "100", Asset: fiatUSD}, Positive, ""},
		{"zero allowed when non-negative", &model.Amount{Amount: "0", Asset: fiatUSD}, NonNegative, ""},
		{"zero rejected when positive", &model.Amount{Amount: "0", Asset: fiatUSD}, Positive, "amount_in.amount should be positive"},
		{"negative", &model.Amount{Amount: "-1", Asset: fiatUSD}, NonNegative, "amount_in.amount should be non-negative"},
		{"empty", &model.Amount{Amount: "", Asset: fiatUSD}, Positive, "amount_in.amount cannot be empty"},
		{"garbage", &model.Amount{Amount: "abc", Asset: fiatUSD}, Positive, "amount_in.amount is invalid"},
		{"missing asset", &model.Amount{Amount: "1"}, Positive, "amount_in.asset cannot be empty"},
		{"unknown asset", &model.Amount{Amount: "1", Asset: "iso4217:JPY"}, Positive, "'iso4217:JPY' is not a supported asset."},
		{"too precise", &model.Amount{Amount: "1.00001", Asset: fiatUSD}, Positive, "'1.00001' has invalid significant decimals. Expected: '4'"},
		{"stellar precision", &model.Amount{Amount: "1.0000001", Asset: stellarUSDC}, Positive, ""},
		{"nil", nil, Positive, "amount_in is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Amount("amount_in", tt.amount, tt.sign)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestValidator_Schema(t *testing.T) {
	v := NewValidator(Default())

	assert.NoError(t, v.Schema("amount_in", fiatUSD, model.KindDeposit, SlotIn))
	assert.NoError(t, v.Schema("amount_out", stellarUSDC, model.KindDeposit, SlotOut))
	assert.NoError(t, v.Schema("amount_fee", fiatUSD, model.KindDepositExchange, SlotFee))
	assert.NoError(t, v.Schema("amount_in", stellarUSDC, model.KindWithdrawal, SlotIn))
	assert.NoError(t, v.Schema("amount_out", fiatUSD, model.KindWithdrawal, SlotOut))
	assert.NoError(t, v.Schema("amount_in", stellarUSDC, model.KindReceive, SlotIn))
	assert.NoError(t, v.Schema("amount_fee", stellarUSDC, model.KindReceive, SlotFee))

	assert.EqualError(t, v.Schema("amount_in", stellarUSDC, model.KindDeposit, SlotIn),
		"amount_in.asset should be non-stellar asset")
	assert.EqualError(t, v.Schema("amount_out", fiatUSD, model.KindDeposit, SlotOut),
		"amount_out.asset should be stellar asset")
	assert.EqualError(t, v.Schema("amount_in", fiatUSD, model.KindWithdrawalExchange, SlotIn),
		"amount_in.asset should be stellar asset")
	assert.EqualError(t, v.Schema("amount_out", stellarUSDC, model.KindReceive, SlotOut),
		"amount_out.asset should be non-stellar asset")
}

func TestValidator_FeeDetails(t *testing.T) {
	v := NewValidator(Default())

	t.Run("details add up", func(t *testing.T) {
		fd := &model.FeeDetails{Total: "5", Asset: fiatUSD, Details: []model.FeeDetail{
			{Name: "service", Amount: "3"},
			{Name: "network", Amount: "2.00"},
		}}
		assert.NoError(t, v.FeeDetails(fd, model.KindDeposit))
	})

	t.Run("details do not add up", func(t *testing.T) {
		fd := &model.FeeDetails{Total: "5", Asset: fiatUSD, Details: []model.FeeDetail{
			{Name: "service", Amount: "3"},
		}}
		assert.EqualError(t, v.FeeDetails(fd, model.KindDeposit),
			"fee_details.total is not equal to the sum of (fee_details.details.amount)")
	})

	t.Run("wrong schema", func(t *testing.T) {
		fd := &model.FeeDetails{Total: "1", Asset: stellarUSDC}
		assert.EqualError(t, v.FeeDetails(fd, model.KindDeposit), "fee_details.asset should be non-stellar asset")
	})
}
