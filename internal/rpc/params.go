package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/nimasrn/anchor-platform/internal/model"
)

// BaseParams carries the fields every method accepts.
type BaseParams struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	Message       string `json:"message"`
}

func (b *BaseParams) common() *BaseParams { return b }

type params interface {
	common() *BaseParams
}

// TransactionID extracts params.transaction_id without decoding the method
// specific fields. Malformed params yield an empty id.
func TransactionID(raw json.RawMessage) string {
	var base BaseParams
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		return ""
	}
	return base.TransactionID
}

// AmountsParams are the amount fields shared by the funds and amounts methods.
type AmountsParams struct {
	AmountIn       *model.Amount     `json:"amount_in"`
	AmountOut      *model.Amount     `json:"amount_out"`
	AmountFee      *model.Amount     `json:"amount_fee"`
	FeeDetails     *model.FeeDetails `json:"fee_details"`
	AmountExpected *model.Amount     `json:"amount_expected"`
}

func (a AmountsParams) hasFee() bool { return a.AmountFee != nil || a.FeeDetails != nil }

func (a AmountsParams) fee() *model.Fee {
	if a.FeeDetails != nil {
		return model.FeeFromDetails(a.FeeDetails)
	}
	return model.FeeFromAmount(a.AmountFee)
}

type InteractiveFlowCompletedParams struct {
	BaseParams
	AmountsParams
}

type OffchainFundsRequestParams struct {
	BaseParams
	AmountsParams
	UserActionRequiredBy *time.Time `json:"user_action_required_by"`
}

type OnchainFundsRequestParams struct {
	BaseParams
	AmountsParams
	UserActionRequiredBy *time.Time `json:"user_action_required_by"`
	DestinationAccount   string     `json:"destination_account"`
	Memo                 string     `json:"memo"`
	MemoType             string     `json:"memo_type" validate:"omitempty,oneof=text id hash"`
}

type OffchainFundsReceivedParams struct {
	BaseParams
	AmountsParams
	FundsReceivedAt       *time.Time `json:"funds_received_at"`
	ExternalTransactionID string     `json:"external_transaction_id"`
}

type OnchainFundsReceivedParams struct {
	BaseParams
	AmountsParams
	FundsReceivedAt      *time.Time `json:"funds_received_at"`
	StellarTransactionID string     `json:"stellar_transaction_id" validate:"required"`
}

type OnchainFundsSentParams struct {
	BaseParams
	StellarTransactionID string `json:"stellar_transaction_id" validate:"required"`
}

type OffchainFundsParams struct {
	BaseParams
	ExternalTransactionID string     `json:"external_transaction_id"`
	FundsReceivedAt       *time.Time `json:"funds_received_at"`
}

type CustomerInfoUpdatedParams struct {
	BaseParams
	CustomerStatus string `json:"customer_status" validate:"omitempty,oneof=accepted processing needs_info rejected"`
}

type CustomerInfoUpdateParams struct {
	BaseParams
	RequiredCustomerInfoMessage string   `json:"required_customer_info_message"`
	RequiredCustomerInfoUpdates []string `json:"required_customer_info_updates"`
}

type RefundParam struct {
	ID        string       `json:"id" validate:"required"`
	Amount    model.Amount `json:"amount"`
	AmountFee model.Amount `json:"amount_fee"`
}

type RefundParams struct {
	BaseParams
	Refund *RefundParam `json:"refund"`
}

type AmountsUpdatedParams struct {
	BaseParams
	AmountOut  *model.Amount     `json:"amount_out"`
	AmountFee  *model.Amount     `json:"amount_fee"`
	FeeDetails *model.FeeDetails `json:"fee_details"`
}

type AmountsAssetsUpdatedParams struct {
	BaseParams
	AmountIn   *model.Amount     `json:"amount_in"`
	AmountOut  *model.Amount     `json:"amount_out"`
	AmountFee  *model.Amount     `json:"amount_fee"`
	FeeDetails *model.FeeDetails `json:"fee_details"`
}

// GetTransactionsParams filter the read-only get_transactions method.
type GetTransactionsParams struct {
	Sep        model.Protocol `json:"sep" validate:"required,oneof=6 24 31"`
	Statuses   []model.Status `json:"statuses"`
	OrderBy    string         `json:"order_by" validate:"omitempty,oneof=created_at updated_at transfer_received_at user_action_required_by"`
	Order      string         `json:"order" validate:"omitempty,oneof=asc desc"`
	PageNumber int            `json:"page_number" validate:"gte=0"`
	PageSize   int            `json:"page_size" validate:"gte=0,lte=200"`
}

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeParams unmarshals raw into dst and runs the struct tag checks.
func decodeParams(v *validator.Validate, raw json.RawMessage, dst any) error {
	if err := unmarshalParams(raw, dst); err != nil {
		return err
	}
	return validateStruct(v, dst)
}

func unmarshalParams(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return InvalidParams("params are required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return InvalidParams("invalid params: %s", err.Error())
	}
	return nil
}

func validateStruct(v *validator.Validate, dst any) error {
	err := v.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return InvalidParams("%s", err.Error())
	}
	return InvalidParams("%s", describeFieldError(verrs[0]))
}

func describeFieldError(fe validator.FieldError) string {
	// Go type and embedded struct names are capitalized, json names are not.
	var parts []string
	for _, part := range strings.Split(fe.Namespace(), ".") {
		if part != "" && !unicode.IsUpper(rune(part[0])) {
			parts = append(parts, part)
		}
	}
	field := strings.Join(parts, ".")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// ValidateStruct exposes the tag checks to the read-only methods served outside the machine.
func (m *Machine) ValidateStruct(dst any) error {
	return validateStruct(m.structs, dst)
}

// DecodeParams decodes and validates params for callers outside the machine.
func (m *Machine) DecodeParams(raw json.RawMessage, dst any) error {
	return decodeParams(m.structs, raw, dst)
}
