package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/qri-io/jsonschema"
)

// ErrInvalidPayload: тело уведомления шлюза не соответствует ожидаемой структуре.
var ErrInvalidPayload = errors.New("gateway: invalid callback payload")

const stkCallbackSchema = `{
	"type": "object",
	"required": ["Body"],
	"properties": {
		"Body": {
			"type": "object",
			"required": ["stkCallback"],
			"properties": {
				"stkCallback": {
					"type": "object",
					"required": ["MerchantRequestID", "CheckoutRequestID", "ResultCode"],
					"properties": {
						"MerchantRequestID": {"type": "string"},
						"CheckoutRequestID": {"type": "string", "minLength": 1},
						"ResultCode": {"type": "integer"},
						"ResultDesc": {"type": "string"},
						"CallbackMetadata": {
							"type": "object",
							"properties": {
								"Item": {
									"type": "array",
									"items": {
										"type": "object",
										"required": ["Name"],
										"properties": {"Name": {"type": "string"}}
									}
								}
							}
						}
					}
				}
			}
		}
	}
}`

const b2cResultSchema = `{
	"type": "object",
	"required": ["Result"],
	"properties": {
		"Result": {
			"type": "object",
			"required": ["ResultCode", "ConversationID"],
			"properties": {
				"ResultCode": {"type": "integer"},
				"ResultDesc": {"type": "string"},
				"ConversationID": {"type": "string", "minLength": 1},
				"OriginatorConversationID": {"type": "string"},
				"TransactionID": {"type": "string"}
			}
		}
	}
}`

// Validator проверяет структуру уведомлений шлюза по JSON-схемам,
// скомпилированным один раз при старте.
type Validator struct {
	stk *jsonschema.Schema
	b2c *jsonschema.Schema
}

// NewValidator компилирует схемы уведомлений.
func NewValidator() (*Validator, error) {
	stk := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(stkCallbackSchema), stk); err != nil {
		return nil, fmt.Errorf("compile stk callback schema: %w", err)
	}

	b2c := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(b2cResultSchema), b2c); err != nil {
		return nil, fmt.Errorf("compile b2c result schema: %w", err)
	}

	return &Validator{stk: stk, b2c: b2c}, nil
}

// ValidateSTK проверяет уведомление о результате STK push.
func (v *Validator) ValidateSTK(ctx context.Context, body []byte) error {
	return validate(ctx, v.stk, body)
}

// ValidateB2C проверяет уведомление о результате выплаты.
func (v *Validator) ValidateB2C(ctx context.Context, body []byte) error {
	return validate(ctx, v.b2c, body)
}

func validate(ctx context.Context, schema *jsonschema.Schema, body []byte) error {
	keyErrs, err := schema.ValidateBytes(ctx, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(keyErrs) > 0 {
		msgs := make([]string, 0, len(keyErrs))
		for _, ke := range keyErrs {
			msgs = append(msgs, ke.Error())
		}
		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(msgs, "; "))
	}
	return nil
}

// STKCallback: разобранное уведомление о результате списания.
type STKCallback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           string
	Amount            *float64
	Phone             string
	TransactionDate   string
}

// Succeeded сообщает, что плательщик подтвердил списание.
func (c *STKCallback) Succeeded() bool {
	return c.ResultCode == 0
}

type stkEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseSTKCallback извлекает из уведомления идентификатор запроса, код результата и метаданные платежа.
func ParseSTKCallback(body []byte) (*STKCallback, error) {
	var env stkEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	raw := env.Body.StkCallback
	if raw.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: пустой CheckoutRequestID", ErrInvalidPayload)
	}

	cb := &STKCallback{
		MerchantRequestID: raw.MerchantRequestID,
		CheckoutRequestID: raw.CheckoutRequestID,
		ResultCode:        raw.ResultCode,
		ResultDesc:        raw.ResultDesc,
	}

	if raw.CallbackMetadata == nil {
		return cb, nil
	}

	for _, item := range raw.CallbackMetadata.Item {
		value := scalarString(item.Value)
		switch item.Name {
		case "Amount":
			if amount, err := strconv.ParseFloat(value, 64); err == nil {
				cb.Amount = &amount
			}
		case "MpesaReceiptNumber":
			cb.Receipt = value
		case "PhoneNumber":
			cb.Phone = value
		case "TransactionDate":
			cb.TransactionDate = value
		}
	}

	return cb, nil
}

// B2CResult: уведомление о результате выплаты исполнителю.
type B2CResult struct {
	ResultCode               int    `json:"ResultCode"`
	ResultDesc               string `json:"ResultDesc"`
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	TransactionID            string `json:"TransactionID"`
}

func (r *B2CResult) Succeeded() bool {
	return r.ResultCode == 0
}

// ParseB2CResult разбирает уведомление о выплате.
func ParseB2CResult(body []byte) (*B2CResult, error) {
	var env struct {
		Result B2CResult `json:"Result"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Result.ConversationID == "" {
		return nil, fmt.Errorf("%w: пустой ConversationID", ErrInvalidPayload)
	}
	return &env.Result, nil
}

// scalarString приводит строковое или числовое значение метаданных к строке.
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(raw), `"`)
}
