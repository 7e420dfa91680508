/*
Package factory provides JSON to Go payload conversion.

PURPOSE:
  Converts the JSON payload of a change request into the typed
  changerequest.Payload variant for its type, and back. Clients and the
  database only ever see JSON; the engine only ever sees typed variants.

JSON SCHEMA (per type):
  DELETE_PERSON, DEACTIVATE_PERSON:
    {"reason": "..."}
  TRANSFER_PERSON, CHANGE_UNIT:
    {"toUnitId": "u-2", "reason": "..."}
  CHANGE_GRADE:
    {"newGradeId": "g-3", "reason": "..."}
  UPDATE_PERSON:
    {"patch": {"phone": "555", "notes": null}, "reason": "..."}
    {"meta": {"patch": {...}}}          (older clients)
  CREATE_USER:
    {"user": {"username": "...", "email": "...", "role": "OFFICER",
              "unitId": "u-1", "mustChangePassword": true}}

TWO MODES:
  Parse:  Submissions. Struct tags and Payload.Validate are enforced and
          failures are VALIDATION_ERROR.
  Decode: Stored rows. Never fails on missing fields; the engine validates
          again at approval time and reports INVALID_PAYLOAD.

USAGE:
  f := NewPayloadFactory()
  payload, err := f.Parse(changerequest.TypeTransferPerson, body)
  raw, err := f.Encode(payload)

SEE ALSO:
  - changerequest/payload.go: Variant definitions
  - store/sqlite/sqlite.go: Stores Encode output
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/warp/personnel-engine/changerequest"
	"github.com/warp/personnel-engine/personnel"
)

// =============================================================================
// PAYLOAD FACTORY
// =============================================================================

// PayloadFactory converts JSON payloads to typed variants.
type PayloadFactory struct {
	validate *validator.Validate
}

// NewPayloadFactory creates a new payload factory.
func NewPayloadFactory() *PayloadFactory {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &PayloadFactory{validate: v}
}

// Parse decodes and validates a submitted payload.
func (f *PayloadFactory) Parse(t changerequest.Type, data []byte) (changerequest.Payload, error) {
	payload, err := f.decode(t, data)
	if err != nil {
		return nil, personnel.Wrap(personnel.CodeValidation, err, "invalid payload")
	}
	if err := f.validate.Struct(payload); err != nil {
		return nil, personnel.Errorf(personnel.CodeValidation, "%s", describe(err))
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

// Decode converts a stored payload without validating it.
func (f *PayloadFactory) Decode(t changerequest.Type, data []byte) (changerequest.Payload, error) {
	payload, err := f.decode(t, data)
	if err != nil {
		return nil, personnel.Wrap(personnel.CodeInvalidPayload, err, "stored payload is unreadable")
	}
	return payload, nil
}

// Encode serializes a payload for storage or responses.
func (f *PayloadFactory) Encode(p changerequest.Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.Type(), err)
	}
	return data, nil
}

// =============================================================================
// DECODING
// =============================================================================

func (f *PayloadFactory) decode(t changerequest.Type, data []byte) (changerequest.Payload, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}

	switch t {
	case changerequest.TypeDeletePerson:
		return decodeAs[changerequest.DeletePersonPayload](data)
	case changerequest.TypeDeactivatePerson:
		return decodeAs[changerequest.DeactivatePersonPayload](data)
	case changerequest.TypeTransferPerson:
		return decodeAs[changerequest.TransferPersonPayload](data)
	case changerequest.TypeChangeUnit:
		return decodeAs[changerequest.ChangeUnitPayload](data)
	case changerequest.TypeChangeGrade:
		return decodeAs[changerequest.ChangeGradePayload](data)
	case changerequest.TypeUpdatePerson:
		return decodeUpdatePerson(data)
	case changerequest.TypeCreateUser:
		return decodeAs[changerequest.CreateUserPayload](data)
	default:
		return nil, fmt.Errorf("unknown request type %q", t)
	}
}

func decodeAs[T changerequest.Payload](data []byte) (changerequest.Payload, error) {
	var p T
	if err := unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// updatePersonJSON accepts the patch at the top level or nested under meta.
type updatePersonJSON struct {
	Patch json.RawMessage `json:"patch"`
	Meta  *struct {
		Patch json.RawMessage `json:"patch"`
	} `json:"meta"`
	Reason string `json:"reason"`
}

func decodeUpdatePerson(data []byte) (changerequest.Payload, error) {
	var raw updatePersonJSON
	if err := unmarshal(data, &raw); err != nil {
		return nil, err
	}

	patchJSON := raw.Patch
	if len(patchJSON) == 0 && raw.Meta != nil {
		patchJSON = raw.Meta.Patch
	}

	payload := changerequest.UpdatePersonPayload{Reason: raw.Reason}
	if len(patchJSON) == 0 || string(patchJSON) == "null" {
		payload.Patch = personnel.PersonPatch{}
		return payload, nil
	}

	patch, err := personnel.DecodePersonPatch(patchJSON)
	if err != nil {
		return nil, err
	}
	payload.Patch = patch
	return payload, nil
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse payload JSON: %w", err)
	}
	return nil
}

// describe flattens validator errors into one message keyed by JSON path.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" must be a valid email")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
