package personnel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERSON PATCH - Allow-listed field updates
// =============================================================================

type PersonField string

const (
	FieldServiceNo        PersonField = "serviceNo"
	FieldFirstName        PersonField = "firstName"
	FieldLastName         PersonField = "lastName"
	FieldMiddleName       PersonField = "middleName"
	FieldPersonalNumber   PersonField = "personalNumber"
	FieldBirthDate        PersonField = "birthDate"
	FieldGender           PersonField = "gender"
	FieldCity             PersonField = "city"
	FieldAddress          PersonField = "address"
	FieldPhone            PersonField = "phone"
	FieldPosition         PersonField = "position"
	FieldServiceStartDate PersonField = "serviceStartDate"
	FieldNotes            PersonField = "notes"
	FieldPhotoURL         PersonField = "photoUrl"
)

// PatchableFields is the allow-list. Anything else in a submitted patch is
// dropped before it is stored.
var PatchableFields = map[PersonField]bool{
	FieldServiceNo:        true,
	FieldFirstName:        true,
	FieldLastName:         true,
	FieldMiddleName:       true,
	FieldPersonalNumber:   true,
	FieldBirthDate:        true,
	FieldGender:           true,
	FieldCity:             true,
	FieldAddress:          true,
	FieldPhone:            true,
	FieldPosition:         true,
	FieldServiceStartDate: true,
	FieldNotes:            true,
	FieldPhotoURL:         true,
}

var requiredFields = map[PersonField]bool{
	FieldServiceNo: true,
	FieldFirstName: true,
	FieldLastName:  true,
}

var dateFields = map[PersonField]bool{
	FieldBirthDate:        true,
	FieldServiceStartDate: true,
}

// PersonPatch maps a field to its new value. A nil value clears the field;
// a field absent from the map is left untouched.
type PersonPatch map[PersonField]*string

// DecodePersonPatch parses a JSON object, keeping only allow-listed keys.
// Values must be strings or null.
func DecodePersonPatch(data []byte) (PersonPatch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, Wrap(CodeValidation, err, "patch must be a JSON object")
	}

	patch := make(PersonPatch)
	for key, value := range raw {
		field := PersonField(key)
		if !PatchableFields[field] {
			continue
		}
		if string(value) == "null" {
			patch[field] = nil
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return nil, Errorf(CodeValidation, "patch field %s must be a string or null", key)
		}
		patch[field] = &s
	}
	return patch, nil
}

// Sanitize drops fields outside the allow-list.
func (pp PersonPatch) Sanitize() PersonPatch {
	out := make(PersonPatch, len(pp))
	for field, value := range pp {
		if PatchableFields[field] {
			out[field] = value
		}
	}
	return out
}

// Validate checks every value before anything is written: required fields
// cannot be cleared or blanked and dates must parse.
func (pp PersonPatch) Validate() error {
	if len(pp) == 0 {
		return Errorf(CodeValidation, "patch is empty")
	}
	for field, value := range pp {
		if !PatchableFields[field] {
			return Errorf(CodeValidation, "field %s is not patchable", field)
		}
		if requiredFields[field] && (value == nil || strings.TrimSpace(*value) == "") {
			return Errorf(CodeValidation, "field %s cannot be cleared", field)
		}
		if dateFields[field] && value != nil {
			if _, err := time.Parse(DateLayout, *value); err != nil {
				return Errorf(CodeValidation, "field %s must be a date (YYYY-MM-DD)", field)
			}
		}
	}
	return nil
}

// Apply validates the patch and then writes it field by field into p.
// On a validation error p is left untouched.
func (pp PersonPatch) Apply(p *Person) error {
	if err := pp.Validate(); err != nil {
		return err
	}
	for field, value := range pp {
		if err := applyField(p, field, value); err != nil {
			return err
		}
	}
	return nil
}

func applyField(p *Person, field PersonField, value *string) error {
	switch field {
	case FieldServiceNo:
		p.ServiceNo = strings.TrimSpace(*value)
	case FieldFirstName:
		p.FirstName = strings.TrimSpace(*value)
	case FieldLastName:
		p.LastName = strings.TrimSpace(*value)
	case FieldMiddleName:
		p.MiddleName = cloneString(value)
	case FieldPersonalNumber:
		p.PersonalNumber = cloneString(value)
	case FieldBirthDate:
		p.BirthDate = parsePatchDate(value)
	case FieldGender:
		p.Gender = cloneString(value)
	case FieldCity:
		p.City = cloneString(value)
	case FieldAddress:
		p.Address = cloneString(value)
	case FieldPhone:
		p.Phone = cloneString(value)
	case FieldPosition:
		p.Position = cloneString(value)
	case FieldServiceStartDate:
		p.ServiceStartDate = parsePatchDate(value)
	case FieldNotes:
		p.Notes = cloneString(value)
	case FieldPhotoURL:
		p.PhotoURL = cloneString(value)
	default:
		return fmt.Errorf("unhandled patch field %s", field)
	}
	return nil
}

// parsePatchDate assumes Validate already accepted the value.
func parsePatchDate(value *string) *time.Time {
	if value == nil {
		return nil
	}
	t, _ := time.Parse(DateLayout, *value)
	return &t
}
