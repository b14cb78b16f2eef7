package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/example/clinic-finance/internal/fault"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decode parses a JSON request body into dst and runs its validation
// tags. Unknown fields are rejected.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fault.Wrap(fault.Validation, err, "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		return fault.Wrap(fault.Validation, err, "request failed validation")
	}
	return nil
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type accountRequest struct {
	Code    string `json:"code" validate:"required,max=50"`
	Name    string `json:"name" validate:"required,max=255"`
	Phone   string `json:"phone" validate:"max=32"`
	Email   string `json:"email" validate:"omitempty,email"`
	Address string `json:"address" validate:"max=500"`
	Notes   string `json:"notes" validate:"max=2000"`
	Kind    string `json:"kind" validate:"max=50"`
	Subkind string `json:"subkind" validate:"max=50"`
}

type bindDoctorRequest struct {
	DoctorID   string `json:"doctor_id" validate:"required,max=64"`
	DoctorName string `json:"doctor_name" validate:"required,max=255"`
	BranchID   string `json:"branch_id" validate:"required,max=64"`
	BranchName string `json:"branch_name" validate:"max=255"`
}

type entryRequest struct {
	Date        string  `json:"date" validate:"required,datetime=2006-01-02"`
	Description string  `json:"description" validate:"max=500"`
	Credit      float64 `json:"credit" validate:"gte=0"`
	Debit       float64 `json:"debit" validate:"gte=0"`
	CreatedBy   string  `json:"created_by" validate:"max=64"`
}

type replaceRatesRequest struct {
	Rates []rateRow `json:"rates" validate:"required,min=1,dive"`
}

type rateRow struct {
	Installments int     `json:"installments" validate:"min=2"`
	Rate         float64 `json:"rate" validate:"gte=0,lte=100"`
}

type addCategoryRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type createUserRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=64"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	DisplayName string `json:"display_name" validate:"max=255"`
	Role        string `json:"role" validate:"required,oneof=admin staff"`
}
