package validate

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type sampleItem struct {
	Code string `json:"code" validate:"sample_code"`
}

type sampleRequest struct {
	Name  string       `json:"name" validate:"notblank,max=10"`
	Email string       `json:"email" validate:"omitempty,email"`
	Items []sampleItem `json:"items" validate:"required,min=1,dive"`
}

func init() {
	RegisterRule("sample_code", "{0} must be X or Y", func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		return v == "X" || v == "Y"
	})
}

func TestStructValid(t *testing.T) {
	errs := Struct(sampleRequest{Name: "Ana", Items: []sampleItem{{Code: "X"}}})
	if errs != nil {
		t.Fatalf("expected no errors, got %+v", errs)
	}
}

func TestStructReportsJSONFieldPaths(t *testing.T) {
	errs := Struct(sampleRequest{Name: "   ", Email: "nope", Items: []sampleItem{{Code: "Z"}}})
	if len(errs) != 3 {
		t.Fatalf("expected 3 field errors, got %+v", errs)
	}

	got := map[string]string{}
	for _, fe := range errs {
		got[fe.Field] = fe.Message
	}
	if got["name"] != "name must not be blank" {
		t.Fatalf("unexpected name message: %q", got["name"])
	}
	if _, ok := got["email"]; !ok {
		t.Fatalf("expected email error, got %+v", got)
	}
	if got["items[0].code"] != "code must be X or Y" {
		t.Fatalf("unexpected custom rule message: %+v", got)
	}
}

func TestStructRequiredMessage(t *testing.T) {
	errs := Struct(sampleRequest{Name: "Ana"})
	if len(errs) != 1 || errs[0].Field != "items" || errs[0].Message != "items is required" {
		t.Fatalf("unexpected errors: %+v", errs)
	}
}
