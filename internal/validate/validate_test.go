package validate

import "testing"

type sample struct {
	Name string `validate:"required"`
	Port int    `validate:"min=1,max=65535"`
}

func TestStructPassesValidInput(t *testing.T) {
	s := sample{Name: "tenant-a", Port: 8080}
	if err := Struct(s); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestStructReportsMissingRequiredField(t *testing.T) {
	s := sample{Port: 8080}
	err := Struct(s)
	if err == nil {
		t.Fatal("expected an error for missing required field")
	}
	if _, ok := err.(*Error); !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
}

func TestStructReportsOutOfRangeField(t *testing.T) {
	s := sample{Name: "tenant-a", Port: 70000}
	err := Struct(s)
	if err == nil {
		t.Fatal("expected an error for out-of-range port")
	}
}

func TestErrorMessageListsFailedFields(t *testing.T) {
	s := sample{}
	err := Struct(s)
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Error() == "" {
		t.Error("expected a non-empty error message")
	}
}
