package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type reviewPayload struct {
	Author string `json:"author" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	Rating int    `json:"rating" validate:"required,gte=1,lte=5"`
}

func decodeReview(body map[string]interface{}) error {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/reviews", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	var payload reviewPayload
	return DecodeAndValidate(req, &payload)
}

func TestProperty_RequiredFieldValidationWorks(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("payloads pass only when every required field is present", prop.ForAll(
		func(withAuthor, withEmail, withRating bool) bool {
			body := make(map[string]interface{})
			if withAuthor {
				body["author"] = "Dana Reyes"
			}
			if withEmail {
				body["email"] = "dana@example.com"
			}
			if withRating {
				body["rating"] = 4
			}

			err := decodeReview(body)

			if withAuthor && withEmail && withRating {
				return err == nil
			}
			return err != nil
		},
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_ValidationErrorsAreFormatted(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("formatted errors name the offending field", prop.ForAll(
		func(rating int) bool {
			err := decodeReview(map[string]interface{}{
				"author": "Dana Reyes",
				"email":  "not-an-email",
				"rating": rating,
			})
			if err == nil {
				return false
			}

			validationErrors := FormatValidationErrors(err)
			if len(validationErrors) == 0 {
				return false
			}
			for _, ve := range validationErrors {
				if ve.Field == "" || ve.Message == "" {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_ValidRequestsPassValidation(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("well-formed payloads decode without error", prop.ForAll(
		func(author string, rating int) bool {
			err := decodeReview(map[string]interface{}{
				"author": author,
				"email":  "customer@example.com",
				"rating": rating,
			})
			return err == nil
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_NumericRangeValidation(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ratings outside 1..5 are rejected", prop.ForAll(
		func(rating int) bool {
			err := decodeReview(map[string]interface{}{
				"author": "Dana Reyes",
				"email":  "dana@example.com",
				"rating": rating,
			})

			if rating >= 1 && rating <= 5 {
				return err == nil
			}
			return err != nil
		},
		gen.IntRange(-10, 20),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
