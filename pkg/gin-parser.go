package pkg

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// requestValidator names fields after their json tags so problems read like
// the body the client sent.
var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseAndValidate binds the JSON body into dto and checks its validate tags.
func ParseAndValidate(c *gin.Context, dto any) error {
	if err := c.ShouldBindJSON(dto); err != nil {
		return err
	}
	return requestValidator.Struct(dto)
}

// RequestProblems flattens a ParseAndValidate error into one line per
// offending field. Binding errors come back as a single line.
func RequestProblems(err error) []string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		problems = append(problems, fmt.Sprintf("field %q failed on %s", fe.Field(), rule))
	}
	return problems
}
