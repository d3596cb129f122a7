package app

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate reads `binding` tags, the same tags gin binds HTTP bodies with
var validate = func() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

type ValidError struct {
	Key     string
	Message string
}

type ValidErrors []*ValidError

func (v *ValidError) Error() string {
	return v.Message
}

func (v ValidErrors) Error() string {
	return strings.Join(v.Errors(), ",")
}

func (v ValidErrors) Errors() []string {
	var errs []string
	for _, err := range v {
		errs = append(errs, err.Error())
	}
	return errs
}

// Validate runs the binding rules of obj
// Validate 校验 obj 的 binding 规则
func Validate(obj any) ValidErrors {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}
	var errs ValidErrors
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrs {
			errs = append(errs, &ValidError{
				Key:     fe.Field(),
				Message: fe.Field() + " failed on " + fe.Tag(),
			})
		}
		return errs
	}
	return ValidErrors{{Key: "body", Message: err.Error()}}
}
