package service

import (
	goerrors "errors"

	"github.com/go-playground/validator/v10"

	"github.com/getodyssey/odyssey-companion-go/pkg/codec"
)

var validate = validator.New()

func init() {
	// Register the custom validation function
	err := validate.RegisterValidation("base58pubkey", isBase58Pubkey)
	if err != nil {
		panic(err)
	}
}

func validateRequest(v interface{}) error {
	err := validate.Struct(v)
	if err != nil {
		errs := err.(validator.ValidationErrors)
		return goerrors.Join(errs)
	}
	return nil
}

// Custom validation function to check if a string is a base58 32-byte key
func isBase58Pubkey(fl validator.FieldLevel) bool {
	_, err := codec.DecodePublicKey(fl.Field().String())
	return err == nil
}
