package routes

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateAlias checks that an alias can form a working address on the
// domain. Besides being a valid local part, an alias must not contain "+",
// which is reserved as the pseudo-address separator, or replies through the
// alias could never be decoded again.
func ValidateAlias(alias, domain string) error {
	if alias == "" {
		return fmt.Errorf("alias must not be empty")
	}
	if strings.ContainsAny(alias, " @+") {
		return fmt.Errorf("invalid alias %q: spaces, '@' and '+' are not allowed", alias)
	}
	if err := validate.Var(alias+"@"+domain, "email"); err != nil {
		return fmt.Errorf("invalid alias %q for domain %q", alias, domain)
	}
	return nil
}

// ValidateAddress checks that addr is a plausible bare email address.
func ValidateAddress(addr string) error {
	if err := validate.Var(addr, "email"); err != nil {
		return fmt.Errorf("invalid email address %q", addr)
	}
	return nil
}
