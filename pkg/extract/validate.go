package extract

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Validator checks extracted invoices against configured boolean rules.
// A failed rule is recorded on the invoice, not treated as a fatal error.
type Validator struct {
	rules    []string
	programs []*vm.Program
}

// NewValidator compiles the given rule expressions. Each rule is evaluated
// with the InvoiceData fields in scope, e.g. "Total == Amount + Tax" or
// "Number != ''".
func NewValidator(rules []string) (*Validator, error) {
	v := &Validator{rules: rules}

	for _, rule := range rules {
		program, err := expr.Compile(rule, expr.Env(InvoiceData{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %q: %w", rule, err)
		}
		v.programs = append(v.programs, program)
	}

	return v, nil
}

// Validate evaluates all rules against the invoice and appends the text of
// every failed rule to its Violations.
func (v *Validator) Validate(data *InvoiceData) error {
	for i, program := range v.programs {
		out, err := expr.Run(program, *data)
		if err != nil {
			return fmt.Errorf("failed to evaluate rule %q: %w", v.rules[i], err)
		}
		if ok, _ := out.(bool); !ok {
			data.Violations = append(data.Violations, v.rules[i])
		}
	}
	return nil
}
