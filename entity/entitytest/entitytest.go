// Package entitytest provides sample entities used in tests across the
// module. Customer is an aggregate root with calculated properties and an
// order list; Order is an editable child.
package entitytest

import (
	"context"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/entitykit/entitykit/entity"
	"github.com/entitykit/entitykit/props"
	"github.com/entitykit/entitykit/rules"
)

var ruleVersion = semver.MustParse("1.0.0")

// Customer is a sample aggregate root.
type Customer struct {
	entity.EditBase

	FirstName props.Ref[string]
	LastName  props.Ref[string]
	FullName  props.Ref[string]
	Email     props.Ref[string]
	Age       props.Ref[int]
	Orders    props.Ref[*entity.List[*Order]]
}

// NewCustomer constructs a blank Customer with its rules attached.
func NewCustomer(opts ...entity.Option) (*Customer, error) {
	c := &Customer{}
	c.Init(c, opts...)

	c.FirstName = entity.Define(c, "FirstName", "")
	c.LastName = entity.Define(c, "LastName", "")
	c.FullName = entity.Define(c, "FullName", "")
	c.Email = entity.Define(c, "Email", "")
	c.Age = entity.Define(c, "Age", 0)
	c.Orders = entity.Define(c, "Orders", entity.NewList[*Order](func() *Order {
		o, err := NewOrder()
		if err != nil {
			panic(err)
		}

		return o
	}))

	err := c.AddRules(
		rules.Required("FirstName"),
		rules.Required("LastName"),
		rules.MaxLength("FirstName", 50),
		rules.Pattern("Email", `^[^@\s]+@[^@\s]+$`),
		rules.Range("Age", 0, 150),
		fullNameRule(),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// EmailVerifier checks whether an email address is deliverable. A returned
// error is reported as a validation failure on Email.
type EmailVerifier func(ctx context.Context, email string) error

// EmailVerification returns an async rule that checks Email with verify.
// Attach it with AddRules; writes to Email then report busy until the check
// completes. Empty strings are ignored so that Required and Pattern can own
// those cases.
func EmailVerification(verify EmailVerifier) rules.Rule {
	return rules.New("verify:email", ruleVersion, "checks that the customer email is deliverable",
		func(ctx context.Context, c *Customer) (rules.Result, error) {
			email := c.Email.Get()
			if email == "" {
				return rules.OK(), nil
			}

			if err := verify(ctx, email); err != nil {
				if ctx.Err() != nil {
					return rules.Result{}, ctx.Err()
				}

				return rules.Fail("Email", err.Error()), nil
			}

			return rules.OK(), nil
		},
		[]string{"Email"},
		rules.WithAsync(),
	)
}

// fullNameRule derives FullName from the name parts.
func fullNameRule() rules.Rule {
	return rules.New("calc:fullname", ruleVersion, "derives the customer display name",
		func(ctx context.Context, c *Customer) (rules.Result, error) {
			full := strings.TrimSpace(c.FirstName.Get() + " " + c.LastName.Get())
			if err := c.FullName.Set(ctx, full); err != nil {
				return rules.Result{}, err
			}

			return rules.OK(), nil
		},
		[]string{"FirstName", "LastName"},
	)
}

// Order is a sample editable child entity.
type Order struct {
	entity.EditBase

	Number    props.Ref[string]
	Quantity  props.Ref[int]
	UnitPrice props.Ref[float64]
	Total     props.Ref[float64]
}

// NewOrder constructs a blank Order with its rules attached.
func NewOrder(opts ...entity.Option) (*Order, error) {
	o := &Order{}
	o.Init(o, opts...)

	o.Number = entity.Define(o, "Number", "")
	o.Quantity = entity.Define(o, "Quantity", 0)
	o.UnitPrice = entity.Define(o, "UnitPrice", 0.0)
	o.Total = entity.Define(o, "Total", 0.0)

	err := o.AddRules(
		rules.Required("Number"),
		rules.Range("Quantity", 1, 1_000),
		totalRule(),
	)
	if err != nil {
		return nil, err
	}

	return o, nil
}

// totalRule keeps Total in step with quantity and price.
func totalRule() rules.Rule {
	return rules.New("calc:total", ruleVersion, "derives the order total",
		func(ctx context.Context, o *Order) (rules.Result, error) {
			total := float64(o.Quantity.Get()) * o.UnitPrice.Get()
			if err := o.Total.Set(ctx, total); err != nil {
				return rules.Result{}, err
			}

			return rules.OK(), nil
		},
		[]string{"Quantity", "UnitPrice"},
	)
}
