// internal/service/order/infrastructure/adapter/admission_cel_adapter.go
package adapter

import (
	"context"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"ordersaga/internal/service/order/domain"
)

// CELAdmissionPolicy 用 CEL 表达式做下单准入，例如 "totalPrice <= 10000.0 && itemCount <= 50"。
// 可用变量：customerId、itemCount、totalQuantity (int) 与 totalPrice (double)。
type CELAdmissionPolicy struct {
	expr    string
	program cel.Program
}

func NewCELAdmissionPolicy(expr string) (*CELAdmissionPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("customerId", cel.IntType),
		cel.Variable("itemCount", cel.IntType),
		cel.Variable("totalQuantity", cel.IntType),
		cel.Variable("totalPrice", cel.DoubleType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile admission rule %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("admission rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build cel program")
	}
	return &CELAdmissionPolicy{expr: expr, program: program}, nil
}

func (p *CELAdmissionPolicy) Admit(ctx context.Context, order *domain.Order) (bool, error) {
	totalPrice, _ := order.TotalPrice().Float64()
	out, _, err := p.program.ContextEval(ctx, map[string]interface{}{
		"customerId":    order.CustomerID,
		"itemCount":     int64(len(order.Items)),
		"totalQuantity": order.TotalQuantity(),
		"totalPrice":    totalPrice,
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluate admission rule %q", p.expr)
	}
	admitted, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("admission rule %q returned %T", p.expr, out.Value())
	}
	return admitted, nil
}
