package procflow

import (
	"context"
	"fmt"
	"maps"
)

// TypedAction adapts a typed function to an ActionFunc. It reads the
// variable in, asserts it to I (a nil variable becomes the zero I), and
// stores the result in out. An empty out discards the result.
//
//	procflow.New("pricing").
//	    Variables("order", "total").
//	    Start("start").
//	    Action("price", procflow.TypedAction("order", "total", priceOrder)).
//	    End("end")
func TypedAction[I, O any](in, out string, fn func(context.Context, I) (O, error)) ActionFunc {
	return func(ac ActionContext) error {
		var input I
		if v := ac.Get(in); v != nil {
			typed, ok := v.(I)
			if !ok {
				return fmt.Errorf("variable %q: expected %T, got %T", in, input, v)
			}
			input = typed
		}
		res, err := fn(ac.Context(), input)
		if err != nil {
			return err
		}
		if out != "" {
			ac.Set(out, res)
		}
		return nil
	}
}

// SetVariables returns an action that assigns every entry of vars.
func SetVariables(vars map[string]any) ActionFunc {
	vars = maps.Clone(vars)
	return func(ac ActionContext) error {
		for k, v := range vars {
			ac.Set(k, v)
		}
		return nil
	}
}
