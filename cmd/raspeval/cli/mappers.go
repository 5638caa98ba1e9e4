package cli

import (
	"reflect"

	"github.com/alecthomas/kong"
)

// addressMapper creates a Kong mapper for Address.
func addressMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("address", &s); err != nil {
			return err
		}
		a, err := ParseAddress(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(a))
		return nil
	}
}

// dbPathMapper creates a Kong mapper for DBPath.
func dbPathMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("db-path", &s); err != nil {
			return err
		}
		p, err := ParseDBPath(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(p))
		return nil
	}
}
