package assert

import "fmt"

func Assert(cond bool, fmtAndArgs ...any) {
	if cond {
		return
	}

	if len(fmtAndArgs) == 0 {
		panic("assertion failed")
	}

	format, ok := fmtAndArgs[0].(string)
	if !ok {
		panic(fmt.Sprint(append([]any{"assertion failed: "}, fmtAndArgs...)...))
	}
	panic("assertion failed: " + fmt.Sprintf(format, fmtAndArgs[1:]...))
}

func NoError(err error) {
	if err != nil {
		panic(fmt.Sprintf("unexpected error: %v", err))
	}
}

// Cast panics when v is not a T.
func Cast[T any](v any) T {
	r, ok := v.(T)
	if !ok {
		var zero T
		panic(fmt.Sprintf("invalid cast: expected %T, got %T", zero, v))
	}
	return r
}
