// Package failfast turns programming errors into immediate panics.
//
// Protocol violations and nil collaborators indicate that an invariant has
// already been broken; continuing would process untrustworthy state. These
// helpers surface such conditions loudly instead of absorbing them.
package failfast

import (
	"fmt"
	"reflect"
	"runtime/debug"
)

// Err panics if err is non-nil, attaching a stack trace.
func Err(err error) {
	if err != nil {
		panic(fmt.Errorf("fail-fast: %w\n%s", err, debug.Stack()))
	}
}

// If panics if the condition is false.
func If(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Errorf("fail-fast: "+format, args...))
	}
}

// NotNil panics if v is nil, including typed nil pointers, interfaces and
// functions hiding behind a non-nil interface value.
func NotNil(v interface{}, name string) {
	if v == nil {
		panic(fmt.Errorf("fail-fast: %s is nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Errorf("fail-fast: %s is nil", name))
		}
	}
}
