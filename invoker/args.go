package invoker

import "fault-rpc/message"

// Args are the decoded call arguments. The typed accessors assume the value was
// declared with the matching Type and panic otherwise; a panic inside a method is
// reported to the caller as InvocationFailed.
type Args []any

func (a Args) Value(i int) any { return a[i] }

func (a Args) String(i int) string { return a[i].(string) }

func (a Args) Int(i int) int { return a[i].(int) }

func (a Args) Float(i int) float64 { return a[i].(float64) }

func (a Args) Bool(i int) bool { return a[i].(bool) }

// Parameter returns an argument declared as Any.
func (a Args) Parameter(i int) message.Parameter { return a[i].(message.Parameter) }
