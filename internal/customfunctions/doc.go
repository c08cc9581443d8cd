// Package customfunctions extracts custom-function metadata from a snippet's
// script.
//
// A top-level function declaration is a candidate only when its documentation
// block carries the @customfunction marker. Functions without the marker are
// not reported at all. Candidates whose signature cannot be registered are
// still reported, with an Error status and a reason, so an author can see why
// a function did not register.
//
// Recognized tags:
//
//	@customfunction   marks the function for registration
//	@streaming        stream = true; the last parameter must be a
//	                  CustomFunctions.StreamingInvocation<T>
//	@volatile         volatile = true
//	@sync             sync = true (the default for non-async functions)
//	@noncancelable    cancelable = false
//	@param name text  parameter description
package customfunctions
