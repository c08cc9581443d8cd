// Package config defines the format-agnostic runner configuration model and
// the Loader interface that fills it.
//
// Every block is optional. A Model returned by a Loader has had Defaults
// applied and has passed Validate, so consumers never see zero durations or
// an unknown store driver. The HCL implementation lives in internal/hcl.
package config
