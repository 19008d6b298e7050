// Package steps provides the built-in step kinds that flow files can use.
//
// Every kind is registered in an operations.OperationRegistry under a semantic version, and its
// parameters are decoded from the `with` block of a flow step.
package steps

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/benbjohnson/clock"
	"github.com/go-viper/mapstructure/v2"

	"github.com/smartcontractkit/operations-runner/operations"
)

// Kinds of the built-in steps.
const (
	KindCommand = "command"
	KindHTTP    = "http"
	KindWait    = "wait"
	KindLog     = "log"
)

// Options are the dependencies shared by the built-in steps.
type Options struct {
	HTTPClient *http.Client
	Clock      clock.Clock
}

// Option is a functional option for configuring the built-in steps.
type Option func(*Options)

// WithHTTPClient sets the client used by http steps.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = c
	}
}

// WithClock sets the clock used by wait steps.
func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// Register adds every built-in step kind to the registry.
func Register(reg *operations.OperationRegistry, opts ...Option) error {
	o := Options{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	defs := []struct {
		def     operations.Definition
		factory operations.StepFactory
	}{
		{
			def:     definition(KindCommand, "1.0.0", "Runs a process and captures its output"),
			factory: newCommandFactory(),
		},
		{
			def:     definition(KindHTTP, "1.0.0", "Sends an HTTP request and checks the response status"),
			factory: newHTTPFactory(o.HTTPClient),
		},
		{
			def:     definition(KindWait, "1.0.0", "Pauses the run for a fixed duration"),
			factory: newWaitFactory(o.Clock),
		},
		{
			def:     definition(KindLog, "1.0.0", "Writes a message to the run log"),
			factory: newLogFactory(),
		},
	}
	for _, d := range defs {
		if err := reg.Register(d.def, d.factory); err != nil {
			return err
		}
	}

	return nil
}

func definition(kind, version, description string) operations.Definition {
	return operations.Definition{
		Kind:        kind,
		Version:     semver.MustParse(version),
		Description: description,
	}
}

// decodeParams decodes the params of a flow step into out.
// Durations accept strings such as "1m30s" and unknown keys are rejected.
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}

	return nil
}
