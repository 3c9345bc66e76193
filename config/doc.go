// Package config loads the acmistream service configuration.
//
// Configuration is built in layers, each overriding the one before:
//
//  1. Default() values
//  2. File layers in the order they were added (.json, .yaml or .yml),
//     deep-merged so a layer only needs the keys it changes
//  3. ACMISTREAM_* environment variables
//
// and then validated:
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/range.json")
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Durations may be written as Go duration strings ("5s", "2500ms") in either
// file format.
//
// # Environment Variable Overrides
//
//	export ACMISTREAM_TACVIEW_HOST=10.0.0.5
//	export ACMISTREAM_TACVIEW_PASSWORD=secret
//	export ACMISTREAM_STORAGE_DRIVER=postgres
//	export ACMISTREAM_STORAGE_DSN="postgres://acmi@db/acmi?sslmode=disable"
//	export ACMISTREAM_NATS_URLS="nats://a:4222,nats://b:4222"
//
// The resulting Config is not modified after startup. Components receive the
// section they need by value.
package config
