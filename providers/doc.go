// Package providers groups the built-in SMS provider adapters. Each vendor
// lives in its own subpackage (smshub, ringotp, devkit) behind the shared
// core.ProviderAdapter contract; the devkit package also ships the
// conformance suite new adapters are expected to pass.
package providers
