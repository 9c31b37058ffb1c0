package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// ModuleName is the root namespace every broker logger hangs off.
const ModuleName = "smsbroker"

// ComponentName qualifies a broker component under the module namespace:
// "webhooks" becomes "smsbroker.webhooks". The bare module name, an already
// qualified name, and the empty string all resolve to themselves so existing
// call sites keep their logger identity.
func ComponentName(component string) string {
	component = strings.TrimSpace(component)
	if component == "" || component == ModuleName {
		return ModuleName
	}
	if strings.HasPrefix(component, ModuleName+".") {
		return component
	}
	return ModuleName + "." + component
}

// Resolve uses deterministic precedence provider > logger > nop, with the
// component qualified under the broker namespace.
func Resolve(component string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(ComponentName(component), provider, logger)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the component logger then returns equivalent go-job
// adapters, for the sweep and purge jobs that run on the go-job runtime.
func ResolveForJob(
	component string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(component, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
