package expensly

import (
	"fmt"

	pkgenv "github.com/expensly/expensly-go/pkg/env"
	pkghttp "github.com/expensly/expensly-go/pkg/http"
	pkglog "github.com/expensly/expensly-go/pkg/log"
	pkgstrings "github.com/expensly/expensly-go/pkg/strings"
)

type ClientFactory struct {
	logger pkglog.Logger
}

func NewClientFactory(logger pkglog.Logger) *ClientFactory {
	return &ClientFactory{logger: logger}
}

// MustInitClient builds a client for the Expensly API, reading the base URL
// from EXPENSLY_API_URL.
func (f *ClientFactory) MustInitClient(extraOpts ...pkghttp.ClientOption) pkghttp.Client {
	hostEnv := fmt.Sprintf("%s_API_URL", pkgstrings.ToScreamingSnakeCase(string(DestinationExpenslyAPI)))
	host := pkgenv.Must(pkgenv.ParseString(hostEnv))

	opts := append([]pkghttp.ClientOption{
		pkghttp.WithRequestLogging(f.logger, pkglog.LevelDebug, pkglog.LevelWarn),
	}, extraOpts...)

	factory := pkghttp.NewClientFactory(opts...)
	return factory.InitClient(DestinationExpenslyAPI, host)
}
