package http

import (
	"errors"

	bgerr "github.com/fluxcd/ecs-bluegreen/pkg/errors"
)

var ErrorUnauthorized = &bgerr.Error{
	Type: bgerr.User,
	Help: `The request failed authentication.

This most likely means you have a missing or incorrect token. Supply
one by setting the environment variable BLUEGREEN_TOKEN, or with the
--token argument to bluegreenctl.
`,
	Err: errors.New("request failed authentication"),
}

func MakeAPINotFound(path string) *bgerr.Error {
	return &bgerr.Error{
		Type: bgerr.Missing,
		Help: `The API endpoint requested is not supported by this daemon.

This usually means bluegreenctl and bluegreend are different versions.
Compare the output of 'bluegreenctl version' with the daemon's, and
include this path if you report it:

    ` + path + `
`,
		Err: errors.New("API endpoint not found"),
	}
}
