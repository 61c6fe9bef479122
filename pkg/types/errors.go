package types

import stderrors "errors"

var errShortRunId = stderrors.New("types: run id hex string is the wrong length")
