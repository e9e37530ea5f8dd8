package root

import (
	"github.com/zenGate-Global/dappbot-ops/apps/cli/cmd/bootstrap"
	"github.com/zenGate-Global/dappbot-ops/apps/cli/cmd/bucket"
	"github.com/zenGate-Global/dappbot-ops/apps/cli/cmd/dapps"
	"github.com/zenGate-Global/dappbot-ops/apps/cli/cmd/ops"
)

func init() {
	Root().AddCommand(ops.Commands()...)
	Root().AddCommand(bucket.Command())
	Root().AddCommand(dapps.Command())
	Root().AddCommand(bootstrap.Command())
}
