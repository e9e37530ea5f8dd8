package sqlassets

import _ "embed"

// DappsSQL creates the dapp resource table. {{table}} and {{index}} are substituted at bootstrap.
//
//go:embed schema/dapps.sql
var DappsSQL string

// LapsedUsersSQL creates the lapsed-user ledger. {{table}} is substituted at bootstrap.
//
//go:embed schema/lapsed_users.sql
var LapsedUsersSQL string
