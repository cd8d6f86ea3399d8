// Package cmd implements the command-line interface of dkvadmin. It provides
// a hierarchical command structure for running the admin service and the node
// agents and for managing plans.
//
// The package is organized into several subpackages:
//
//   - serve: starts the admin service that executes approved plans
//   - agent: starts the node agent of a storage node
//   - plan: creates, inspects, approves, runs, interrupts and cancels plans
//   - topology: registers storage nodes and replication groups
//   - locks: shows the resources locked by running plans
//   - util: shared configuration and wiring (internal use)
//
// All flags can also be set as environment variables DKVADMIN_<FLAG>
// (e.g. DKVADMIN_STORE_DSN), .env and .env.local files are read on start.
//
// See dkvadmin -help for a list of all commands.
package cmd
