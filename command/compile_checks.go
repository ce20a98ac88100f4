package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[InitializeFleetMessage]     = (*InitializeFleetCommand)(nil)
	_ gocmd.Commander[InitializeStoreMessage]     = (*InitializeStoreCommand)(nil)
	_ gocmd.Commander[DeactivateStoreMessage]     = (*DeactivateStoreCommand)(nil)
	_ gocmd.Commander[UpdateConfigurationMessage] = (*UpdateConfigurationCommand)(nil)
	_ gocmd.Commander[RouteContactMessage]        = (*RouteContactCommand)(nil)
	_ gocmd.Commander[PruneMetricsMessage]        = (*PruneMetricsCommand)(nil)
)
