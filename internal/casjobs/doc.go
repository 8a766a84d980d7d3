/*
Package casjobs is a client for the SciServer CasJobs REST API.

# Client

Build a client from the environment configuration:

	client, err := casjobs.New(config.Load())
	if err != nil {
		return err
	}

Every call authenticates with the token returned by the client's TokenProvider and fails
with ErrNotLoggedIn, without touching the network, when there is none.

# Quick queries

	out, err := client.ExecuteQuery(ctx, "DR16", "select top 10 objid, ra, dec from PhotoObj", casjobs.FormatTable)
	table, err := out.Table()

ExecuteBatch runs several quick queries concurrently and keeps their order.

# Batch jobs

	id, err := client.SubmitJob(ctx, "DR16", "select objid into mydb.galaxies from Galaxy")
	desc, err := client.WaitForJob(ctx, id, 10*time.Second)

# Task names

Each request carries a task name for attribution on the server. Pass WithTaskName to
override the default for a single call.
*/
package casjobs
