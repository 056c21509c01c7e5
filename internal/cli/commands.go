package cli

// Commands is the command tree of the inbox tool.
type Commands struct {
	Globals

	Process ProcessCmd `cmd:"" help:"Run .eml files through the import pipeline."`
	Review  ReviewCmd  `cmd:"" help:"Inspect and decide review queue items."`
	Cleanup CleanupCmd `cmd:"" help:"Remove old review items and expired lookup cache entries."`
}
