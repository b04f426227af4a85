// Package ui renders naxctl's terminal output with Lip Gloss and runs the
// interactive zone monitor on Bubble Tea.
//
// One-shot commands use a Printer:
//
//	p := ui.NewPrinter(nil)
//	p.PrintHeader("State bridge", "naxctl serve", ui.Param{Key: "Device", Value: host})
//	if err != nil {
//	    p.PrintError("Connect failed", err) // tips come from naxerr.Hint
//	}
//
// The monitor lists every zone with a volume bar, its source and AES67
// stream, and any speaker faults. Keys move the cursor and send commands
// to the selected zone; outcomes show on the status line:
//
//	err := ui.RunMonitor(ctx, client, "Lounge")
//
// Logging is silent unless NAX_LOG_LEVEL is set, so zap output does not
// tear the full-screen view.
package ui
