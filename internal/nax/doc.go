// Package nax is the consumer API for a Crestron NAX audio device.
//
// A Client owns the state mirror, the command dispatcher and, while
// connected, a session manager for one device:
//
//	cfg := nax.DefaultConfig()
//	cfg.Host, cfg.Password = "192.168.1.50", pw
//	client, err := nax.New(cfg)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	zone := client.Zone("1")
//	if _, err := zone.SetVolume(ctx, 55); err != nil {
//	    return err
//	}
//
// Paths can be given in full ("/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume")
// or as shorthands ("zone/1/volume"); see protocol.ResolvePath.
//
// Each Client is independent. Run one per device.
package nax
